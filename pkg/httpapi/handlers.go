package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/httputil"
	"github.com/getmockd/relayd/pkg/protocol"
	"github.com/getmockd/relayd/pkg/relay"
)

// maxBodySize bounds how much of a request body is read. Anything larger
// than the relay slot is rejected by the engine, so this only needs to be
// big enough to tell "too large" apart from "fits".
const maxBodySize = 4096

func (s *Server) handleRelayGet(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		body = []byte(r.URL.Query().Get("cmd"))
	}

	resp, err := s.engine.HandleGet(r.Context(), body)
	writeRelayResponse(w, resp, err)
}

func (s *Server) handleRelayPost(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := s.engine.HandlePost(r.Context(), body)
	writeRelayResponse(w, resp, err)
}

// handleForward sends the body straight to the backend, leaving the arm
// flag and the stored request alone.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := s.engine.Forward(r.Context(), body)
	writeRelayResponse(w, resp, err)
}

func (s *Server) handleRelayMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteMethodNotAllowed(w, http.MethodGet, http.MethodPost)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, s.engine.State())
}

func (s *Server) handleResetState(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	s.log.Info("relay state reset via API", "remote", r.RemoteAddr)
	httputil.WriteNoContent(w)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  protocol.HealthState             `json:"status"`
	Servers map[string]protocol.HealthStatus `json:"servers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: protocol.HealthHealthy}
	if s.registry != nil {
		resp.Servers = s.registry.HealthAll(r.Context())
		for _, h := range resp.Servers {
			if h.Status != protocol.HealthHealthy {
				resp.Status = protocol.HealthDegraded
			}
		}
	}

	status := http.StatusOK
	if resp.Status != protocol.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		httputil.WriteNotFound(w, "metrics_disabled", "metrics are not enabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		httputil.WriteNotFound(w, "events_disabled", "event streaming is not enabled")
		return
	}
	s.hub.ServeHTTP(w, r)
}

// HistoryResponse is the body of GET /events/history.
type HistoryResponse struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.WriteNotFound(w, "history_disabled", "event history is not enabled")
		return
	}

	q := r.URL.Query()
	var list []events.Event
	if v := q.Get("since"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid_since", "since must be a sequence number")
			return
		}
		list = s.history.Since(seq)
	} else {
		list = s.history.Recent(0)
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			httputil.WriteBadRequest(w, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	}

	if list == nil {
		list = []events.Event{}
	}
	httputil.WriteOK(w, HistoryResponse{Events: list, Count: len(list)})
}

// readBody reads the request body up to maxBodySize. A larger body gets a
// 413 and ok is false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return nil, false
		}
		httputil.WriteBadRequest(w, "invalid_body", err.Error())
		return nil, false
	}
	return body, true
}

func writeRelayResponse(w http.ResponseWriter, resp relay.Response, err error) {
	if err != nil {
		status, code := errorStatus(err)
		httputil.WriteError(w, status, code, err.Error())
		return
	}
	if resp.Stored {
		httputil.WriteText(w, http.StatusNoContent, nil)
		return
	}
	httputil.WriteText(w, http.StatusOK, resp.Payload)
}

// errorStatus maps relay errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, relay.ErrNothingStored):
		return http.StatusNotFound, "nothing_stored"
	case errors.Is(err, relay.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, relay.ErrReplyTooLarge):
		return http.StatusBadGateway, "reply_too_large"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
