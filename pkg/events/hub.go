package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/getmockd/relayd/pkg/logging"
	"github.com/getmockd/relayd/pkg/metrics"
)

// DefaultClientBuffer is the per-subscriber queue length of a Hub.
const DefaultClientBuffer = 64

const writeTimeout = 5 * time.Second

// Hub streams events to websocket subscribers. Each subscriber has a
// bounded queue; events for a subscriber that falls behind are dropped.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	ch     chan Event
	filter *Filter
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:     log,
		buffer:  buffer,
		clients: make(map[*subscriber]struct{}),
	}
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Write implements Sink.
func (h *Hub) Write(e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.clients {
		if ok, err := s.filter.Match(e); err != nil || !ok {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.RecordDrop(h.Name())
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for s := range h.clients {
		close(s.ch)
		delete(h.clients, s)
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe(f *Filter) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	s := &subscriber{ch: make(chan Event, h.buffer), filter: f}
	h.clients[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events as JSON
// text messages. The optional "filter" query parameter is compiled with
// CompileFilter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := CompileFilter(r.URL.Query().Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := h.subscribe(filter)
	if sub == nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unsubscribe(sub)

	h.log.Debug("event subscriber connected", "remote", r.RemoteAddr, "filter", filter.String())

	// Only control frames are expected from subscribers.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			data, err := e.JSON()
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("event subscriber write failed", "error", err)
				return
			}
		}
	}
}
