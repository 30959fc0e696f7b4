// Package httpapi exposes the relay over HTTP alongside inspection and
// streaming endpoints.
//
// Routes:
//
//	GET    /relay            control word from the body, or ?cmd= when the body is empty
//	POST   /relay            capture or forward the body
//	GET    /state            engine snapshot
//	DELETE /state            reset the engine
//	GET    /health           server health
//	GET    /metrics          Prometheus text exposition
//	GET    /events           websocket event stream (?filter=<expr>)
//	GET    /events/history   recent events (?limit=, ?since=)
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/logging"
	"github.com/getmockd/relayd/pkg/metrics"
	"github.com/getmockd/relayd/pkg/protocol"
	"github.com/getmockd/relayd/pkg/relay"
)

// DefaultAddr is the default HTTP listen address.
const DefaultAddr = ":8080"

var _ protocol.StandaloneServer = (*Server)(nil)

// Server is the HTTP API.
type Server struct {
	engine   *relay.Engine
	addr     string
	log      *slog.Logger
	hub      *events.Hub
	history  *events.History
	metrics  *metrics.Registry
	registry *protocol.Registry
	handler  http.Handler

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHub enables the /events websocket stream.
func WithHub(h *events.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithHistory enables /events/history.
func WithHistory(h *events.History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics enables /metrics for the given registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) { s.metrics = r }
}

// WithHealthRegistry makes /health report every handler in r.
func WithHealthRegistry(r *protocol.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// NewServer creates an HTTP API for engine listening on addr.
func NewServer(engine *relay.Engine, addr string, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		engine: engine,
		addr:   addr,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.withMiddleware(mux)
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /relay", s.handleRelayGet)
	mux.HandleFunc("POST /relay", s.handleRelayPost)
	mux.HandleFunc("/relay", s.handleRelayMethodNotAllowed)
	mux.HandleFunc("POST /forward", s.handleForward)

	mux.HandleFunc("GET /state", s.handleGetState)
	mux.HandleFunc("DELETE /state", s.handleResetState)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/history", s.handleEventHistory)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return protocol.ErrAlreadyRunning
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP API server error", "error", err)
		}
	}()

	s.server = srv
	s.listener = l
	s.log.Info("HTTP API started", "addr", l.Addr().String())
	return nil
}

// Stop gracefully shuts the server down, waiting at most timeout.
func (s *Server) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	srv := s.server
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("http api shutdown: %w", err)
	}
	s.log.Info("HTTP API stopped")
	return nil
}

// IsRunning reports whether the server is listening.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server != nil
}

// Address returns the bound address, or "" when not running.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Metadata implements protocol.Handler.
func (s *Server) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:            "http-api",
		Name:          "HTTP API",
		Protocol:      protocol.ProtocolHTTP,
		TransportType: protocol.TransportHTTP1,
	}
}

// Health implements protocol.Handler.
func (s *Server) Health(ctx context.Context) protocol.HealthStatus {
	if !s.IsRunning() {
		return protocol.Unhealthy("not listening")
	}
	return protocol.Healthy(map[string]string{"address": s.Address()})
}
