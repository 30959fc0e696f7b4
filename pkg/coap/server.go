package coap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpserver "github.com/plgd-dev/go-coap/v3/udp/server"

	"github.com/getmockd/relayd/pkg/logging"
	"github.com/getmockd/relayd/pkg/protocol"
)

// Defaults for both servers.
const (
	DefaultPath = "/test"
	DefaultAddr = ":5683"
)

// resourceServer serves one handler at one path over UDP.
type resourceServer struct {
	id      string
	name    string
	addr    string
	path    string
	handler mux.HandlerFunc

	mu       sync.RWMutex
	log      *slog.Logger
	server   *udpserver.Server
	listener *coapnet.UDPConn
	done     chan struct{}
}

func newResourceServer(id, name, addr, path string) *resourceServer {
	if addr == "" {
		addr = DefaultAddr
	}
	if path == "" {
		path = DefaultPath
	}
	return &resourceServer{id: id, name: name, addr: addr, path: path, log: logging.Nop()}
}

// SetLogger sets the operational logger.
func (s *resourceServer) SetLogger(log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log != nil {
		s.log = log
	} else {
		s.log = logging.Nop()
	}
}

func (s *resourceServer) logger() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

// Path returns the resource path.
func (s *resourceServer) Path() string { return s.path }

// Start binds the UDP socket and serves in the background.
func (s *resourceServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return protocol.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	router := mux.NewRouter()
	if err := router.Handle(s.path, s.handler); err != nil {
		return fmt.Errorf("mounting %s: %w", s.path, err)
	}

	l, err := coapnet.NewListenUDP("udp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	srv := udp.NewServer(options.WithMux(router))
	done := make(chan struct{})
	log := s.log
	go func() {
		defer close(done)
		if err := srv.Serve(l); err != nil {
			log.Error("CoAP server error", "error", err)
		}
	}()

	s.server = srv
	s.listener = l
	s.done = done
	s.log.Info("CoAP server started", "id", s.id, "addr", l.LocalAddr().String(), "path", s.path)
	return nil
}

// Stop stops the server and waits for the serve loop to exit.
func (s *resourceServer) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	srv, l, done := s.server, s.listener, s.done
	s.server, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	srv.Stop()
	_ = l.Close()

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("coap server %s: shutdown timed out", s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger().Info("CoAP server stopped", "id", s.id)
	return nil
}

// IsRunning reports whether the server is listening.
func (s *resourceServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server != nil
}

// Address returns the bound address, or "" when not running.
func (s *resourceServer) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.LocalAddr().String()
}

// Metadata implements protocol.Handler.
func (s *resourceServer) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:            s.id,
		Name:          s.name,
		Protocol:      protocol.ProtocolCoAP,
		TransportType: protocol.TransportUDP,
	}
}

// Health implements protocol.Handler.
func (s *resourceServer) Health(ctx context.Context) protocol.HealthStatus {
	if !s.IsRunning() {
		return protocol.Unhealthy("not listening")
	}
	return protocol.Healthy(map[string]string{"address": s.Address(), "path": s.path})
}

// reply writes a text/plain response with the length ETag.
func reply(w mux.ResponseWriter, code codes.Code, body []byte) error {
	return w.SetResponse(code, message.TextPlain, bytes.NewReader(body),
		message.Option{ID: message.ETag, Value: []byte{byte(len(body))}})
}
