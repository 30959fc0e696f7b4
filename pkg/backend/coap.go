package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/getmockd/relayd/pkg/logging"
)

// Remote backend defaults.
const (
	DefaultEndpoint = "[fd00::1]:5683"
	DefaultPath     = "/test"
)

// Error is a simple error type for backend errors.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// ErrRemoteStatus is returned when the remote server answers with an error code.
const ErrRemoteStatus = Error("remote server returned error status")

// CoAP forwards payloads to a remote CoAP server as a POST with a text/plain
// body. The connection is dialled on first use and re-dialled after a failure.
type CoAP struct {
	endpoint string
	path     string
	log      *slog.Logger

	mu   sync.Mutex
	conn *client.Conn
}

// NewCoAP creates a remote backend. Empty arguments fall back to
// DefaultEndpoint and DefaultPath.
func NewCoAP(endpoint, path string) *CoAP {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if path == "" {
		path = DefaultPath
	}
	return &CoAP{endpoint: endpoint, path: path, log: logging.Nop()}
}

// SetLogger sets the operational logger.
func (c *CoAP) SetLogger(log *slog.Logger) {
	if log != nil {
		c.log = log
	}
}

// Endpoint returns the remote address.
func (c *CoAP) Endpoint() string { return c.endpoint }

// Handle POSTs payload to the remote resource and returns the reply body.
func (c *CoAP) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	resp, err := conn.Post(ctx, c.path, message.TextPlain, bytes.NewReader(payload))
	if err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("coap post %s%s: %w", c.endpoint, c.path, err)
	}

	body, err := resp.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("reading coap reply: %w", err)
	}
	if resp.Code() >= codes.BadRequest {
		return nil, fmt.Errorf("%w: %v", ErrRemoteStatus, resp.Code())
	}

	c.log.Debug("remote backend replied", "endpoint", c.endpoint, "code", resp.Code().String(), "length", len(body))
	return body, nil
}

// Close closes the connection, if one is open.
func (c *CoAP) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *CoAP) dial() (*client.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := udp.Dial(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("dialing coap backend %s: %w", c.endpoint, err)
	}
	c.log.Debug("connected to remote backend", "endpoint", c.endpoint)
	c.conn = conn
	return conn, nil
}

func (c *CoAP) drop(conn *client.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}
