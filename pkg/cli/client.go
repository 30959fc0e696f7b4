package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/getmockd/relayd/pkg/httpapi"
	"github.com/getmockd/relayd/pkg/relay"
)

// APIError is a non-2xx answer from the relayd HTTP API.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorCodeConnection marks an APIError for a server that could not be reached.
const ErrorCodeConnection = "connection_error"

// Reply is the outcome of a relay request.
type Reply struct {
	Status  int    `json:"status"`
	Payload string `json:"payload"`
	Length  int    `json:"length"`
	ETag    string `json:"etag,omitempty"`
	TraceID string `json:"traceId,omitempty"`
	// Stored is true when a POST was captured instead of forwarded.
	Stored bool `json:"stored"`
}

// Client talks to the relayd HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	traceID    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP timeout for the client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithTraceID sends id as the trace ID of every relay request.
func WithTraceID(id string) ClientOption {
	return func(c *Client) {
		c.traceID = id
	}
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store arms capture of the next POST.
func (c *Client) Store(ctx context.Context) (*Reply, error) {
	return c.relay(ctx, http.MethodGet, "/relay", []byte(relay.CommandStore.String()))
}

// Release replays the stored request and returns the backend's reply.
func (c *Client) Release(ctx context.Context) (*Reply, error) {
	return c.relay(ctx, http.MethodGet, "/relay", []byte(relay.CommandRelease.String()))
}

// Send POSTs payload to the relay resource.
func (c *Client) Send(ctx context.Context, payload []byte) (*Reply, error) {
	return c.relay(ctx, http.MethodPost, "/relay", payload)
}

// Forward sends payload straight to the backend, bypassing the arm flag.
func (c *Client) Forward(ctx context.Context, payload []byte) (*Reply, error) {
	return c.relay(ctx, http.MethodPost, "/forward", payload)
}

// Command sends an arbitrary control word as a GET.
func (c *Client) Command(ctx context.Context, word []byte) (*Reply, error) {
	return c.relay(ctx, http.MethodGet, "/relay", word)
}

// State returns the engine snapshot.
func (c *Client) State(ctx context.Context) (*relay.State, error) {
	var st relay.State
	if err := c.getJSON(ctx, "/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Reset disarms the engine and empties the slot.
func (c *Client) Reset(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/state", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	return nil
}

// Health checks the server and returns its health report.
func (c *Client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	var hr httpapi.HealthResponse
	if err := c.getJSON(ctx, "/health", &hr); err != nil {
		return nil, err
	}
	return &hr, nil
}

// History returns recent events. A zero since or limit is omitted.
func (c *Client) History(ctx context.Context, since uint64, limit int) (*httpapi.HistoryResponse, error) {
	q := url.Values{}
	if since > 0 {
		q.Set("since", strconv.FormatUint(since, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/events/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var hr httpapi.HistoryResponse
	if err := c.getJSON(ctx, path, &hr); err != nil {
		return nil, err
	}
	return &hr, nil
}

// EventsURL returns the websocket URL of the event stream.
func (c *Client) EventsURL(filter string) (string, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if filter != "" {
		u.RawQuery = url.Values{"filter": {filter}}.Encode()
	}
	return u.String(), nil
}

func (c *Client) relay(ctx context.Context, method, path string, body []byte) (*Reply, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Reply{
		Status:  resp.StatusCode,
		Payload: string(data),
		Length:  len(data),
		ETag:    resp.Header.Get("ETag"),
		TraceID: resp.Header.Get(httpapi.TraceHeader),
		Stored:  resp.StatusCode == http.StatusNoContent,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// /health answers 503 with a body worth decoding.
	if resp.StatusCode != http.StatusOK && !(path == "/health" && resp.StatusCode == http.StatusServiceUnavailable) {
		return parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", relay.ContentFormat)
	}
	if c.traceID != "" {
		req.Header.Set(httpapi.TraceHeader, c.traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{
			ErrorCode: ErrorCodeConnection,
			Message:   fmt.Sprintf("cannot connect to relayd at %s: %v", c.baseURL, err),
		}
	}
	return resp, nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorCode:  errResp.Error,
			Message:    errResp.Message,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorCode:  "unknown_error",
		Message:    fmt.Sprintf("server returned status %d: %s", resp.StatusCode, string(body)),
	}
}

// FormatConnectionError adds a hint to errors for an unreachable server.
func FormatConnectionError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == ErrorCodeConnection {
		return fmt.Errorf("%s\n\nIs relayd running? Start it with: relayd serve", apiErr.Message)
	}
	return err
}
