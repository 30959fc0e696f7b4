package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/metrics"
	"github.com/getmockd/relayd/pkg/protocol"
	"github.com/getmockd/relayd/pkg/relay"
)

type fixture struct {
	srv     *httptest.Server
	engine  *relay.Engine
	lock    *backend.Lock
	bus     *events.Bus
	hub     *events.Hub
	history *events.History
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		lock:    backend.NewLock(),
		bus:     events.NewBus(0, nil),
		hub:     events.NewHub(0, nil),
		history: events.NewHistory(10),
	}
	f.bus.AddSink(f.hub)
	f.bus.AddSink(f.history)
	f.engine = relay.New(f.lock, relay.WithEventPublisher(f.bus))

	api := NewServer(f.engine, "127.0.0.1:0",
		WithHub(f.hub),
		WithHistory(f.history),
		WithMetrics(metrics.Init()),
	)
	f.srv = httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		_ = f.bus.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestRelay_StoreCaptureRelease(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/relay", "store")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, relay.ReplyStoring, body)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, `"17"`, resp.Header.Get("ETag"))

	resp, body = f.do(t, http.MethodPost, "/relay", "open")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)
	assert.False(t, f.lock.IsOpen())

	resp, body = f.do(t, http.MethodGet, "/relay?cmd=release", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, backend.ReplyNowOpen, body)
	assert.Equal(t, `"16"`, resp.Header.Get("ETag"))
	assert.True(t, f.lock.IsOpen())
}

func TestRelay_BodyTakesPrecedenceOverQuery(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/relay?cmd=store", "nope")
	assert.Equal(t, relay.ReplyInvalid, body)
	assert.False(t, f.engine.State().Armed)
}

func TestRelay_Forward(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodPost, "/relay", "close")
	assert.Equal(t, backend.ReplyAlreadyClosed, body)

	resp, body := f.do(t, http.MethodPost, "/relay", "open")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, backend.ReplyNowOpen, body)
}

func TestRelay_Errors(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/relay", "release")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "nothing_stored")

	resp, body = f.do(t, http.MethodPost, "/relay", strings.Repeat("x", relay.MaxRequestLen))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, body, "payload_too_large")

	resp, _ = f.do(t, http.MethodPost, "/relay", strings.Repeat("x", maxBodySize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/relay", "open")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))
}

func TestForward_IgnoresArmFlag(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/relay", "store")

	resp, body := f.do(t, http.MethodPost, "/forward", "open")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, backend.ReplyNowOpen, body)
	assert.Equal(t, `"16"`, resp.Header.Get("ETag"))

	st := f.engine.State()
	assert.True(t, st.Armed)
	assert.False(t, st.Slot.Stored)
	assert.Equal(t, 1, st.Counts.Forwards)

	resp, _ = f.do(t, http.MethodPost, "/forward", strings.Repeat("x", relay.MaxRequestLen))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/forward", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRelay_ReplyTooLarge(t *testing.T) {
	chatty := backend.Func(func(context.Context, []byte) ([]byte, error) {
		return []byte(strings.Repeat("r", relay.MaxResponseLen+1)), nil
	})
	srv := httptest.NewServer(NewServer(relay.New(chatty), "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/relay", "text/plain", strings.NewReader("open"))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(data), "reply_too_large")
}

func TestRelay_BackendUnavailable(t *testing.T) {
	stuck := backend.Func(func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	engine := relay.New(stuck, relay.WithBackendTimeout(20*time.Millisecond))
	srv := httptest.NewServer(NewServer(engine, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/relay", "text/plain", strings.NewReader("open"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTraceHeader(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/relay", strings.NewReader("store"))
	require.NoError(t, err)
	req.Header.Set(TraceHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(TraceHeader))

	resp, _ = f.do(t, http.MethodPost, "/relay", "open")
	assert.NotEmpty(t, resp.Header.Get(TraceHeader))
	assert.Equal(t, resp.Header.Get(TraceHeader), f.engine.State().Slot.TraceID)
}

func TestState(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/relay", "store")
	f.do(t, http.MethodPost, "/relay", "open")

	resp, body := f.do(t, http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st relay.State
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.False(t, st.Armed)
	assert.True(t, st.Slot.Stored)
	assert.True(t, st.Slot.Pending)
	assert.Equal(t, "open", st.Slot.Payload)
	assert.Equal(t, 1, st.Counts.Captures)

	resp, _ = f.do(t, http.MethodDelete, "/state", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, f.engine.State().Slot.Stored)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)

	reg := protocol.NewRegistry()
	stopped := NewServer(f.engine, "127.0.0.1:0")
	require.NoError(t, reg.Register(stopped))
	srv := httptest.NewServer(NewServer(f.engine, "", WithHealthRegistry(reg)).Handler())
	defer srv.Close()

	r, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, r.StatusCode)

	var hr HealthResponse
	require.NoError(t, json.NewDecoder(r.Body).Decode(&hr))
	assert.Equal(t, protocol.HealthDegraded, hr.Status)
	assert.Equal(t, protocol.HealthUnhealthy, hr.Servers["http-api"].Status)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/relay", "store")

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "relayd_operations_total")
	assert.Contains(t, body, `op="store"`)

	srv := httptest.NewServer(NewServer(f.engine, "").Handler())
	defer srv.Close()
	r, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestEventHistory(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/relay", "store")
	f.do(t, http.MethodPost, "/relay", "open")
	f.do(t, http.MethodGet, "/relay", "release")

	require.Eventually(t, func() bool { return f.history.Len() == 3 }, 2*time.Second, 10*time.Millisecond)

	var hr HistoryResponse
	_, body := f.do(t, http.MethodGet, "/events/history", "")
	require.NoError(t, json.Unmarshal([]byte(body), &hr))
	require.Equal(t, 3, hr.Count)
	assert.Equal(t, events.KindArmed, hr.Events[0].Kind)
	assert.Equal(t, events.KindReleased, hr.Events[2].Kind)

	_, body = f.do(t, http.MethodGet, "/events/history?limit=1", "")
	require.NoError(t, json.Unmarshal([]byte(body), &hr))
	require.Equal(t, 1, hr.Count)
	assert.Equal(t, events.KindReleased, hr.Events[0].Kind)

	_, body = f.do(t, http.MethodGet, "/events/history?since=1", "")
	require.NoError(t, json.Unmarshal([]byte(body), &hr))
	assert.Equal(t, 2, hr.Count)

	resp, _ := f.do(t, http.MethodGet, "/events/history?since=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/events/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.do(t, http.MethodPost, "/relay", "open")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var e events.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, events.KindForwarded, e.Kind)
	assert.Equal(t, backend.ReplyNowOpen, e.Reply)
}

func TestServer_Lifecycle(t *testing.T) {
	s := NewServer(relay.New(backend.NewLock()), "127.0.0.1:0")
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), protocol.ErrAlreadyRunning)

	resp, err := http.Get("http://" + s.Address() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.HealthHealthy, s.Health(context.Background()).Status)

	require.NoError(t, s.Stop(context.Background(), time.Second))
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.Address())
}

func TestDisabledEndpoints(t *testing.T) {
	srv := httptest.NewServer(NewServer(relay.New(backend.NewLock()), "").Handler())
	defer srv.Close()

	for _, path := range []string{"/events", "/events/history"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}
