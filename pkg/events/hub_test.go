package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var e Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHub_Streams(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, hub.Write(Event{Sequence: 7, Kind: KindReleased, Reply: "Lock is now open"}))

	e := readEvent(t, conn)
	assert.Equal(t, uint64(7), e.Sequence)
	assert.Equal(t, "Lock is now open", e.Reply)
}

func TestHub_Filter(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, `?filter=kind+%3D%3D+%22relay.error%22`)
	waitClients(t, hub, 1)

	require.NoError(t, hub.Write(Event{Sequence: 1, Kind: KindArmed}))
	require.NoError(t, hub.Write(Event{Sequence: 2, Kind: KindError}))

	e := readEvent(t, conn)
	assert.Equal(t, uint64(2), e.Sequence)
}

func TestHub_BadFilter(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?filter=kind+%3D%3D")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "")
	waitClients(t, hub, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, hub, 0)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(0, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestHub_SlowClientDrops(t *testing.T) {
	hub := NewHub(1, nil)
	sub := hub.subscribe(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Write(Event{Sequence: uint64(i)}))
	}
	assert.Len(t, sub.ch, 1)
	hub.unsubscribe(sub)
}
