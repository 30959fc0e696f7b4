package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/metrics"
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// countingBackend wraps a backend and counts calls.
type countingBackend struct {
	backend.Backend
	calls atomic.Int32
}

func (c *countingBackend) Handle(ctx context.Context, p []byte) ([]byte, error) {
	c.calls.Add(1)
	return c.Backend.Handle(ctx, p)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *backend.Lock, *countingBackend) {
	t.Helper()
	lock := backend.NewLock()
	cb := &countingBackend{Backend: lock}
	return New(cb, opts...), lock, cb
}

func get(t *testing.T, e *Engine, cmd string) Response {
	t.Helper()
	resp, err := e.HandleGet(context.Background(), []byte(cmd))
	require.NoError(t, err)
	return resp
}

func post(t *testing.T, e *Engine, payload string) Response {
	t.Helper()
	resp, err := e.HandlePost(context.Background(), []byte(payload))
	require.NoError(t, err)
	return resp
}

func TestEngine_InvalidGetLeavesState(t *testing.T) {
	e, _, cb := newTestEngine(t)
	get(t, e, "store")
	post(t, e, "open")
	before := e.State()

	for _, cmd := range []string{"", "Store", "release ", "open", "close", "stored"} {
		resp := get(t, e, cmd)
		assert.Equal(t, ReplyInvalid, string(resp.Payload), "command %q", cmd)
		assert.Equal(t, byte(15), resp.ETag())
		assert.Equal(t, ContentFormat, resp.ContentFormat)
	}

	after := e.State()
	assert.Equal(t, before.Armed, after.Armed)
	assert.Equal(t, before.Slot, after.Slot)
	assert.Zero(t, cb.calls.Load())
}

func TestEngine_StoreArms(t *testing.T) {
	e, _, _ := newTestEngine(t)

	resp := get(t, e, "store")
	assert.Equal(t, ReplyStoring, string(resp.Payload))
	assert.Equal(t, byte(17), resp.ETag())
	assert.Equal(t, CommandStore, resp.Command)
	assert.True(t, e.State().Armed)
}

func TestEngine_ArmedPostIsCapturedVerbatim(t *testing.T) {
	e, lock, cb := newTestEngine(t)
	payload := strings.Repeat("\x01ab", 10) + "z" // 31 bytes, the largest that fits

	get(t, e, "store")
	resp := post(t, e, payload)

	assert.True(t, resp.Stored)
	assert.Empty(t, resp.Payload)
	assert.Zero(t, cb.calls.Load(), "captured request must not reach the backend")
	assert.False(t, lock.IsOpen())

	st := e.State()
	assert.False(t, st.Armed, "capture disarms")
	assert.True(t, st.Slot.Stored)
	assert.True(t, st.Slot.Pending)
	assert.Equal(t, payload, st.Slot.Payload)
}

func TestEngine_ArmIsOneShot(t *testing.T) {
	e, lock, cb := newTestEngine(t)

	get(t, e, "store")
	post(t, e, "open")

	resp := post(t, e, "open")
	assert.False(t, resp.Stored)
	assert.Equal(t, backend.ReplyNowOpen, string(resp.Payload))
	assert.Equal(t, int32(1), cb.calls.Load())
	assert.True(t, lock.IsOpen())
}

func TestEngine_StoreIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)

	get(t, e, "store")
	get(t, e, "store")
	st := e.State()
	assert.True(t, st.Armed)
	assert.False(t, st.Slot.Stored)

	post(t, e, "open")
	assert.False(t, e.State().Armed, "one POST consumes both arms")
}

func TestEngine_ReleaseReplaysStoredRequest(t *testing.T) {
	e, lock, _ := newTestEngine(t)

	get(t, e, "store")
	post(t, e, "open")

	resp := get(t, e, "release")
	assert.Equal(t, backend.ReplyNowOpen, string(resp.Payload))
	assert.Equal(t, byte(16), resp.ETag())
	assert.Equal(t, CommandRelease, resp.Command)
	assert.True(t, lock.IsOpen())
	assert.False(t, e.State().Slot.Pending)

	resp = get(t, e, "release")
	assert.Equal(t, backend.ReplyAlreadyOpen, string(resp.Payload))
	assert.Equal(t, byte(17), resp.ETag())
	assert.Equal(t, 2, e.State().Counts.Releases)
	assert.NotNil(t, e.State().LastReleaseAt)
}

func TestEngine_ForwardWhenNotArmed(t *testing.T) {
	e, lock, _ := newTestEngine(t)
	lock.Apply("open")

	resp := post(t, e, "close")
	assert.Equal(t, backend.ReplyNowClosed, string(resp.Payload))
	assert.Equal(t, byte(18), resp.ETag())
	assert.False(t, lock.IsOpen())

	resp = post(t, e, "close")
	assert.Equal(t, backend.ReplyAlreadyClosed, string(resp.Payload))
	assert.Equal(t, byte(19), resp.ETag())
}

func TestEngine_ReleaseMatchesForward(t *testing.T) {
	for _, payload := range []string{"open", "close", "bogus"} {
		t.Run(payload, func(t *testing.T) {
			viaRelease, _, _ := newTestEngine(t)
			get(t, viaRelease, "store")
			post(t, viaRelease, payload)
			released := get(t, viaRelease, "release")

			viaForward, _, _ := newTestEngine(t)
			forwarded := post(t, viaForward, payload)

			assert.Equal(t, forwarded.Payload, released.Payload)
			assert.Equal(t, forwarded.ETag(), released.ETag())
		})
	}
}

func TestEngine_ReleaseNothingStored(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		e, _, cb := newTestEngine(t)
		_, err := e.HandleGet(context.Background(), []byte("release"))
		assert.ErrorIs(t, err, ErrNothingStored)
		assert.Zero(t, cb.calls.Load())
		assert.Equal(t, 1, e.State().Counts.Errors)
	})

	t.Run("relay", func(t *testing.T) {
		e, _, cb := newTestEngine(t, WithEmptyRelease(EmptyReleaseRelay))
		resp, err := e.HandleGet(context.Background(), []byte("release"))
		require.NoError(t, err)
		assert.Equal(t, backend.ReplyInvalid, string(resp.Payload))
		assert.Equal(t, int32(1), cb.calls.Load())
	})
}

func TestEngine_PostTooLarge(t *testing.T) {
	e, _, cb := newTestEngine(t)
	big := strings.Repeat("x", MaxRequestLen)

	_, err := e.HandlePost(context.Background(), []byte(big))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Zero(t, cb.calls.Load())

	get(t, e, "store")
	_, err = e.HandlePost(context.Background(), []byte(big))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	st := e.State()
	assert.True(t, st.Armed, "rejected payload keeps the arm flag")
	assert.False(t, st.Slot.Stored)

	_, err = e.Forward(context.Background(), []byte(big))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEngine_ReplyTooLarge(t *testing.T) {
	huge := backend.Func(func(context.Context, []byte) ([]byte, error) {
		return []byte(strings.Repeat("r", MaxResponseLen+1)), nil
	})
	e := New(huge)

	_, err := e.HandlePost(context.Background(), []byte("open"))
	assert.ErrorIs(t, err, ErrReplyTooLarge)
	assert.NotErrorIs(t, err, ErrPayloadTooLarge)

	get(t, e, "store")
	post(t, e, "open")
	_, err = e.HandleGet(context.Background(), []byte("release"))
	assert.ErrorIs(t, err, ErrReplyTooLarge)
	assert.True(t, e.State().Slot.Pending)

	exact := backend.Func(func(context.Context, []byte) ([]byte, error) {
		return []byte(strings.Repeat("r", MaxResponseLen)), nil
	})
	out, err := New(exact).Forward(context.Background(), []byte("open"))
	require.NoError(t, err)
	assert.Len(t, out.Payload, MaxResponseLen)
}

func TestEngine_BackendTimeout(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	stuck := backend.Func(func(ctx context.Context, _ []byte) ([]byte, error) {
		select {
		case <-unblock:
		case <-ctx.Done():
		}
		return nil, errors.New("stuck")
	})
	e := New(stuck, WithBackendTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := e.HandlePost(context.Background(), []byte("open"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Less(t, time.Since(start), time.Second)

	get(t, e, "store")
	post(t, e, "open")
	_, err = e.HandleGet(context.Background(), []byte("release"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.True(t, e.State().Slot.Pending, "failed release stays pending")
}

func TestEngine_AbandonedCallBlocksNextCall(t *testing.T) {
	var active, peak, calls atomic.Int32
	slowFirst := backend.Func(func(context.Context, []byte) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			time.Sleep(150 * time.Millisecond)
		}
		return []byte(backend.ReplyNowOpen), nil
	})
	e := New(slowFirst, WithBackendTimeout(50*time.Millisecond))

	_, err := e.HandlePost(context.Background(), []byte("open"))
	require.ErrorIs(t, err, ErrBackendUnavailable)

	_, err = e.HandlePost(context.Background(), []byte("close"))
	require.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "no second call while the first is still running")

	time.Sleep(200 * time.Millisecond)
	resp := post(t, e, "open")
	assert.Equal(t, backend.ReplyNowOpen, string(resp.Payload))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestEngine_WaitsForAbandonedCallWithinTimeout(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gated := backend.Func(func(context.Context, []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return []byte(backend.ReplyNowOpen), nil
	})
	e := New(gated, WithBackendTimeout(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.HandlePost(ctx, []byte("open"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	time.AfterFunc(50*time.Millisecond, func() { close(release) })
	resp := post(t, e, "open")
	assert.Equal(t, backend.ReplyNowOpen, string(resp.Payload))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_ContextCancelled(t *testing.T) {
	stuck := backend.Func(func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := New(stuck, WithBackendTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.HandlePost(ctx, []byte("open"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_BackendError(t *testing.T) {
	boom := errors.New("connection refused")
	e := New(backend.Func(func(context.Context, []byte) ([]byte, error) {
		return nil, boom
	}))

	_, err := e.Forward(context.Background(), []byte("open"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestEngine_SerializesOperations(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	slow := backend.Func(func(context.Context, []byte) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return []byte("ok"), nil
	})
	e := New(slow)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.HandlePost(context.Background(), []byte("open"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 16, e.State().Counts.Forwards)
}

func TestEngine_Events(t *testing.T) {
	rec := &recorder{}
	e, _, _ := newTestEngine(t, WithEventPublisher(rec))

	ctx := WithTraceID(context.Background(), "storer")
	_, err := e.HandleGet(ctx, []byte("store"))
	require.NoError(t, err)
	_, err = e.HandlePost(ctx, []byte("open"))
	require.NoError(t, err)

	releaser := WithTraceID(context.Background(), "releaser")
	_, err = e.HandleGet(releaser, []byte("release"))
	require.NoError(t, err)

	released := rec.last()
	assert.Equal(t, events.KindReleased, released.Kind)
	assert.Equal(t, "storer", released.TraceID, "release carries the storer's trace")
	assert.Equal(t, "open", released.Payload)
	assert.Equal(t, backend.ReplyNowOpen, released.Reply)
	assert.Equal(t, 16, released.ReplyLength)
	assert.False(t, released.Timestamp.IsZero())

	get(t, e, "nope")
	post(t, e, "close")
	_, _ = e.HandlePost(context.Background(), []byte(strings.Repeat("x", 40)))

	assert.Equal(t, []events.Kind{
		events.KindArmed,
		events.KindStored,
		events.KindReleased,
		events.KindInvalid,
		events.KindForwarded,
		events.KindError,
	}, rec.kinds())
	assert.Empty(t, rec.last().Payload, "oversized payload is not echoed")
}

func TestEngine_Reset(t *testing.T) {
	e, _, _ := newTestEngine(t)
	get(t, e, "store")
	post(t, e, "open")
	get(t, e, "release")
	get(t, e, "store")

	e.Reset()

	st := e.State()
	assert.False(t, st.Armed)
	assert.False(t, st.Slot.Stored)
	assert.Nil(t, st.LastReleaseAt)
	assert.Equal(t, Counts{}, st.Counts)
	assert.Equal(t, "reject", st.EmptyRelease)
}

func TestEngine_Metrics(t *testing.T) {
	metrics.Init()
	vec, err := metrics.OperationsTotal.WithLabels("store", metrics.OutcomeOK)
	require.NoError(t, err)
	before := vec.Value()

	e, _, _ := newTestEngine(t)
	get(t, e, "store")

	assert.Equal(t, before+1, vec.Value())
	armed := metrics.Armed.Collect()
	require.Len(t, armed, 1)
	assert.Equal(t, float64(1), armed[0].Value)

	post(t, e, "open")
	armed = metrics.Armed.Collect()
	assert.Equal(t, float64(0), armed[0].Value)
}

func TestParseEmptyReleasePolicy(t *testing.T) {
	assert.Equal(t, EmptyReleaseRelay, ParseEmptyReleasePolicy("relay"))
	assert.Equal(t, EmptyReleaseReject, ParseEmptyReleasePolicy("reject"))
	assert.Equal(t, EmptyReleaseReject, ParseEmptyReleasePolicy(""))
}
