package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/relayd/pkg/backend"
	"github.com/getmockd/relayd/pkg/events"
	"github.com/getmockd/relayd/pkg/logging"
	"github.com/getmockd/relayd/pkg/metrics"
)

// Metric op labels.
const (
	opStore   = "store"
	opCapture = "capture"
	opRelease = "release"
	opForward = "forward"
	opCommand = "command"
)

// Engine is the relay state machine. It owns the arm flag, the stored-request
// slot and the relay buffer, and serializes every operation on them: at most
// one relay is in flight at any time.
type Engine struct {
	mu sync.Mutex

	backend      backend.Backend
	timeout      time.Duration
	emptyRelease EmptyReleasePolicy
	log          *slog.Logger
	events       events.Publisher

	armed       bool
	slot        *Slot
	relayBuf    *Buffer
	inflight    chan struct{} // closed when an abandoned backend call returns
	lastRelease time.Time
	counts      Counts
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithBackendTimeout bounds each backend call. Non-positive values are ignored.
func WithBackendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithEventPublisher sets where relay events are published.
func WithEventPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// WithEmptyRelease sets the policy for a release when nothing was stored.
func WithEmptyRelease(p EmptyReleasePolicy) Option {
	return func(e *Engine) {
		e.emptyRelease = p
	}
}

// New creates an engine forwarding to b.
func New(b backend.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:      b,
		timeout:      DefaultBackendTimeout,
		emptyRelease: EmptyReleaseReject,
		log:          logging.Nop(),
		events:       events.Nop(),
		slot:         NewSlot(),
		relayBuf:     NewBuffer(MaxResponseLen),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleGet interprets payload as a control word. "store" arms capture of
// the next POST, "release" replays the stored request to the backend and
// returns its reply to this caller. Anything else gets ReplyInvalid and
// leaves the state untouched.
func (e *Engine) HandleGet(ctx context.Context, payload []byte) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	traceID := resolveTrace(ctx)
	cmd := ParseCommand(payload)

	switch cmd {
	case CommandStore:
		e.armed = true
		e.counts.Stores++
		e.log.Info("storing activated", "traceId", traceID)
		metrics.RecordOperation(opStore, metrics.OutcomeOK)
		e.syncGauges()
		e.publish(events.Event{Kind: events.KindArmed, TraceID: traceID, Command: cmd.String(), Reply: ReplyStoring, ReplyLength: len(ReplyStoring)})
		return reply(cmd, []byte(ReplyStoring)), nil

	case CommandRelease:
		return e.release(ctx, traceID)

	default:
		e.counts.Invalid++
		e.log.Info("invalid command", "command", string(payload), "traceId", traceID)
		metrics.RecordOperation(opCommand, metrics.OutcomeInvalid)
		e.publish(events.Event{Kind: events.KindInvalid, TraceID: traceID, Command: string(payload), Reply: ReplyInvalid, ReplyLength: len(ReplyInvalid)})
		return reply(cmd, []byte(ReplyInvalid)), nil
	}
}

// HandlePost captures payload when armed, otherwise forwards it to the
// backend and returns the reply. A payload that does not fit the slot is
// rejected with ErrPayloadTooLarge and changes nothing, including the arm
// flag.
func (e *Engine) HandlePost(ctx context.Context, payload []byte) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	traceID := resolveTrace(ctx)
	op := opForward
	if e.armed {
		op = opCapture
	}

	if err := checkRequest(payload); err != nil {
		return Response{}, e.fail(op, metrics.OutcomeTooLarge, traceID, payload, err)
	}

	if e.armed {
		if err := e.slot.Capture(payload, traceID); err != nil {
			return Response{}, e.fail(op, metrics.OutcomeTooLarge, traceID, payload, err)
		}
		e.armed = false
		e.counts.Captures++
		e.log.Info("storing a request", "length", len(payload), "traceId", traceID)
		metrics.RecordOperation(opCapture, metrics.OutcomeOK)
		e.syncGauges()
		e.publish(events.Event{Kind: events.KindStored, TraceID: traceID, Payload: string(payload)})
		return Response{ContentFormat: ContentFormat, Stored: true}, nil
	}

	return e.forwardDirect(ctx, payload, traceID)
}

// Forward sends payload straight to the backend and returns its reply. The
// arm flag and the slot are neither consulted nor changed.
func (e *Engine) Forward(ctx context.Context, payload []byte) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	traceID := resolveTrace(ctx)
	if err := checkRequest(payload); err != nil {
		return Response{}, e.fail(opForward, metrics.OutcomeTooLarge, traceID, payload, err)
	}
	return e.forwardDirect(ctx, payload, traceID)
}

// forwardDirect relays payload and records the outcome. The caller must
// hold e.mu.
func (e *Engine) forwardDirect(ctx context.Context, payload []byte, traceID string) (Response, error) {
	out, elapsed, err := e.forward(ctx, payload, opForward)
	if err != nil {
		return Response{}, e.fail(opForward, outcomeOf(err), traceID, payload, err)
	}
	e.counts.Forwards++
	metrics.RecordOperation(opForward, metrics.OutcomeOK)
	e.publish(events.Event{
		Kind:        events.KindForwarded,
		TraceID:     traceID,
		Payload:     string(payload),
		Reply:       string(out),
		ReplyLength: len(out),
		DurationMs:  durationMs(elapsed),
	})
	return reply(CommandInvalid, out), nil
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{
		Armed:        e.armed,
		Slot:         e.slot.Snapshot(),
		Counts:       e.counts,
		EmptyRelease: string(e.emptyRelease),
	}
	if !e.lastRelease.IsZero() {
		t := e.lastRelease
		s.LastReleaseAt = &t
	}
	return s
}

// Reset disarms the engine, empties the slot and zeroes the counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.armed = false
	e.slot.Clear()
	e.relayBuf.Reset()
	e.lastRelease = time.Time{}
	e.counts = Counts{}
	e.syncGauges()
	e.log.Debug("relay state reset")
}

// release replays the stored request. The caller must hold e.mu.
func (e *Engine) release(ctx context.Context, callerTrace string) (Response, error) {
	payload, ok := e.slot.Peek()
	if !ok && e.emptyRelease != EmptyReleaseRelay {
		return Response{}, e.fail(opRelease, metrics.OutcomeEmpty, callerTrace, nil, ErrNothingStored)
	}

	storerTrace := e.slot.TraceID()
	if storerTrace == "" {
		storerTrace = callerTrace
	}

	e.log.Info("releasing stored request", "length", len(payload), "traceId", storerTrace, "releasedBy", callerTrace)
	out, elapsed, err := e.forward(ctx, payload, opRelease)
	if err != nil {
		return Response{}, e.fail(opRelease, outcomeOf(err), storerTrace, payload, err)
	}

	e.slot.Take()
	e.lastRelease = time.Now()
	e.counts.Releases++
	metrics.RecordOperation(opRelease, metrics.OutcomeOK)
	e.syncGauges()
	e.publish(events.Event{
		Kind:        events.KindReleased,
		TraceID:     storerTrace,
		Command:     CommandRelease.String(),
		Payload:     string(payload),
		Reply:       string(out),
		ReplyLength: len(out),
		DurationMs:  durationMs(elapsed),
	})
	return reply(CommandRelease, out), nil
}

type result struct {
	reply []byte
	err   error
}

// forward calls the backend on its own goroutine and waits for the reply,
// the timeout, or ctx, whichever comes first. A call that is given up on
// keeps running until the backend returns; until then the next forward
// waits for it within the same timeout and never starts a second call.
// The reply is staged in the relay buffer and a copy returned. The caller
// must hold e.mu.
func (e *Engine) forward(ctx context.Context, payload []byte, path string) ([]byte, time.Duration, error) {
	start := time.Now()
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	if e.inflight != nil {
		select {
		case <-e.inflight:
			e.inflight = nil
		case <-timer.C:
			return nil, time.Since(start), fmt.Errorf("%w: previous call still running after %s", ErrBackendUnavailable, e.timeout)
		case <-ctx.Done():
			return nil, time.Since(start), fmt.Errorf("%w: %w", ErrBackendUnavailable, ctx.Err())
		}
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result, 1)
	finished := make(chan struct{})
	in := bytes.Clone(payload)
	go func() {
		defer close(finished)
		out, err := e.backend.Handle(callCtx, in)
		done <- result{reply: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-timer.C:
		e.inflight = finished
		res.err = fmt.Errorf("%w: no reply within %s", ErrBackendUnavailable, e.timeout)
	case <-ctx.Done():
		e.inflight = finished
		res.err = fmt.Errorf("%w: %w", ErrBackendUnavailable, ctx.Err())
	}
	elapsed := time.Since(start)
	metrics.ObserveBackend(path, elapsed.Seconds())

	if res.err != nil {
		if !errors.Is(res.err, ErrBackendUnavailable) {
			res.err = fmt.Errorf("%w: %w", ErrBackendUnavailable, res.err)
		}
		return nil, elapsed, res.err
	}
	if limit := e.relayBuf.Limit(); len(res.reply) > limit {
		return nil, elapsed, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrReplyTooLarge, len(res.reply), limit)
	}
	if err := e.relayBuf.Set(res.reply); err != nil {
		return nil, elapsed, err
	}
	return e.relayBuf.Bytes(), elapsed, nil
}

// fail records a failed operation and returns err. The caller must hold e.mu.
func (e *Engine) fail(op, outcome, traceID string, payload []byte, err error) error {
	e.counts.Errors++
	e.log.Warn("relay operation failed", "op", op, "error", err, "traceId", traceID)
	metrics.RecordOperation(op, outcome)
	ev := events.Event{Kind: events.KindError, TraceID: traceID, Command: op, Error: err.Error()}
	if len(payload) <= MaxRequestLen-1 {
		ev.Payload = string(payload)
	}
	e.publish(ev)
	return err
}

func (e *Engine) publish(ev events.Event) {
	ev.Timestamp = time.Now()
	e.events.Publish(ev)
}

func (e *Engine) syncGauges() {
	metrics.SetState(e.armed, e.slot.pending)
}

func checkRequest(payload []byte) error {
	if limit := MaxRequestLen - 1; len(payload) > limit {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(payload), limit)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return metrics.OutcomeTooLarge
	case errors.Is(err, ErrNothingStored):
		return metrics.OutcomeEmpty
	case errors.Is(err, ErrReplyTooLarge):
		return metrics.OutcomeBadReply
	default:
		return metrics.OutcomeTimeout
	}
}

func reply(cmd Command, payload []byte) Response {
	return Response{Payload: payload, ContentFormat: ContentFormat, Command: cmd}
}

func resolveTrace(ctx context.Context) string {
	if id := TraceIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
