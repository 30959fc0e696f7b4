package events

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/relayd/pkg/logging"
	"github.com/getmockd/relayd/pkg/metrics"
)

// DefaultQueueSize is the number of events a Bus buffers before dropping.
const DefaultQueueSize = 256

// Sink consumes events delivered by a Bus.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write delivers one event. It is called from a single goroutine.
	Write(Event) error

	// Close releases any resources held by the sink.
	Close() error
}

// Bus fans events out to sinks without blocking publishers.
type Bus struct {
	log   *slog.Logger
	queue chan Event
	done  chan struct{}
	seq   atomic.Uint64

	mu     sync.RWMutex
	sinks  []Sink
	closed bool
}

// NewBus creates a bus buffering up to size events and starts its
// dispatch goroutine. A non-positive size uses DefaultQueueSize.
func NewBus(size int, log *slog.Logger) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logging.Nop()
	}
	b := &Bus{
		log:   log,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

// AddSink registers a sink. Events published before the call are not
// replayed to it.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish assigns the event its sequence number and ID and queues it.
// It never blocks; if the queue is full the event is dropped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	e.Sequence = b.seq.Add(1)
	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case b.queue <- e:
	default:
		metrics.RecordDrop("bus")
		b.log.Warn("event queue full, dropping event", "kind", e.Kind, "sequence", e.Sequence)
	}
}

// published returns the number of events accepted so far, dropped ones
// included.
func (b *Bus) published() uint64 {
	return b.seq.Load()
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.queue {
		b.mu.RLock()
		sinks := append([]Sink(nil), b.sinks...)
		b.mu.RUnlock()

		for _, s := range sinks {
			if err := s.Write(e); err != nil {
				metrics.RecordDrop(s.Name())
				b.log.Warn("event sink failed", "sink", s.Name(), "kind", e.Kind, "error", err)
			}
		}
	}
}

// Close stops accepting events, delivers those already queued and closes
// every sink.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done

	b.mu.RLock()
	defer b.mu.RUnlock()
	var errs []error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
