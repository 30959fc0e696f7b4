package events

import "sync"

// DefaultHistorySize is the number of events History keeps by default.
const DefaultHistorySize = 100

// History keeps the most recent events in a ring.
type History struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	count int
}

// NewHistory creates a history holding up to size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Event, size)}
}

// Name implements Sink.
func (h *History) Name() string { return "history" }

// Write implements Sink. The oldest event is overwritten when full.
func (h *History) Write(e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	return nil
}

// Close implements Sink.
func (h *History) Close() error { return nil }

// Recent returns up to n events, oldest first. n <= 0 returns all.
func (h *History) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]Event, 0, n)
	start := (h.next - n + len(h.buf)) % len(h.buf)
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Since returns the held events with a sequence greater than seq.
func (h *History) Since(seq uint64) []Event {
	var out []Event
	for _, e := range h.Recent(0) {
		if e.Sequence > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of events held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
