package relay

import "time"

// Slot holds at most one captured request. A new capture overwrites the
// previous one; there is no queue.
type Slot struct {
	buf        *Buffer
	stored     bool
	pending    bool
	capturedAt time.Time
	traceID    string
}

// SlotState is a point-in-time copy of a Slot.
type SlotState struct {
	Stored     bool      `json:"stored"`
	Pending    bool      `json:"pending"`
	Payload    string    `json:"payload,omitempty"`
	Length     int       `json:"length"`
	CapturedAt time.Time `json:"capturedAt"`
	TraceID    string    `json:"traceId,omitempty"`
}

// NewSlot creates an empty slot sized for MaxRequestLen.
func NewSlot() *Slot {
	return &Slot{buf: newRequestBuffer(MaxRequestLen)}
}

// Capture stores payload, replacing whatever was there. On error the slot is
// unchanged.
func (s *Slot) Capture(payload []byte, traceID string) error {
	if err := s.buf.Set(payload); err != nil {
		return err
	}
	s.stored = true
	s.pending = true
	s.capturedAt = time.Now()
	s.traceID = traceID
	return nil
}

// Peek returns the stored payload without marking it released.
// ok is false when nothing was ever captured.
func (s *Slot) Peek() (payload []byte, ok bool) {
	return s.buf.Bytes(), s.stored
}

// Take returns the stored payload and marks it released. The payload stays
// in the slot, so a second Take replays it. ok is false when nothing was
// ever captured.
func (s *Slot) Take() (payload []byte, ok bool) {
	s.pending = false
	return s.buf.Bytes(), s.stored
}

// TraceID returns the trace ID of the capture currently held.
func (s *Slot) TraceID() string { return s.traceID }

// Clear empties the slot.
func (s *Slot) Clear() {
	s.buf.Reset()
	s.stored = false
	s.pending = false
	s.capturedAt = time.Time{}
	s.traceID = ""
}

// Snapshot returns the current state of the slot.
func (s *Slot) Snapshot() SlotState {
	return SlotState{
		Stored:     s.stored,
		Pending:    s.pending,
		Payload:    s.buf.String(),
		Length:     s.buf.Len(),
		CapturedAt: s.capturedAt,
		TraceID:    s.traceID,
	}
}
