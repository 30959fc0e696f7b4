package events

import (
	"encoding/json"
	"time"
)

// Kind identifies what happened in a relay operation.
type Kind string

// Event kinds emitted by the relay engine.
const (
	KindArmed     Kind = "relay.armed"
	KindStored    Kind = "relay.stored"
	KindReleased  Kind = "relay.released"
	KindForwarded Kind = "relay.forwarded"
	KindInvalid   Kind = "relay.invalid"
	KindError     Kind = "relay.error"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Event is a single observable relay operation.
type Event struct {
	// Sequence is assigned by the Bus and increases by one per event.
	Sequence uint64 `json:"sequence"`

	// ID is a unique identifier assigned by the Bus.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// TraceID ties related events together. A release carries the trace ID
	// of the request it replays, not that of the releasing caller.
	TraceID string `json:"traceId,omitempty"`

	Kind        Kind    `json:"kind"`
	Command     string  `json:"command,omitempty"`
	Payload     string  `json:"payload,omitempty"`
	Reply       string  `json:"reply,omitempty"`
	ReplyLength int     `json:"replyLength"`
	DurationMs  float64 `json:"durationMs,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// JSON returns the event encoded as a single JSON object.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher receives events. Implementations must not block the caller.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// Nop returns a publisher that discards every event.
func Nop() Publisher {
	return PublisherFunc(func(Event) {})
}
