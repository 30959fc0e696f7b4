package relay

import (
	"context"
	"time"
)

// Buffer sizes.
const (
	// MaxRequestLen is the size of the stored-request slot, including the
	// terminator byte. A request carries at most MaxRequestLen-1 bytes.
	MaxRequestLen = 32

	// MaxResponseLen is the size of the relay buffer a backend reply is
	// staged in.
	MaxResponseLen = 128
)

// Fixed replies produced by the engine itself.
const (
	ReplyStoring = "Storing activated"
	ReplyInvalid = "Invalid request"
)

// ContentFormat is the media type of every reply.
const ContentFormat = "text/plain"

// DefaultBackendTimeout bounds a single backend call.
const DefaultBackendTimeout = 5 * time.Second

// EmptyReleasePolicy decides what a release does when nothing was stored.
type EmptyReleasePolicy string

const (
	// EmptyReleaseReject fails the release with ErrNothingStored.
	EmptyReleaseReject EmptyReleasePolicy = "reject"

	// EmptyReleaseRelay forwards the empty slot content to the backend.
	EmptyReleaseRelay EmptyReleasePolicy = "relay"
)

// ParseEmptyReleasePolicy converts a config string to a policy.
// Unknown values yield EmptyReleaseReject.
func ParseEmptyReleasePolicy(s string) EmptyReleasePolicy {
	if EmptyReleasePolicy(s) == EmptyReleaseRelay {
		return EmptyReleaseRelay
	}
	return EmptyReleaseReject
}

// Response is the reply to a GET or POST on the relay resource.
type Response struct {
	// Payload is the reply body. It is empty for a captured POST.
	Payload []byte

	// ContentFormat is always ContentFormat.
	ContentFormat string

	// Stored is true when a POST was captured instead of forwarded.
	Stored bool

	// Command is the control word of a GET, or CommandInvalid for a POST.
	Command Command
}

// ETag returns the one-byte entity tag, which encodes the reply length.
func (r Response) ETag() byte {
	return byte(len(r.Payload))
}

// State is a point-in-time snapshot of the engine.
type State struct {
	Armed         bool       `json:"armed"`
	Slot          SlotState  `json:"slot"`
	LastReleaseAt *time.Time `json:"lastReleaseAt,omitempty"`
	Counts        Counts     `json:"counts"`
	EmptyRelease  string     `json:"emptyRelease"`
}

// Counts tallies completed operations since start or the last Reset.
type Counts struct {
	Stores   int `json:"stores"`
	Captures int `json:"captures"`
	Releases int `json:"releases"`
	Forwards int `json:"forwards"`
	Invalid  int `json:"invalid"`
	Errors   int `json:"errors"`
}

type traceKey struct{}

// WithTraceID returns a context carrying the caller's trace ID. The engine
// attaches it to events and to captured requests.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFromContext returns the trace ID set by WithTraceID, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
