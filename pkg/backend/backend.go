// Package backend provides the downstream endpoints a relay forwards to.
//
// Lock is the in-process simulator: a door lock that answers "open" and
// "close". CoAP reaches a real server over UDP.
package backend

import "context"

// Backend produces the authoritative reply to a forwarded or released request.
type Backend interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

// Func adapts an ordinary function to the Backend interface.
type Func func(ctx context.Context, payload []byte) ([]byte, error)

// Handle calls f(ctx, payload).
func (f Func) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}
