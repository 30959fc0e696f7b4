package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Registry manages handlers and their lifecycle. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}

	meta := h.Metadata()
	if meta.ID == "" {
		return ErrEmptyHandlerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[meta.ID]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, meta.ID)
	}

	r.handlers[meta.ID] = h
	r.order = append(r.order, meta.ID)
	return nil
}

// Get returns a handler by ID.
func (r *Registry) Get(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[id]
	return h, exists
}

// List returns all handlers in registration order.
func (r *Registry) List() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]Handler, 0, len(r.order))
	for _, id := range r.order {
		handlers = append(handlers, r.handlers[id])
	}
	return handlers
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// StartAll starts handlers in registration order. If one fails, the handlers
// already started are stopped again and the error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	handlers := r.List()
	for i, h := range handlers {
		if err := h.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = handlers[j].Stop(ctx, time.Second)
			}
			return fmt.Errorf("failed to start handler %s: %w", h.Metadata().ID, err)
		}
	}
	return nil
}

// StopAll stops handlers in reverse registration order. Every handler is
// stopped even if some fail; the errors are joined.
func (r *Registry) StopAll(ctx context.Context, timeout time.Duration) error {
	handlers := r.List()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if err := h.Stop(ctx, timeout); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, fmt.Errorf("failed to stop handler %s: %w", h.Metadata().ID, err))
		}
	}
	return errors.Join(errs...)
}

// HealthAll returns the health of every handler keyed by ID.
func (r *Registry) HealthAll(ctx context.Context) map[string]HealthStatus {
	handlers := r.List()
	results := make(map[string]HealthStatus, len(handlers))
	for _, h := range handlers {
		results[h.Metadata().ID] = h.Health(ctx)
	}
	return results
}
