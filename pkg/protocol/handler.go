package protocol

import (
	"context"
	"time"
)

// Handler is the interface every relayd server implements.
type Handler interface {
	// Metadata returns descriptive information about the handler.
	Metadata() Metadata

	// Start binds the listener and begins serving in the background.
	// It returns once the handler is ready to accept traffic.
	Start(ctx context.Context) error

	// Stop shuts the handler down, waiting at most timeout.
	Stop(ctx context.Context, timeout time.Duration) error

	// Health returns the current health status of the handler.
	Health(ctx context.Context) HealthStatus
}

// StandaloneServer is a handler that listens on its own address.
type StandaloneServer interface {
	Handler

	// Address returns the bound address, or "" when not running.
	Address() string

	// IsRunning reports whether the server is listening.
	IsRunning() bool
}

// Metadata provides descriptive information about a handler.
type Metadata struct {
	// ID is the unique identifier for this handler instance.
	ID string `json:"id"`

	// Name is a human-readable name for display purposes.
	Name string `json:"name,omitempty"`

	// Protocol identifies the protocol type.
	Protocol Protocol `json:"protocol"`

	// TransportType indicates the underlying transport.
	TransportType TransportType `json:"transportType"`
}

// HealthStatus represents the health of a handler.
type HealthStatus struct {
	Status    HealthState `json:"status"`
	Message   string      `json:"message,omitempty"`
	CheckedAt time.Time   `json:"checkedAt"`
	Details   any         `json:"details,omitempty"`
}

// Healthy returns a healthy status checked now.
func Healthy(details any) HealthStatus {
	return HealthStatus{Status: HealthHealthy, CheckedAt: time.Now(), Details: details}
}

// Unhealthy returns an unhealthy status with msg, checked now.
func Unhealthy(msg string) HealthStatus {
	return HealthStatus{Status: HealthUnhealthy, Message: msg, CheckedAt: time.Now()}
}

// HealthState is the health status enum.
type HealthState string

// HealthState constants.
const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// String returns the string representation of the health state.
func (h HealthState) String() string {
	return string(h)
}
