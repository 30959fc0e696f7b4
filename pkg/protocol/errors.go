package protocol

// Error is a simple error type for protocol errors.
// It allows defining sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors for handler lifecycle and registry operations.
const (
	// ErrNilHandler is returned when attempting to register a nil handler.
	ErrNilHandler = Error("handler cannot be nil")

	// ErrEmptyHandlerID is returned when a handler has an empty ID.
	ErrEmptyHandlerID = Error("handler ID cannot be empty")

	// ErrHandlerExists is returned when registering a duplicate ID.
	ErrHandlerExists = Error("handler with this ID already exists")

	// ErrHandlerNotFound is returned when looking up an unknown ID.
	ErrHandlerNotFound = Error("handler not found")

	// ErrAlreadyRunning is returned when starting a running handler.
	ErrAlreadyRunning = Error("handler is already running")

	// ErrNotRunning is returned when stopping a handler that is not running.
	ErrNotRunning = Error("handler is not running")
)
