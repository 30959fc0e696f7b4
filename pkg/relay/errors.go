package relay

// Error is a simple error type for relay errors.
// It allows defining sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors returned by the engine. Callers check them with errors.Is;
// the engine wraps them with the offending sizes or the underlying cause.
const (
	// ErrPayloadTooLarge is returned when a request does not fit the slot.
	ErrPayloadTooLarge = Error("payload too large")

	// ErrNothingStored is returned by a release when no request has been
	// captured yet and the empty-release policy is EmptyReleaseReject.
	ErrNothingStored = Error("nothing stored")

	// ErrBackendUnavailable is returned when the backend fails, times out, or
	// the caller's context ends before the backend replies.
	ErrBackendUnavailable = Error("backend unavailable")

	// ErrReplyTooLarge is returned when the backend answers with more than
	// MaxResponseLen bytes. The request was fine; the backend is at fault.
	ErrReplyTooLarge = Error("backend reply too large")
)
