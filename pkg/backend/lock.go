package backend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/getmockd/relayd/pkg/logging"
)

// Lock replies.
const (
	ReplyNowOpen       = "Lock is now open"
	ReplyAlreadyOpen   = "Lock already open"
	ReplyNowClosed     = "Lock is now closed"
	ReplyAlreadyClosed = "Lock already closed"
	ReplyInvalid       = "Invalid request"
)

// Lock commands.
const (
	CommandOpen  = "open"
	CommandClose = "close"
)

// Lock simulates a door lock. It starts closed and understands exactly two
// payloads, "open" and "close"; anything else is answered with ReplyInvalid.
type Lock struct {
	mu   sync.Mutex
	open bool
	log  *slog.Logger
}

// NewLock creates a closed lock.
func NewLock() *Lock {
	return &Lock{log: logging.Nop()}
}

// SetLogger sets the operational logger.
func (l *Lock) SetLogger(log *slog.Logger) {
	if log != nil {
		l.log = log
	}
}

// Handle applies payload to the lock and returns the reply.
func (l *Lock) Handle(_ context.Context, payload []byte) ([]byte, error) {
	return []byte(l.Apply(string(payload))), nil
}

// Apply applies cmd to the lock and returns the reply text.
func (l *Lock) Apply(cmd string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch cmd {
	case CommandOpen:
		if l.open {
			return ReplyAlreadyOpen
		}
		l.open = true
		l.log.Debug("lock opened")
		return ReplyNowOpen
	case CommandClose:
		if !l.open {
			return ReplyAlreadyClosed
		}
		l.open = false
		l.log.Debug("lock closed")
		return ReplyNowClosed
	default:
		l.log.Info("invalid lock command", "command", cmd)
		return ReplyInvalid
	}
}

// IsOpen reports whether the lock is open.
func (l *Lock) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}
