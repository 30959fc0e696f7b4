package relay

import "fmt"

// Buffer is a fixed-capacity byte buffer holding one request or reply body.
// The backing array is allocated once and reused; Set never grows it.
type Buffer struct {
	data []byte
	n    int
	// reserve is the number of trailing bytes kept free, used by request
	// buffers to keep room for a terminator.
	reserve int
}

// NewBuffer creates a buffer that accepts up to capacity bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// newRequestBuffer creates a buffer of capacity bytes with one byte reserved
// for the terminator, so at most capacity-1 content bytes fit.
func newRequestBuffer(capacity int) *Buffer {
	b := NewBuffer(capacity)
	if capacity > 0 {
		b.reserve = 1
	}
	return b
}

// Set replaces the content with p. If p does not fit, the previous content
// is left untouched and an error wrapping ErrPayloadTooLarge is returned.
func (b *Buffer) Set(p []byte) error {
	if len(p) > b.Limit() {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(p), b.Limit())
	}
	b.n = copy(b.data, p)
	if b.reserve > 0 {
		b.data[b.n] = 0
	}
	return nil
}

// Bytes returns a copy of the current content.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.n)
	copy(out, b.data[:b.n])
	return out
}

// Len returns the number of content bytes.
func (b *Buffer) Len() int { return b.n }

// Cap returns the total capacity, including any reserved bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Limit returns the maximum number of content bytes Set accepts.
func (b *Buffer) Limit() int { return len(b.data) - b.reserve }

// Reset zeroes the content and length.
func (b *Buffer) Reset() {
	clear(b.data)
	b.n = 0
}

// String returns the content as a string, for diagnostics.
func (b *Buffer) String() string { return string(b.data[:b.n]) }
