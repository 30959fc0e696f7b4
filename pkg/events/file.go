package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrSinkClosed is returned when writing to a closed sink.
var ErrSinkClosed = errors.New("events: sink is closed")

// FileSink writes events as JSON lines.
type FileSink struct {
	name    string
	w       io.Writer
	closer  io.Closer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileSink creates a sink appending to the file at path. The file is
// created if it doesn't exist.
func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("events: failed to open log file: %w", err)
	}
	s := NewWriterSink("file", file)
	s.closer = file
	return s, nil
}

// NewWriterSink creates a sink writing to w, such as os.Stdout. Closing the
// sink does not close w.
func NewWriterSink(name string, w io.Writer) *FileSink {
	return &FileSink{
		name:    name,
		w:       w,
		encoder: json.NewEncoder(w),
	}
}

// Name implements Sink.
func (s *FileSink) Name() string { return s.name }

// Write implements Sink.
func (s *FileSink) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return ErrSinkClosed
	}
	if err := s.encoder.Encode(e); err != nil {
		return fmt.Errorf("events: failed to encode event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if the sink owns one.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return nil
	}
	s.w = nil

	if s.closer == nil {
		return nil
	}
	if f, ok := s.closer.(*os.File); ok {
		_ = f.Sync()
	}
	return s.closer.Close()
}
