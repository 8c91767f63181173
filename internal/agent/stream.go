package agent

import (
	"io"
	"sync"
)

// Stream is the single ordered output of one build. Step output and marks
// share it, so a mark lands after everything written before it.
type Stream struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewStream wraps w.
func NewStream(w io.Writer) *Stream {
	return &Stream{w: w}
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.w.Write(p)
}

// Mark writes marker as one unit.
func (s *Stream) Mark(marker []byte) error {
	_, err := s.Write(marker)
	return err
}

// Close rejects further writes. The underlying writer is not closed.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
