package splitlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileSink is a log segment on disk, optionally zstd-compressed.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	zw   *zstd.Encoder
}

// OpenFileSink creates (or truncates) the file at path. With compress set the
// content is written as a zstd stream.
func OpenFileSink(path string, compress bool) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ErrSinkOpenFailed.WithCause(err).WithContext("path", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, ErrSinkOpenFailed.WithCause(err).WithContext("path", path)
	}
	s := &FileSink{path: path, file: f}
	if compress {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, ErrSinkOpenFailed.WithCause(err).WithContext("path", path)
		}
		s.zw = zw
	}
	return s, nil
}

// openAppendSink opens path for appending, uncompressed.
func openAppendSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ErrSinkOpenFailed.WithCause(err).WithContext("path", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, ErrSinkOpenFailed.WithCause(err).WithContext("path", path)
	}
	return &FileSink{path: path, file: f}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Compressed reports whether the sink writes zstd.
func (s *FileSink) Compressed() bool { return s.zw != nil }

func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, os.ErrClosed
	}
	if s.zw != nil {
		return s.zw.Write(p)
	}
	return s.file.Write(p)
}

// Close flushes the compressor and closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	var zerr error
	if s.zw != nil {
		zerr = s.zw.Close()
	}
	ferr := s.file.Close()
	s.file = nil
	if zerr != nil {
		return fmt.Errorf("close zstd stream %s: %w", s.path, zerr)
	}
	return ferr
}

// ReadSegment returns the decompressed content of a segment written by FileSink.
func ReadSegment(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".zst" {
		return data, nil
	}
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// BufferSink is an in-memory sink safe for concurrent use.
type BufferSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *BufferSink) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *BufferSink) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *BufferSink) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *BufferSink) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *BufferSink) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func (b *BufferSink) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
