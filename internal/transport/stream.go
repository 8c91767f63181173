package transport

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
)

const (
	seqHeader = "Cascade-Seq"
	// maxChunk stays well below the default NATS max payload.
	maxChunk = 64 * 1024
	// maxEarly bounds the chunks held back waiting for a missing one.
	maxEarly = 1024
)

// msgPublisher is the part of *nats.Conn OutputWriter needs.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// OutputWriter publishes writes as numbered chunks on a build's output subject.
type OutputWriter struct {
	mu      sync.Mutex
	pub     msgPublisher
	subject string
	seq     uint64
}

// NewOutputWriter returns a writer publishing to subject.
func NewOutputWriter(pub msgPublisher, subject string) *OutputWriter {
	return &OutputWriter{pub: pub, subject: subject}
}

func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	written := 0
	for written < len(p) {
		n := min(maxChunk, len(p)-written)
		msg := nats.NewMsg(w.subject)
		msg.Data = bytes.Clone(p[written : written+n])
		msg.Header.Set(seqHeader, strconv.FormatUint(w.seq+1, 10))
		if err := w.pub.PublishMsg(msg); err != nil {
			return written, ErrPublishFailed.WithCause(err).WithContext("subject", w.subject)
		}
		w.seq++
		written += n
	}
	return written, nil
}

// Chunks is the number of chunks published so far.
func (w *OutputWriter) Chunks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// StreamReader writes the chunks of an output subject to out in sequence
// order, holding back chunks that arrive early.
type StreamReader struct {
	out io.Writer

	mu      sync.Mutex
	next    uint64
	early   map[uint64][]byte
	changed chan struct{}
	err     error
	sub     *nats.Subscription
}

// NewStreamReader returns a reader feeding out.
func NewStreamReader(out io.Writer) *StreamReader {
	return &StreamReader{
		out:     out,
		next:    1,
		early:   make(map[uint64][]byte),
		changed: make(chan struct{}),
	}
}

// Subscribe starts consuming subject on nc.
func (r *StreamReader) Subscribe(nc *nats.Conn, subject string) error {
	sub, err := nc.Subscribe(subject, r.handle)
	if err != nil {
		return ErrSubscribe.WithCause(err).WithContext("subject", subject)
	}
	// Output must not be dropped for a slow consumer.
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		_ = sub.Unsubscribe()
		return ErrSubscribe.WithCause(err).WithContext("subject", subject)
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

func (r *StreamReader) handle(msg *nats.Msg) {
	seq, err := strconv.ParseUint(msg.Header.Get(seqHeader), 10, 64)
	if err != nil {
		r.mu.Lock()
		r.failLocked(ErrDecode.WithCause(err).WithContext("subject", msg.Subject))
		r.wakeLocked()
		r.mu.Unlock()
		return
	}
	r.deliver(seq, msg.Data)
}

// deliver accepts chunk seq and writes every chunk that is now in order.
func (r *StreamReader) deliver(seq uint64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.next {
		return
	}
	if _, held := r.early[seq]; seq != r.next && !held && len(r.early) >= maxEarly {
		r.failLocked(ErrOutputGap.WithContext("missing", r.next).WithContext("held", len(r.early)))
		clear(r.early)
		r.wakeLocked()
		return
	}
	r.early[seq] = data
	for {
		chunk, ok := r.early[r.next]
		if !ok {
			break
		}
		delete(r.early, r.next)
		r.next++
		if r.err == nil {
			if _, err := r.out.Write(chunk); err != nil {
				r.failLocked(err)
			}
		}
	}
	r.wakeLocked()
}

func (r *StreamReader) wakeLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *StreamReader) failLocked(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Delivered is the number of chunks written to out so far.
func (r *StreamReader) Delivered() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next - 1
}

// WaitFor blocks until chunks chunks were written to out.
func (r *StreamReader) WaitFor(ctx context.Context, chunks uint64) error {
	for {
		r.mu.Lock()
		done := r.next-1 >= chunks
		err := r.err
		changed := r.changed
		r.mu.Unlock()

		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops consuming.
func (r *StreamReader) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
