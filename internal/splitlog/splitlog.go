// Package splitlog demultiplexes the output of one remote build process into
// a core log plus per-module side logs, using in-band marks to find the
// boundaries between modules.
package splitlog

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/cascade/internal/metrics"
)

const (
	DefaultSpillThreshold  = 64 * 1024
	DefaultRecheckInterval = time.Second
	DefaultMarkTimeout     = 30 * time.Second
)

// Options tunes a SplitLog. Zero values select the defaults.
type Options struct {
	SpillThreshold  int
	SpillDir        string
	RecheckInterval time.Duration
	MarkTimeout     time.Duration
	Recorder        metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.SpillThreshold <= 0 {
		o.SpillThreshold = DefaultSpillThreshold
	}
	if o.SpillDir == "" {
		o.SpillDir = os.TempDir()
	}
	if o.RecheckInterval <= 0 {
		o.RecheckInterval = DefaultRecheckInterval
	}
	if o.MarkTimeout <= 0 {
		o.MarkTimeout = DefaultMarkTimeout
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NoopRecorder{}
	}
	return o
}

// markPrefix starts every mark line of one SplitLog; each synchronization
// appends its own sequence number, so a late mark of an abandoned
// synchronization never matches the one armed after it.
func markPrefix() string {
	return "\n[cascade:sync-mark:" + uuid.NewString() + "#"
}

// pendingSide is a side sink armed by Cutover, installed by the writer at the
// next mark.
type pendingSide struct {
	w io.Writer
}

// SplitLog is an io.Writer fed with the raw output of a remote process. Every
// byte goes to the core sink. Bytes also go to the current side sink, or to
// the unclaimed buffer when there is none.
type SplitLog struct {
	core   io.Writer
	prefix string
	opts   Options

	mu sync.Mutex
	// scanner looks for the mark of the armed synchronization; nil when none
	// is waiting.
	scanner   *MarkScanner
	seq       uint64 // last synchronization started
	side      io.Writer
	unclaimed *unclaimed
	pending   *pendingSide
	marks     uint64
	markCh    chan struct{}
	err       error
	closed    bool

	syncSem chan struct{}
}

// New creates a SplitLog writing to core. No side sink is installed.
func New(core io.Writer, opts Options) *SplitLog {
	opts = opts.withDefaults()
	return &SplitLog{
		core:      core,
		prefix:    markPrefix(),
		opts:      opts,
		unclaimed: newUnclaimed(opts.SpillThreshold, opts.SpillDir),
		markCh:    make(chan struct{}),
		syncSem:   make(chan struct{}, 1),
	}
}

func (l *SplitLog) markFor(seq uint64) []byte {
	return []byte(l.prefix + strconv.FormatUint(seq, 10) + "]\n")
}

// Marker returns the mark line of the most recent synchronization.
func (l *SplitLog) Marker() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.markFor(l.seq)
}

// Marks is the number of synchronization marks accepted so far. Marks of
// abandoned synchronizations are not counted.
func (l *SplitLog) Marks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks
}

// Write implements io.Writer. Bytes up to and including a mark go to the side
// sink current at that moment; an armed cutover takes effect right after it.
// Spill failures are sticky: every later Write returns the same error.
func (l *SplitLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	if l.err != nil {
		return 0, l.err
	}

	var errs []error
	if _, err := l.core.Write(p); err != nil {
		errs = append(errs, err)
	}

	start := 0
	if l.scanner != nil {
		if ends := l.scanner.Feed(p); len(ends) > 0 {
			start = ends[0]
			if err := l.routeLocked(p[:start]); err != nil {
				errs = append(errs, err)
			}
			if err := l.markLocked(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if start < len(p) {
		if err := l.routeLocked(p[start:]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return len(p), errors.Join(errs...)
	}
	return len(p), nil
}

func (l *SplitLog) routeLocked(seg []byte) error {
	if len(seg) == 0 {
		return nil
	}
	if l.side != nil {
		_, err := l.side.Write(seg)
		return err
	}
	spilled, err := l.unclaimed.Write(seg)
	if spilled > 0 {
		l.opts.Recorder.AddSpilledBytes(spilled)
	}
	if err != nil {
		l.err = err
		slog.Error("Unclaimed output lost", "error", err)
	}
	return err
}

func (l *SplitLog) markLocked() error {
	l.marks++
	l.scanner = nil
	var err error
	if l.pending != nil {
		err = l.installLocked(l.pending.w)
		l.pending = nil
	}
	close(l.markCh)
	l.markCh = make(chan struct{})
	return err
}

// installLocked swaps the side sink. A real sink first receives whatever
// accumulated while none was installed.
func (l *SplitLog) installLocked(w io.Writer) error {
	l.side = w
	if w == nil {
		return nil
	}
	if err := l.unclaimed.DrainTo(w); err != nil {
		l.err = err
		return err
	}
	return nil
}

// SetSide installs w as the side sink right away. nil installs the unclaimed
// buffer. Output ordering relative to the remote process is only guaranteed
// through Cutover.
func (l *SplitLog) SetSide(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.err != nil {
		return l.err
	}
	return l.installLocked(w)
}

// Side returns the current side sink; nil when output is unclaimed.
func (l *SplitLog) Side() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.side
}

// Unclaimed is the number of bytes waiting for a side sink.
func (l *SplitLog) Unclaimed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unclaimed.Len()
}

// Err returns the sticky write error, if any.
func (l *SplitLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close discards unclaimed output and removes its spill file. Sinks are owned
// by the caller and are not closed.
func (l *SplitLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if n := l.unclaimed.Len(); n > 0 {
		slog.Debug("Discarding unclaimed output", "bytes", n)
	}
	l.unclaimed.discard()
	l.pending = nil
	l.scanner = nil
	close(l.markCh)
	l.markCh = make(chan struct{})
	return l.err
}
