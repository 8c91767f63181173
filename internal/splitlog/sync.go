package splitlog

import (
	"context"
	"io"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/cascade/internal/metrics"
)

// RemoteFunc is the function a Caller runs in the remote process: print
// Marker on the process's own output stream.
type RemoteFunc struct {
	Marker []byte
}

// Future delivers the outcome of a remote call exactly once.
type Future <-chan error

// Caller runs functions in the remote process whose output feeds a SplitLog.
type Caller interface {
	Call(ctx context.Context, fn RemoteFunc) Future
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, fn RemoteFunc) Future

func (f CallerFunc) Call(ctx context.Context, fn RemoteFunc) Future { return f(ctx, fn) }

// Resolved returns a Future that is already complete with err.
func Resolved(err error) Future {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// SynchronizeOnMark blocks until every byte the remote process wrote before
// the call has passed through the current side sink. Synchronizations are
// serialized; writers are never blocked by a waiting synchronization.
func (l *SplitLog) SynchronizeOnMark(ctx context.Context, caller Caller) error {
	return l.synchronize(ctx, caller, nil, false)
}

// Cutover synchronizes and installs next as the side sink at the mark. next
// may be nil to park output in the unclaimed buffer. On failure the side
// sink is left unchanged.
func (l *SplitLog) Cutover(ctx context.Context, caller Caller, next io.Writer) error {
	return l.synchronize(ctx, caller, next, true)
}

func (l *SplitLog) synchronize(ctx context.Context, caller Caller, next io.Writer, arm bool) error {
	select {
	case l.syncSem <- struct{}{}:
	case <-ctx.Done():
		l.opts.Recorder.IncSyncFailure(metrics.SyncFailureCanceled)
		return ErrSyncCanceled.WithCause(ctx.Err())
	}
	defer func() { <-l.syncSem }()

	started := time.Now()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return err
	}
	l.seq++
	mark := l.markFor(l.seq)
	l.scanner = NewMarkScanner(mark)
	target := l.marks + 1
	if arm {
		l.pending = &pendingSide{w: next}
	}
	l.mu.Unlock()

	future := caller.Call(ctx, RemoteFunc{Marker: mark})

	recheck := time.NewTicker(l.opts.RecheckInterval)
	defer recheck.Stop()
	deadline := time.NewTimer(l.opts.MarkTimeout)
	defer deadline.Stop()

	for {
		l.mu.Lock()
		reached := l.marks >= target
		wake := l.markCh
		closed := l.closed
		l.mu.Unlock()

		if reached {
			l.opts.Recorder.ObserveSyncDuration(time.Since(started))
			return nil
		}
		if closed {
			return ErrClosed
		}

		select {
		case <-wake:
		case <-recheck.C:
		case err, ok := <-future:
			// A successful call only means the mark was printed; keep
			// waiting until it comes through the stream.
			future = nil
			if ok && err != nil {
				return l.abandon(target, arm, metrics.SyncFailureCall, ErrCallFailed.WithCause(err))
			}
		case <-deadline.C:
			return l.abandon(target, arm, metrics.SyncFailureTimeout,
				ErrMarkTimeout.WithContext("timeout", l.opts.MarkTimeout.String()))
		case <-ctx.Done():
			return l.abandon(target, arm, metrics.SyncFailureCanceled, ErrSyncCanceled.WithCause(ctx.Err()))
		}
	}
}

// abandon gives up on a synchronization unless its mark arrived meanwhile.
// Its mark is no longer recognized afterwards, so a retry is safe.
func (l *SplitLog) abandon(target uint64, arm bool, reason metrics.SyncFailure, err error) error {
	l.mu.Lock()
	if l.marks >= target {
		l.mu.Unlock()
		return nil
	}
	l.scanner = nil
	if arm {
		l.pending = nil
	}
	l.mu.Unlock()

	l.opts.Recorder.IncSyncFailure(reason)
	slog.Warn("Log synchronization failed", "reason", string(reason), "error", err)
	return err
}
