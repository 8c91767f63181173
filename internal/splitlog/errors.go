package splitlog

import (
	"git.home.luguber.info/inful/cascade/internal/foundation/errors"
)

// Sentinel errors for split-log operations. Callers attach the underlying
// cause with WithCause, which returns a copy.
var (
	ErrClosed         = errors.SplitLogError("split log is closed").Build()
	ErrCallFailed     = errors.SplitLogError("remote mark call failed").Build()
	ErrMarkTimeout    = errors.SplitLogError("timed out waiting for sync mark").Build()
	ErrSyncCanceled   = errors.SplitLogError("synchronization canceled").Build()
	ErrSpillFailed    = errors.IOError("failed to spill unclaimed output").Build()
	ErrDrainFailed    = errors.IOError("failed to drain unclaimed output").Build()
	ErrSinkOpenFailed = errors.IOError("failed to open log sink").Build()
)
