package events

import (
	"time"

	"git.home.luguber.info/inful/cascade/internal/model"
)

// BuildFinished is published by the build queue after a build reached its
// terminal result and left the active set. The dispatcher consumes it to
// evaluate downstream triggers.
type BuildFinished struct {
	Build      *model.Build
	FinishedAt time.Time
}

// GraphReloaded is published after a configuration change swapped the
// dependency graph snapshot.
type GraphReloaded struct {
	Projects   int
	ReloadedAt time.Time
}
