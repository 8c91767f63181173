package daemon

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/cascade/internal/config"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/splitlog"
)

// Janitor periodically removes spill files left by crashed builds and prunes
// old build log directories.
type Janitor struct {
	scheduler gocron.Scheduler
	spillDir  string
	maxAge    time.Duration
	logDir    *splitlog.LogDir
	keep      int
	now       func() time.Time
}

// NewJanitor schedules the sweep on cfg's interval. It does not run until Start.
func NewJanitor(cfg config.JanitorConfig, spillDir string, logDir *splitlog.LogDir, keep int) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to create gocron scheduler").Build()
	}
	j := &Janitor{
		scheduler: s,
		spillDir:  spillDir,
		maxAge:    cfg.MaxAgeDuration(),
		logDir:    logDir,
		keep:      keep,
		now:       time.Now,
	}
	_, err = s.NewJob(
		gocron.DurationJob(cfg.IntervalDuration()),
		gocron.NewTask(func() { j.Sweep() }),
		gocron.WithName("janitor-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to schedule janitor").Build()
	}
	return j, nil
}

// Start begins the schedule.
func (j *Janitor) Start() {
	slog.Info("Starting janitor")
	j.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (j *Janitor) Stop() error {
	slog.Info("Stopping janitor")
	return j.scheduler.Shutdown()
}

// Sweep runs one cleanup pass and reports what it removed.
func (j *Janitor) Sweep() (spills, builds int) {
	spills, err := splitlog.SweepSpillFiles(j.spillDir, j.maxAge, j.now())
	if err != nil {
		slog.Warn("Spill sweep failed", logfields.Error(err))
	}
	if j.logDir != nil && j.keep > 0 {
		builds, err = j.logDir.Prune(j.keep)
		if err != nil {
			slog.Warn("Build log prune failed", logfields.Error(err))
		}
	}
	if spills > 0 || builds > 0 {
		slog.Info("Janitor sweep", slog.Int("spill_files", spills), slog.Int("build_dirs", builds))
	}
	return spills, builds
}
