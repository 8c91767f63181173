package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/logfields"
)

// DefaultReloadDebounce collapses bursts of editor writes into one reload.
const DefaultReloadDebounce = 2 * time.Second

// ConfigWatcher reloads the project graph when the configuration file changes.
// Only the project declarations are hot-swapped; other sections need a restart.
type ConfigWatcher struct {
	path     string
	apply    func(context.Context, *config.Config) error
	fsw      *fsnotify.Watcher
	debounce atomic.Int64 // time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewConfigWatcher(configPath string, d *Daemon) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to resolve config path").
			WithContext("path", configPath).Build()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to create file watcher").Build()
	}
	cw := &ConfigWatcher{path: abs, apply: d.ReloadProjects, fsw: fsw, done: make(chan struct{})}
	cw.debounce.Store(int64(DefaultReloadDebounce))
	return cw, nil
}

// SetDebounce changes the quiet period required before a reload. It takes
// effect with the next change.
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.debounce.Store(int64(d))
}

// Start watches the directory holding the file, since editors that save by
// rename would otherwise drop the watch.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.path)
	if err := cw.fsw.Add(dir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to watch config directory").
			WithContext("dir", dir).Build()
	}
	slog.Info("Watching configuration", "config_path", cw.path)
	go cw.run(ctx)
	return nil
}

func (cw *ConfigWatcher) Stop(_ context.Context) error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.done)
		err = cw.fsw.Close()
	})
	return err
}

// run restarts a debounce timer on every relevant event and reloads when it
// fires. The timer channel is nil while nothing is pending.
func (cw *ConfigWatcher) run(ctx context.Context) {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	name := filepath.Base(cw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.done:
			return
		case ev, ok := <-cw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Remove) {
				slog.Warn("Config file removed; keeping current graph", "file", ev.Name)
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			delay := time.Duration(cw.debounce.Load())
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := cw.reload(ctx); err != nil {
				slog.Error("Configuration reload failed", logfields.Error(err))
			}
		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reload(ctx context.Context) error {
	slog.Info("Reloading configuration", "config_path", cw.path)
	cfg, err := config.Load(cw.path)
	if err != nil {
		return err
	}
	return cw.apply(ctx, cfg)
}

// ReloadProjects swaps in the dependency graph declared by cfg. A graph that
// fails to build leaves the current snapshot in place.
func (d *Daemon) ReloadProjects(ctx context.Context, cfg *config.Config) error {
	g, err := buildGraph(cfg)
	if err != nil {
		return err
	}
	d.graphs.Swap(g)

	d.mu.Lock()
	d.config.Projects = cfg.Projects
	d.mu.Unlock()

	n := len(g.Projects())
	slog.Info("Project graph reloaded", slog.Int("projects", n))
	if cycles := g.Cycles(); len(cycles) > 0 {
		slog.Warn("Dependency cycles in reloaded graph", "projects", cycles)
	}
	return d.bus.Publish(ctx, events.GraphReloaded{Projects: n, ReloadedAt: time.Now()})
}
