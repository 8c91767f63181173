// Package executor runs queued builds on a remote agent and splits the agent's
// output into per-module log segments.
package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"sync"

	"git.home.luguber.info/inful/cascade/internal/build/queue"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/graph"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/splitlog"
	"git.home.luguber.info/inful/cascade/internal/transport"
)

// ModuleRecorder records the module builds of a running module set build.
type ModuleRecorder interface {
	StartModule(ctx context.Context, parent *model.Build, module string) (*model.Build, error)
	FinishModule(ctx context.Context, b *model.Build, result model.Result)
}

// SegmentOpener creates module log segments.
type SegmentOpener interface {
	OpenSegment(b *model.Build, module string) (*splitlog.FileSink, error)
}

// RemoteBuilder implements queue.Builder by running builds on an agent.
type RemoteBuilder struct {
	launcher transport.Launcher
	graphs   *graph.Holder
	segments SegmentOpener
	opts     splitlog.Options

	mu      sync.RWMutex
	modules ModuleRecorder
}

// NewRemoteBuilder returns a builder launching through launcher.
func NewRemoteBuilder(launcher transport.Launcher, graphs *graph.Holder, segments SegmentOpener, opts splitlog.Options) *RemoteBuilder {
	return &RemoteBuilder{launcher: launcher, graphs: graphs, segments: segments, opts: opts}
}

// SetModules injects the module recorder, normally the build queue itself.
func (r *RemoteBuilder) SetModules(m ModuleRecorder) {
	r.mu.Lock()
	r.modules = m
	r.mu.Unlock()
}

func (r *RemoteBuilder) moduleRecorder() ModuleRecorder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules
}

// Build runs job.Build on the agent. A module set's result is the worst of
// its modules' results.
func (r *RemoteBuilder) Build(ctx context.Context, job *queue.BuildJob) (model.Result, error) {
	b := job.Build
	if b == nil {
		return model.ResultFailure, ferrors.BuildError("job has no build").WithContext("job_id", job.ID).Build()
	}
	p, ok := r.graphs.Snapshot().Project(b.Project)
	if !ok {
		return model.ResultNotBuilt, ferrors.NotFoundError("project vanished from graph").WithContext("project", b.Project).Build()
	}

	req := transport.RunRequest{BuildID: b.ID(), Project: b.Project, Number: b.Number, Command: p.Command}
	if p.Kind == model.KindModuleSet {
		for _, m := range r.graphs.Snapshot().BuildOrder(p.Name) {
			req.Modules = append(req.Modules, transport.ModuleStep{Name: m.Name, Command: m.Command})
		}
	}

	console := job.Console
	if console == nil {
		console = io.Discard
	}
	log := splitlog.New(console, r.opts)
	defer func() { _ = log.Close() }()

	run := &moduleRun{
		parent:   b,
		log:      log,
		modules:  r.moduleRecorder(),
		segments: r.segments,
		results:  make(map[string]model.Result),
		ready:    make(chan struct{}),
	}
	session, err := r.launcher.Launch(ctx, req, log, run.handle)
	if err != nil {
		close(run.ready)
		return model.ResultFailure, err
	}
	run.session = session
	close(run.ready)
	defer func() { _ = session.Close() }()

	done, err := session.Wait(ctx)
	if err != nil {
		run.abandon(context.WithoutCancel(ctx), model.ResultAborted)
		if ctx.Err() != nil {
			return model.ResultAborted, ctx.Err()
		}
		return model.ResultFailure, err
	}
	run.abandon(ctx, model.ResultFailure)

	result := done.Result
	if results := run.moduleResults(); len(req.Modules) > 0 && len(results) > 0 {
		result = model.ResultSuccess
		for _, res := range results {
			result = result.Combine(res)
		}
	}
	if err := errors.Join(log.Err(), run.err()); err != nil {
		return result.Combine(model.ResultFailure), ferrors.WrapError(err, ferrors.CategoryIO, "build log could not be split").
			WithContext("build_id", b.ID()).
			Fatal().
			Build()
	}
	if done.Error != "" {
		return result.Combine(model.ResultFailure), transport.ErrRemote.WithContext("remote", done.Error).WithContext("build_id", b.ID())
	}
	return result, nil
}

// moduleRun tracks the module boundaries of one module set build.
type moduleRun struct {
	parent   *model.Build
	log      *splitlog.SplitLog
	modules  ModuleRecorder
	segments SegmentOpener
	session  transport.Session
	ready    chan struct{}

	mu       sync.Mutex
	current  *openModule
	results  map[string]model.Result
	firstErr error
}

type openModule struct {
	build   *model.Build
	segment io.WriteCloser
}

func (m *moduleRun) handle(ctx context.Context, ev transport.ModuleEvent) error {
	<-m.ready
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Phase {
	case transport.ModuleStarting:
		return m.startLocked(ctx, ev.Module)
	case transport.ModuleFinished:
		res := model.ResultFailure
		if ev.Result != nil {
			res = *ev.Result
		}
		return m.finishLocked(ctx, ev.Module, res)
	default:
		return ferrors.ValidationError("unknown module phase").WithContext("phase", string(ev.Phase)).Build()
	}
}

func (m *moduleRun) startLocked(ctx context.Context, module string) error {
	if m.current != nil {
		if err := m.finishLocked(ctx, m.current.build.Project, model.ResultFailure); err != nil {
			return err
		}
	}

	var mb *model.Build
	if m.modules != nil {
		var err error
		if mb, err = m.modules.StartModule(ctx, m.parent, module); err != nil {
			return m.fail(err)
		}
	} else {
		mb = &model.Build{Project: module, Number: m.parent.Number}
	}

	var seg io.WriteCloser = nopCloser{io.Discard}
	if m.segments != nil {
		s, err := m.segments.OpenSegment(m.parent, module)
		if err != nil {
			return m.fail(err)
		}
		seg = s
	}
	if err := m.log.Cutover(ctx, m.session, seg); err != nil {
		_ = seg.Close()
		if m.modules != nil {
			m.modules.FinishModule(ctx, mb, model.ResultFailure)
		}
		m.results[module] = model.ResultFailure
		return m.fail(err)
	}
	m.current = &openModule{build: mb, segment: seg}
	slog.Debug("Module log opened", logfields.BuildID(m.parent.ID()), logfields.Module(module))
	return nil
}

func (m *moduleRun) finishLocked(ctx context.Context, module string, res model.Result) error {
	m.results[module] = res

	if m.current == nil || m.current.build.Project != module {
		// never started, e.g. skipped after an earlier failure
		if m.modules != nil {
			mb, err := m.modules.StartModule(ctx, m.parent, module)
			if err != nil {
				return m.fail(err)
			}
			m.modules.FinishModule(ctx, mb, res)
		}
		return nil
	}

	cur := m.current
	m.current = nil
	cutErr := m.log.Cutover(ctx, m.session, nil)
	if err := cur.segment.Close(); err != nil && cutErr == nil {
		cutErr = err
	}
	if m.modules != nil {
		m.modules.FinishModule(ctx, cur.build, res)
	}
	if cutErr != nil {
		return m.fail(cutErr)
	}
	return nil
}

// abandon closes a module the agent never finished.
func (m *moduleRun) abandon(ctx context.Context, res model.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	cur := m.current
	m.current = nil
	m.results[cur.build.Project] = res
	_ = m.log.SetSide(nil)
	_ = cur.segment.Close()
	if m.modules != nil {
		m.modules.FinishModule(ctx, cur.build, res)
	}
}

func (m *moduleRun) fail(err error) error {
	if m.firstErr == nil {
		m.firstErr = err
	}
	slog.Error("Module boundary failed", logfields.BuildID(m.parent.ID()), logfields.Error(err))
	return err
}

func (m *moduleRun) err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstErr
}

func (m *moduleRun) moduleResults() map[string]model.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.results)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

var _ queue.Builder = (*RemoteBuilder)(nil)
