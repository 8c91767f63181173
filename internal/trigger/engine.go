// Package trigger decides whether a finished build should start builds of its
// downstream projects, and dispatches the approved ones to the scheduler.
//
// The engine keeps no state of its own. It reads one graph snapshot, the
// build history and the scheduler's activity per evaluation, and relies on
// being invoked again whenever another upstream finishes.
package trigger

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/metrics"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/util/sets"
)

// Engine evaluates downstream trigger decisions.
type Engine struct {
	graphs   GraphSource
	store    BuildStore
	activity Activity
	recorder metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder counts decisions on r.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine creates an engine over the injected collaborators.
func NewEngine(graphs GraphSource, store BuildStore, activity Activity, opts ...Option) *Engine {
	e := &Engine{
		graphs:   graphs,
		store:    store,
		activity: activity,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ShouldTrigger reports whether finished should trigger a build of downstream.
func (e *Engine) ShouldTrigger(ctx context.Context, finished *model.Build, downstream string) bool {
	return e.Evaluate(ctx, finished, downstream, nil).Trigger
}

// Evaluate applies the trigger rules in order; the first rule that matches
// decides. Operator-facing lines go to console (the upstream build's console
// log) when it is non-nil. Evaluate never fails: unreadable history yields a
// negative decision.
func (e *Engine) Evaluate(ctx context.Context, finished *model.Build, downstream string, console io.Writer) Decision {
	ev := &evaluation{
		ctx:        ctx,
		engine:     e,
		finished:   finished,
		downstream: downstream,
		console:    console,
	}
	d := ev.run()
	e.recorder.IncTriggerDecision(string(d.Rule), d.Trigger)
	slog.Debug("Trigger decision",
		logfields.Upstream(buildLabel(finished)),
		logfields.Downstream(downstream),
		logfields.Rule(string(d.Rule)),
		slog.Bool("trigger", d.Trigger))
	return d
}

func buildLabel(b *model.Build) string {
	if b == nil {
		return ""
	}
	return b.ID()
}

type evaluation struct {
	ctx        context.Context
	engine     *Engine
	finished   *model.Build
	downstream string
	console    io.Writer
	messages   []string
}

func (ev *evaluation) decide(trigger bool, rule Rule) Decision {
	return Decision{Trigger: trigger, Rule: rule, Messages: ev.messages}
}

// note records an operator-facing line on the upstream console and in the log.
func (ev *evaluation) note(level slog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ev.messages = append(ev.messages, msg)
	if ev.console != nil {
		_, _ = fmt.Fprintln(ev.console, msg)
	}
	slog.Log(ev.ctx, level, msg,
		logfields.Upstream(ev.finished.Project),
		logfields.BuildNumber(ev.finished.Number),
		logfields.Downstream(ev.downstream))
}

func (ev *evaluation) run() Decision {
	finished := ev.finished
	if !finished.Terminal() {
		return ev.decide(false, RuleNotTerminal)
	}

	g := ev.engine.graphs.Snapshot()
	candidate, ok := g.Project(ev.downstream)
	if !ok {
		ev.note(slog.LevelWarn, "Downstream project %s is not in the dependency graph", ev.downstream)
		return ev.decide(false, RuleUnknownProject)
	}

	if finished.Result.IsWorseThan(model.ResultSuccess) {
		return ev.decide(false, RuleResult)
	}

	upstreams := g.TransitiveUpstream(ev.downstream)
	if d, stop := ev.upstreamBuilding(g, upstreams); stop {
		return d
	}

	if finished.Release {
		ev.note(slog.LevelInfo, "Not triggering %s because %s is a release build", ev.downstream, finished.ID())
		return ev.decide(false, RuleRelease)
	}

	if d, stop := ev.convergence(g, upstreams); stop {
		return d
	}

	return ev.upstreamsComplete(g, candidate)
}

// upstreamBuilding defers the candidate while any other transitive upstream is
// building or queued. Upstreams sharing the finished build's root are skipped:
// a module finishes while its own module set is still running, and the set
// does not re-evaluate its modules' downstreams when it ends. Whether the
// candidate's root blocks only changes how the deferral is reported.
func (ev *evaluation) upstreamBuilding(g Graph, upstreams sets.Set[string]) (Decision, bool) {
	finishedRoot := ev.finished.Project
	if p, ok := g.Project(finishedRoot); ok {
		finishedRoot = p.RootName()
	}
	for _, name := range sets.Sorted(upstreams) {
		if name == ev.finished.Project || !ev.engine.activity.IsBuildingOrQueued(name) {
			continue
		}
		if p, ok := g.Project(name); ok && p.RootName() == finishedRoot {
			continue
		}
		root, _ := g.Root(ev.downstream)
		if root.Policy.BlockTriggerWhenBuilding {
			ev.note(slog.LevelInfo, "Not triggering %s because it has a dependency %s already building or in queue", ev.downstream, name)
		} else {
			ev.note(slog.LevelInfo, "Deferring %s until its upstream %s, which is building or queued, finishes", ev.downstream, name)
		}
		return ev.decide(false, RuleUpstreamBuilding), true
	}
	return Decision{}, false
}

// convergence leaves the candidate to a sibling downstream of the finished
// project that also sits upstream of the candidate; that sibling's own
// completion re-evaluates the candidate.
func (ev *evaluation) convergence(g Graph, upstreams sets.Set[string]) (Decision, bool) {
	siblings := sets.New[string]()
	for _, p := range g.ImmediateDownstream(ev.finished.Project) {
		siblings.Add(p.Name)
	}
	for _, t := range sets.Sorted(upstreams) {
		if t == ev.finished.Project || t == ev.downstream || !siblings.Has(t) {
			continue
		}
		ev.note(slog.LevelInfo, "Not triggering %s because it will be triggered through %s", ev.downstream, t)
		return ev.decide(false, RuleConvergence), true
	}
	return Decision{}, false
}

func (ev *evaluation) upstreamsComplete(g Graph, candidate model.Project) Decision {
	ignore := candidate.Policy.IgnoreUnsuccessfulUpstreams
	store := ev.engine.store

	var dlb *model.Build
	dlbLoaded := false

	for _, up := range g.ImmediateUpstream(ev.downstream) {
		if !up.Kind.Buildable() {
			continue
		}

		var ulb *model.Build
		if up.Name == ev.finished.Project {
			ulb = ev.finished
		} else {
			var err error
			ulb, err = store.LastSuccessfulBuild(ev.ctx, up.Name)
			if err != nil {
				ev.storeError(up.Name, err)
				return ev.decide(false, RuleStoreError)
			}
		}

		if ulb == nil {
			if !ignore {
				ev.note(slog.LevelInfo, "Not triggering %s because its upstream %s has no successful build", ev.downstream, up.Name)
				return ev.decide(false, RuleMissingUpstream)
			}
			ev.note(slog.LevelInfo, "Upstream %s of %s has no successful build; ignoring as configured", up.Name, ev.downstream)
			continue
		}

		if !dlbLoaded {
			var err error
			dlb, err = store.LastBuild(ev.ctx, ev.downstream)
			if err != nil {
				ev.storeError(ev.downstream, err)
				return ev.decide(false, RuleStoreError)
			}
			dlbLoaded = true
		}
		if dlb == nil {
			continue
		}
		n, ok := dlb.UpstreamBuild(up.Name)
		if !ok {
			continue
		}
		if !ignore && ulb.Number < n {
			slog.Warn("Upstream build number went backwards",
				logfields.Upstream(up.Name),
				logfields.Downstream(ev.downstream),
				slog.Int("upstream_build", ulb.Number),
				slog.Int("recorded_build", n),
				slog.String("downstream_build", dlb.ID()))
		}
	}
	return ev.decide(true, RuleApproved)
}

func (ev *evaluation) storeError(project string, err error) {
	slog.Error("Cannot read build history; not triggering",
		logfields.Project(project),
		logfields.Downstream(ev.downstream),
		logfields.Error(err))
	ev.messages = append(ev.messages, fmt.Sprintf("Not triggering %s because build history of %s is unavailable", ev.downstream, project))
}
