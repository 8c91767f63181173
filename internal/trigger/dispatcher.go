package trigger

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"git.home.luguber.info/inful/cascade/internal/eventstore"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/util/sets"
)

// Outcome is what happened to one downstream candidate of a finished build.
type Outcome struct {
	Downstream string
	Decision   Decision
	Enqueued   bool
	Err        error
}

// Dispatcher fans a finished build out over its downstream candidates.
type Dispatcher struct {
	engine    *Engine
	graphs    GraphSource
	scheduler Scheduler
	journal   Journal
}

// NewDispatcher creates a dispatcher. journal may be nil.
func NewDispatcher(engine *Engine, scheduler Scheduler, journal Journal) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		graphs:    engine.graphs,
		scheduler: scheduler,
		journal:   journal,
	}
}

// Candidates lists the projects to evaluate for a build of project, in name
// order. Downstreams of a module's module set are included. Projects of the
// same module set are left out: the set builds its own modules.
func (d *Dispatcher) Candidates(project string) []string {
	g := d.graphs.Snapshot()
	root := project
	var downs []model.Project
	downs = append(downs, g.ImmediateDownstream(project)...)
	if p, ok := g.Project(project); ok {
		root = p.RootName()
		if p.Kind == model.KindModule {
			downs = append(downs, g.ImmediateDownstream(p.Parent)...)
		}
	}

	seen := sets.New[string]()
	for _, down := range downs {
		if down.Name == project || down.RootName() == root {
			continue
		}
		seen.Add(down.Name)
	}
	return sets.Sorted(seen)
}

// OnBuildCompleted evaluates every candidate once and enqueues approved ones
// with an upstream cause. Scheduler and journal failures are logged and
// reported in the outcomes; they never stop the remaining candidates.
func (d *Dispatcher) OnBuildCompleted(ctx context.Context, build *model.Build, console io.Writer) []Outcome {
	if !build.Terminal() {
		return nil
	}
	candidates := d.Candidates(build.Project)
	outcomes := make([]Outcome, 0, len(candidates))
	for _, name := range candidates {
		o := Outcome{Downstream: name, Decision: d.engine.Evaluate(ctx, build, name, console)}
		if o.Decision.Trigger {
			if err := d.scheduler.Enqueue(name, model.UpstreamCause(build)); err != nil {
				o.Err = err
				slog.Error("Failed to enqueue downstream build",
					logfields.Upstream(build.ID()),
					logfields.Downstream(name),
					logfields.Error(err))
			} else {
				o.Enqueued = true
				slog.Info("Triggered downstream build",
					logfields.Upstream(build.ID()),
					logfields.Downstream(name))
			}
		}
		d.record(ctx, build, o)
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (d *Dispatcher) record(ctx context.Context, build *model.Build, o Outcome) {
	if d.journal == nil {
		return
	}
	ev, err := eventstore.NewTriggerEvaluated(eventstore.TriggerEvaluatedPayload{
		Upstream:       build.Project,
		UpstreamNumber: build.Number,
		Downstream:     o.Downstream,
		Triggered:      o.Enqueued,
		Rule:           string(o.Decision.Rule),
		Messages:       slices.Clone(o.Decision.Messages),
	})
	if err == nil {
		err = d.journal.Record(ctx, ev)
	}
	if err != nil {
		slog.Warn("Failed to record trigger decision",
			logfields.Upstream(build.ID()),
			logfields.Downstream(o.Downstream),
			logfields.Error(err))
	}
}
