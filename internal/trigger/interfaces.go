package trigger

import (
	"context"

	"git.home.luguber.info/inful/cascade/internal/eventstore"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/util/sets"
)

// Graph is the read view of the dependency graph the engine consults.
type Graph interface {
	Project(name string) (model.Project, bool)
	Root(name string) (model.Project, bool)
	TransitiveUpstream(name string) sets.Set[string]
	ImmediateUpstream(name string) []model.Project
	ImmediateDownstream(name string) []model.Project
}

// GraphSource hands out the graph snapshot to use for one evaluation.
type GraphSource interface {
	Snapshot() Graph
}

// GraphFunc adapts a function to GraphSource.
type GraphFunc func() Graph

func (f GraphFunc) Snapshot() Graph { return f() }

// StaticGraph serves a single fixed snapshot.
func StaticGraph(g Graph) GraphSource {
	return GraphFunc(func() Graph { return g })
}

// BuildStore reads build history. A nil build with a nil error means "none".
type BuildStore interface {
	LastBuild(ctx context.Context, project string) (*model.Build, error)
	LastSuccessfulBuild(ctx context.Context, project string) (*model.Build, error)
}

// Activity reports in-flight work.
type Activity interface {
	IsBuildingOrQueued(project string) bool
}

// Scheduler accepts approved downstream builds.
type Scheduler interface {
	Enqueue(project string, cause model.Cause) error
}

// Journal records trigger evaluations for later inspection.
type Journal interface {
	Record(ctx context.Context, event eventstore.Event) error
}
