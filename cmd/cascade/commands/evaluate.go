package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/cascade/internal/eventstore"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/trigger"
)

// EvaluateCmd implements the 'evaluate' command.
type EvaluateCmd struct {
	Project    string `required:"" help:"Finished upstream project"`
	Number     int    `help:"Upstream build number; 0 means the last recorded build"`
	Downstream string `required:"" help:"Downstream project to evaluate"`
}

// idle reports nothing in flight; the dry run has no live queue.
type idle struct{}

func (idle) IsBuildingOrQueued(string) bool { return false }

func (e *EvaluateCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gr, err := loadGraph(cfg)
	if err != nil {
		return err
	}

	store, err := eventstore.NewSQLiteStore(cfg.Storage.EventDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	history := eventstore.NewBuildHistoryProjection(store, cfg.Storage.HistorySize)
	if err := history.Rebuild(ctx); err != nil {
		return err
	}

	finished, err := e.finishedBuild(ctx, history)
	if err != nil {
		return err
	}

	engine := trigger.NewEngine(trigger.StaticGraph(gr), history, idle{})
	out := g.out()
	d := engine.Evaluate(ctx, finished, e.Downstream, out)
	_, err = fmt.Fprintf(out, "%s -> %s: trigger=%t rule=%s\n", finished.ID(), e.Downstream, d.Trigger, d.Rule)
	return err
}

func (e *EvaluateCmd) finishedBuild(ctx context.Context, history *eventstore.BuildHistoryProjection) (*model.Build, error) {
	if e.Number > 0 {
		if b, ok := history.Build(e.Project, e.Number); ok {
			return b, nil
		}
	} else {
		b, err := history.LastBuild(ctx, e.Project)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
	}
	return nil, ferrors.NotFoundError("no such build in the event database").
		WithContext("project", e.Project).
		WithContext("number", e.Number).
		Build()
}
