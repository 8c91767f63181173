package eventstore

import (
	"context"

	"git.home.luguber.info/inful/cascade/internal/model"
)

// Journal appends events to the store and applies them to the projection in
// one step, so readers of the projection never run ahead of the durable log.
type Journal struct {
	store      Store
	projection *BuildHistoryProjection
}

// NewJournal pairs a store with its projection.
func NewJournal(store Store, projection *BuildHistoryProjection) *Journal {
	return &Journal{store: store, projection: projection}
}

// Record persists event, then applies the stored entry.
func (j *Journal) Record(ctx context.Context, event Event) error {
	stored, err := j.store.Append(ctx, event.Entry())
	if err != nil {
		return err
	}
	j.projection.Apply(stored)
	return nil
}

// EmitBuildStarted records the start of b.
func (j *Journal) EmitBuildStarted(ctx context.Context, b *model.Build) error {
	ev, err := NewBuildStarted(b)
	if err != nil {
		return err
	}
	return j.Record(ctx, ev)
}

// EmitBuildCompleted records the result of b.
func (j *Journal) EmitBuildCompleted(ctx context.Context, b *model.Build) error {
	ev, err := NewBuildCompleted(b)
	if err != nil {
		return err
	}
	return j.Record(ctx, ev)
}

// Projection returns the read model.
func (j *Journal) Projection() *BuildHistoryProjection {
	return j.projection
}
