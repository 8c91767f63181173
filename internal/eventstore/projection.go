// Package eventstore persists build lifecycle events and projects them into the
// build history the trigger engine and queue read.
package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/model"
)

// BuildHistoryProjection maintains an in-memory view of per-project build
// history, reconstructed from the event store and kept current with Apply.
type BuildHistoryProjection struct {
	mu             sync.RWMutex
	store          Store
	builds         map[string][]*model.Build // project -> builds ordered by number
	lastSuccessful map[string]*model.Build
	highest        map[string]int
	decisions      map[string][]TriggerEvaluatedPayload // downstream -> newest last
	maxSize        int
	seq            int64 // last applied entry
	lastSync       time.Time
}

// NewBuildHistoryProjection creates a new projection backed by the given store.
// maxHistorySize bounds the builds and decisions kept per project.
func NewBuildHistoryProjection(store Store, maxHistorySize int) *BuildHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	p := &BuildHistoryProjection{store: store, maxSize: maxHistorySize}
	p.resetLocked()
	return p
}

func (p *BuildHistoryProjection) resetLocked() {
	p.builds = make(map[string][]*model.Build)
	p.lastSuccessful = make(map[string]*model.Build)
	p.highest = make(map[string]int)
	p.decisions = make(map[string][]TriggerEvaluatedPayload)
}

// Rebuild discards the projection and replays the whole log.
func (p *BuildHistoryProjection) Rebuild(ctx context.Context) error {
	p.mu.Lock()
	p.resetLocked()
	p.seq = 0
	p.mu.Unlock()
	return p.CatchUp(ctx)
}

// CatchUp applies entries appended by other writers since the last applied one.
func (p *BuildHistoryProjection) CatchUp(ctx context.Context) error {
	p.mu.RLock()
	from := p.seq
	p.mu.RUnlock()

	entries, err := p.store.After(ctx, from)
	if err != nil {
		return ErrProjectionRebuildFailed.WithCause(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		p.applyLocked(e)
	}
	p.lastSync = time.Now()
	return nil
}

// Apply folds one stored entry into the projection. Entries at or below the
// last applied sequence are ignored.
func (p *BuildHistoryProjection) Apply(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(e)
}

// Seq returns the sequence number of the last applied entry.
func (p *BuildHistoryProjection) Seq() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

func (p *BuildHistoryProjection) applyLocked(e Entry) {
	if e.Seq != 0 {
		if e.Seq <= p.seq {
			return
		}
		p.seq = e.Seq
	}
	switch e.Type {
	case TypeBuildStarted:
		var body BuildStartedPayload
		if err := json.Unmarshal(e.Payload, &body); err != nil {
			skipMalformed(e, err)
			return
		}
		b := p.upsertLocked(body.Project, body.Number)
		b.Cause = body.Cause
		b.Release = body.Release
		b.UpstreamRelationship = body.UpstreamRelationship
		b.StartedAt = body.StartedAt

	case TypeBuildCompleted:
		var body BuildCompletedPayload
		if err := json.Unmarshal(e.Payload, &body); err != nil {
			skipMalformed(e, err)
			return
		}
		b := p.upsertLocked(body.Project, body.Number)
		if b.Result != nil {
			// results are immutable once set
			return
		}
		b.Result = body.Result.Ptr()
		b.CompletedAt = body.CompletedAt
		if b.IsSuccessful() {
			if prev := p.lastSuccessful[b.Project]; prev == nil || prev.Number < b.Number {
				p.lastSuccessful[b.Project] = b
			}
		}

	case TypeTriggerEvaluated:
		var body TriggerEvaluatedPayload
		if err := json.Unmarshal(e.Payload, &body); err != nil {
			skipMalformed(e, err)
			return
		}
		list := append(p.decisions[body.Downstream], body)
		if len(list) > p.maxSize {
			list = list[len(list)-p.maxSize:]
		}
		p.decisions[body.Downstream] = list
	}
}

func skipMalformed(e Entry, err error) {
	slog.Warn("Skipping malformed event", logfields.BuildID(e.BuildID), "type", e.Type, "seq", e.Seq, logfields.Error(err))
}

// upsertLocked returns the build record for project#number, creating it in
// number order. Oldest builds beyond maxSize are dropped; the last successful
// build is tracked separately so trimming never loses it.
func (p *BuildHistoryProjection) upsertLocked(project string, number int) *model.Build {
	list := p.builds[project]
	i, found := slices.BinarySearchFunc(list, number, func(b *model.Build, n int) int { return b.Number - n })
	if found {
		return list[i]
	}
	b := &model.Build{Project: project, Number: number}
	list = slices.Insert(list, i, b)
	if len(list) > p.maxSize {
		list = list[len(list)-p.maxSize:]
	}
	p.builds[project] = list
	if number > p.highest[project] {
		p.highest[project] = number
	}
	return b
}

// LastBuild returns the newest build of project, running or not. It returns
// nil when the project has never been built.
func (p *BuildHistoryProjection) LastBuild(_ context.Context, project string) (*model.Build, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.builds[project]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1].Clone(), nil
}

// LastSuccessfulBuild returns the newest build of project that finished
// UNSTABLE or better, or nil.
func (p *BuildHistoryProjection) LastSuccessfulBuild(_ context.Context, project string) (*model.Build, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccessful[project].Clone(), nil
}

// NextNumber returns the number the next build of project should use.
func (p *BuildHistoryProjection) NextNumber(project string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.highest[project] + 1
}

// Build returns a single build record.
func (p *BuildHistoryProjection) Build(project string, number int) (*model.Build, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.builds[project]
	i, found := slices.BinarySearchFunc(list, number, func(b *model.Build, n int) int { return b.Number - n })
	if !found {
		return nil, false
	}
	return list[i].Clone(), true
}

// Builds returns the retained builds of project, newest first.
func (p *BuildHistoryProjection) Builds(project string) []*model.Build {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.builds[project]
	out := make([]*model.Build, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i].Clone())
	}
	return out
}

// Decisions returns recent trigger evaluations with downstream as candidate, newest first.
func (p *BuildHistoryProjection) Decisions(downstream string) []TriggerEvaluatedPayload {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := slices.Clone(p.decisions[downstream])
	slices.Reverse(out)
	return out
}

// LastSyncTime returns when the projection last caught up with the store.
func (p *BuildHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
