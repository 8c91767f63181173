package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cascade/internal/graph"
	"git.home.luguber.info/inful/cascade/internal/metrics"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/util/sets"
)

type memStore struct {
	last    map[string]*model.Build
	success map[string]*model.Build
	err     error
}

func newMemStore() *memStore {
	return &memStore{last: map[string]*model.Build{}, success: map[string]*model.Build{}}
}

func (s *memStore) add(b *model.Build) {
	s.last[b.Project] = b
	if b.IsSuccessful() {
		s.success[b.Project] = b
	}
}

func (s *memStore) LastBuild(_ context.Context, project string) (*model.Build, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.last[project], nil
}

func (s *memStore) LastSuccessfulBuild(_ context.Context, project string) (*model.Build, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.success[project], nil
}

type activeSet sets.Set[string]

func (a activeSet) IsBuildingOrQueued(project string) bool {
	_, ok := a[project]
	return ok
}

type countingRecorder struct {
	metrics.NoopRecorder
	mu        sync.Mutex
	decisions map[string]int
}

func (r *countingRecorder) IncTriggerDecision(rule string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = map[string]int{}
	}
	r.decisions[rule]++
}

type enqueued struct {
	project string
	cause   model.Cause
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (s *fakeScheduler) Enqueue(project string, cause model.Cause) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, enqueued{project, cause})
	return nil
}

func mustGraph(t *testing.T, projects ...model.Project) *graph.Graph {
	t.Helper()
	g, err := graph.New(projects)
	require.NoError(t, err)
	return g
}

func finishedBuild(project string, n int, r model.Result) *model.Build {
	now := time.Now()
	return &model.Build{Project: project, Number: n, Result: r.Ptr(), StartedAt: now, CompletedAt: now}
}

func withUpstreams(b *model.Build, rel map[string]int) *model.Build {
	b.UpstreamRelationship = rel
	return b
}
