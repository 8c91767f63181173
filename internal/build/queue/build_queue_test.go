package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/daemon/events"
	"git.home.luguber.info/inful/cascade/internal/eventstore"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/graph"
	"git.home.luguber.info/inful/cascade/internal/model"
)

type builderFunc func(ctx context.Context, job *BuildJob) (model.Result, error)

func (f builderFunc) Build(ctx context.Context, job *BuildJob) (model.Result, error) {
	return f(ctx, job)
}

func succeed(context.Context, *BuildJob) (model.Result, error) { return model.ResultSuccess, nil }

type harness struct {
	queue    *BuildQueue
	journal  *eventstore.Journal
	finished <-chan events.BuildFinished
}

func newHarness(t *testing.T, builder Builder, workers int) *harness {
	t.Helper()

	g, err := graph.New([]model.Project{
		{Name: "lib"},
		{Name: "app", Upstreams: []string{"lib"}},
		{Name: "vendor", Kind: model.KindExternal},
		{Name: "core", Kind: model.KindModuleSet},
		{Name: "core-api", Kind: model.KindModule, Parent: "core", Upstreams: []string{"lib"}},
		{Name: "core-impl", Kind: model.KindModule, Parent: "core", Upstreams: []string{"core-api"}},
	})
	require.NoError(t, err)

	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	journal := eventstore.NewJournal(store, eventstore.NewBuildHistoryProjection(store, 20))

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	finished, unsubscribe := events.Subscribe[events.BuildFinished](bus, 16)
	t.Cleanup(unsubscribe)

	q := NewBuildQueue(4, workers, builder, graph.NewHolder(g), journal.Projection())
	q.ConfigureRetry(config.QueueConfig{
		MaxRetries:        2,
		RetryBackoff:      config.RetryBackoffFixed,
		RetryInitialDelay: "1ms",
		RetryMaxDelay:     "5ms",
	})
	q.SetEventEmitter(journal)
	q.SetPublisher(bus)
	return &harness{queue: q, journal: journal, finished: finished}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	h.queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.queue.Stop(context.Background())
	})
}

func (h *harness) next(t *testing.T) *model.Build {
	t.Helper()
	select {
	case ev := <-h.finished:
		return ev.Build
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for BuildFinished")
		return nil
	}
}

var manual = model.Cause{Kind: model.CauseManual}

func TestBuildsAreNumberedAndRecorded(t *testing.T) {
	h := newHarness(t, builderFunc(succeed), 1)
	h.start(t)

	require.NoError(t, h.queue.Enqueue("lib", manual))
	b := h.next(t)
	require.Equal(t, "lib#1", b.ID())
	require.Equal(t, model.ResultSuccess, *b.Result)

	require.NoError(t, h.queue.Enqueue("lib", manual))
	require.Equal(t, 2, h.next(t).Number)

	lsb, err := h.journal.Projection().LastSuccessfulBuild(t.Context(), "lib")
	require.NoError(t, err)
	require.Equal(t, 2, lsb.Number)
	require.False(t, h.queue.IsBuildingOrQueued("lib"))
}

func TestUpstreamRelationshipIsRecorded(t *testing.T) {
	h := newHarness(t, builderFunc(succeed), 1)
	h.start(t)

	require.NoError(t, h.queue.Enqueue("lib", manual))
	h.next(t)
	require.NoError(t, h.queue.Enqueue("app", manual))
	app := h.next(t)

	n, ok := app.UpstreamBuild("lib")
	require.True(t, ok)
	require.Equal(t, 1, n)

	require.NoError(t, h.queue.Enqueue("core", manual))
	core := h.next(t)
	require.Equal(t, map[string]int{"lib": 1}, core.UpstreamRelationship, "intra-set edges are not recorded")
}

func TestWaitingJobsCoalesce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)
	h := newHarness(t, builderFunc(func(ctx context.Context, job *BuildJob) (model.Result, error) {
		started <- job.ID
		<-release
		return model.ResultSuccess, nil
	}), 1)
	h.start(t)

	first, err := h.queue.EnqueueJob("lib", manual)
	require.NoError(t, err)
	require.Equal(t, first, <-started)
	require.True(t, h.queue.IsBuildingOrQueued("lib"))

	second, err := h.queue.EnqueueJob("lib", manual)
	require.NoError(t, err)
	third, err := h.queue.EnqueueJob("lib", model.Cause{Kind: model.CauseScheduled})
	require.NoError(t, err)
	require.Equal(t, second, third)
	require.NotEqual(t, first, second)

	snap, ok := h.queue.JobSnapshot(second)
	require.True(t, ok)
	require.Len(t, snap.Causes, 2)

	close(release)
	require.Equal(t, 1, h.next(t).Number)
	require.Equal(t, 2, h.next(t).Number)
	select {
	case b := <-h.finished:
		t.Fatalf("unexpected extra build %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestModulesAreBuiltThroughTheirModuleSet(t *testing.T) {
	h := newHarness(t, builderFunc(succeed), 1)

	id, err := h.queue.EnqueueJob("core-impl", manual)
	require.NoError(t, err)
	require.True(t, h.queue.IsBuildingOrQueued("core"))
	require.True(t, h.queue.IsBuildingOrQueued("core-api"))

	snap, ok := h.queue.JobSnapshot(id)
	require.True(t, ok)
	require.Equal(t, "core", snap.Project)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	h := newHarness(t, builderFunc(func(context.Context, *BuildJob) (model.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return model.ResultFailure, ferrors.TransportError("agent went away").Build()
		}
		return model.ResultSuccess, nil
	}), 1)
	h.start(t)

	id, err := h.queue.EnqueueJob("lib", manual)
	require.NoError(t, err)
	b := h.next(t)
	require.Equal(t, model.ResultSuccess, *b.Result)
	require.Equal(t, 1, b.Number, "retries reuse the build number")

	snap, ok := h.queue.JobSnapshot(id)
	require.True(t, ok)
	require.Equal(t, 2, snap.Attempts)
	require.Equal(t, JobSucceeded, snap.State)
}

func TestPermanentErrorsFail(t *testing.T) {
	h := newHarness(t, builderFunc(func(context.Context, *BuildJob) (model.Result, error) {
		return model.ResultSuccess, errors.New("compiler crashed")
	}), 1)
	h.start(t)

	id, err := h.queue.EnqueueJob("lib", manual)
	require.NoError(t, err)
	require.Equal(t, model.ResultFailure, *h.next(t).Result)

	snap, _ := h.queue.JobSnapshot(id)
	require.Equal(t, 1, snap.Attempts)
	require.Equal(t, JobFailed, snap.State)
	require.Equal(t, "compiler crashed", snap.Error)
}

func TestCancelRunningJobAborts(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, builderFunc(func(ctx context.Context, _ *BuildJob) (model.Result, error) {
		close(started)
		<-ctx.Done()
		return model.ResultFailure, ctx.Err()
	}), 1)
	h.start(t)

	id, err := h.queue.EnqueueJob("lib", manual)
	require.NoError(t, err)
	<-started
	require.True(t, h.queue.Cancel(id))
	require.Equal(t, model.ResultAborted, *h.next(t).Result)
}

func TestCancelWaitingJob(t *testing.T) {
	h := newHarness(t, builderFunc(succeed), 1)

	id, err := h.queue.EnqueueJob("lib", manual)
	require.NoError(t, err)
	require.True(t, h.queue.Cancel(id))
	require.False(t, h.queue.IsBuildingOrQueued("lib"))
	require.False(t, h.queue.Cancel("missing"))
}

func TestEnqueueRejects(t *testing.T) {
	h := newHarness(t, builderFunc(succeed), 1)

	err := h.queue.Enqueue("ghost", manual)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	err = h.queue.Enqueue("vendor", manual)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	for _, p := range []string{"lib", "app", "core", "core-api"} {
		// core-api coalesces into core
		require.NoError(t, h.queue.Enqueue(p, manual))
	}
	require.Equal(t, 3, h.queue.Length())
}

func TestQueueFull(t *testing.T) {
	g, err := graph.New([]model.Project{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	q := NewBuildQueue(1, 1, builderFunc(succeed), graph.NewHolder(g), eventstore.NewBuildHistoryProjection(nil, 1))

	require.NoError(t, q.Enqueue("a", manual))
	err = q.Enqueue("b", manual)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryBuild))
}

func TestModuleBuildsShareTheSetNumber(t *testing.T) {
	h := newHarness(t, builderFunc(succeed), 1)
	ctx := t.Context()

	require.NoError(t, h.journal.EmitBuildStarted(ctx, &model.Build{Project: "lib", Number: 4}))
	require.NoError(t, h.journal.EmitBuildCompleted(ctx, &model.Build{Project: "lib", Number: 4, Result: model.ResultSuccess.Ptr()}))

	parent := &model.Build{Project: "core", Number: 9, Cause: manual}
	mod, err := h.queue.StartModule(ctx, parent, "core-api")
	require.NoError(t, err)
	require.Equal(t, 9, mod.Number)
	require.Equal(t, map[string]int{"lib": 4}, mod.UpstreamRelationship)

	h.queue.FinishModule(ctx, mod, model.ResultUnstable)
	got := h.next(t)
	require.Equal(t, "core-api#9", got.ID())

	lsb, err := h.journal.Projection().LastSuccessfulBuild(ctx, "core-api")
	require.NoError(t, err)
	require.Equal(t, 9, lsb.Number)

	_, err = h.queue.StartModule(ctx, parent, "app")
	require.Error(t, err)
}
