package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cascade/internal/model"
)

func record(t *testing.T, j *Journal, b *model.Build) {
	t.Helper()
	require.NoError(t, j.EmitBuildStarted(t.Context(), b))
	if b.Result != nil {
		require.NoError(t, j.EmitBuildCompleted(t.Context(), b))
	}
}

func build(project string, n int, r *model.Result) *model.Build {
	now := time.Now()
	return &model.Build{
		Project:     project,
		Number:      n,
		Result:      r,
		Cause:       model.Cause{Kind: model.CauseManual},
		StartedAt:   now,
		CompletedAt: now.Add(time.Second),
	}
}

func TestProjectionTracksLastAndLastSuccessful(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, NewBuildHistoryProjection(store, 10))
	p := j.Projection()
	ctx := t.Context()

	lb, err := p.LastBuild(ctx, "lib")
	require.NoError(t, err)
	require.Nil(t, lb)
	require.Equal(t, 1, p.NextNumber("lib"))

	record(t, j, build("lib", 1, model.ResultSuccess.Ptr()))
	record(t, j, build("lib", 2, model.ResultUnstable.Ptr()))
	record(t, j, build("lib", 3, model.ResultFailure.Ptr()))
	record(t, j, build("lib", 4, nil))

	lb, err = p.LastBuild(ctx, "lib")
	require.NoError(t, err)
	require.Equal(t, 4, lb.Number)
	require.False(t, lb.Terminal())

	ls, err := p.LastSuccessfulBuild(ctx, "lib")
	require.NoError(t, err)
	require.Equal(t, 2, ls.Number, "UNSTABLE counts as successful")
	require.Equal(t, 5, p.NextNumber("lib"))

	b, ok := p.Build("lib", 3)
	require.True(t, ok)
	require.Equal(t, model.ResultFailure, *b.Result)

	numbers := []int{}
	for _, b := range p.Builds("lib") {
		numbers = append(numbers, b.Number)
	}
	require.Equal(t, []int{4, 3, 2, 1}, numbers)
}

func TestProjectionResultIsImmutable(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, NewBuildHistoryProjection(store, 10))

	record(t, j, build("lib", 1, model.ResultSuccess.Ptr()))
	again, err := NewBuildCompleted(build("lib", 1, model.ResultFailure.Ptr()))
	require.NoError(t, err)
	require.NoError(t, j.Record(t.Context(), again))

	b, ok := j.Projection().Build("lib", 1)
	require.True(t, ok)
	require.Equal(t, model.ResultSuccess, *b.Result)
}

func TestProjectionReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, NewBuildHistoryProjection(store, 10))

	b := build("app", 1, model.ResultSuccess.Ptr())
	b.UpstreamRelationship = map[string]int{"lib": 3}
	record(t, j, b)

	got, err := j.Projection().LastBuild(t.Context(), "app")
	require.NoError(t, err)
	got.UpstreamRelationship["lib"] = 99

	again, err := j.Projection().LastBuild(t.Context(), "app")
	require.NoError(t, err)
	n, ok := again.UpstreamBuild("lib")
	require.True(t, ok)
	require.Equal(t, 3, n)
}

func TestProjectionRebuild(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, NewBuildHistoryProjection(store, 10))

	up := build("lib", 7, model.ResultSuccess.Ptr())
	record(t, j, up)
	down := build("app", 2, model.ResultSuccess.Ptr())
	down.Cause = model.UpstreamCause(up)
	down.UpstreamRelationship = map[string]int{"lib": 7}
	record(t, j, down)

	ev, err := NewTriggerEvaluated(TriggerEvaluatedPayload{
		Upstream: "lib", UpstreamNumber: 7, Downstream: "app", Triggered: true, Rule: "approved",
	})
	require.NoError(t, err)
	require.NoError(t, j.Record(t.Context(), ev))

	fresh := NewBuildHistoryProjection(store, 10)
	require.NoError(t, fresh.Rebuild(context.Background()))
	require.False(t, fresh.LastSyncTime().IsZero())

	ls, err := fresh.LastSuccessfulBuild(t.Context(), "app")
	require.NoError(t, err)
	require.Equal(t, 2, ls.Number)
	require.Equal(t, model.CauseUpstream, ls.Cause.Kind)
	require.Equal(t, "lib", ls.Cause.UpstreamProject)
	n, _ := ls.UpstreamBuild("lib")
	require.Equal(t, 7, n)
	require.Equal(t, 8, fresh.NextNumber("lib"))

	decisions := fresh.Decisions("app")
	require.Len(t, decisions, 1)
	require.Equal(t, "approved", decisions[0].Rule)

	events, err := store.GetByBuildID(t.Context(), "lib#7")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, TypeTriggerEvaluated, events[2].Type)
	require.Equal(t, "app", events[2].Labels["downstream"])
	require.Equal(t, j.Projection().Seq(), fresh.Seq())
}

func TestProjectionCatchUpSeesOtherWriters(t *testing.T) {
	store := newTestStore(t)
	reader := NewBuildHistoryProjection(store, 10)
	require.NoError(t, reader.Rebuild(t.Context()))

	writer := NewJournal(store, NewBuildHistoryProjection(store, 10))
	record(t, writer, build("lib", 1, model.ResultSuccess.Ptr()))

	lb, err := reader.LastBuild(t.Context(), "lib")
	require.NoError(t, err)
	require.Nil(t, lb)

	require.NoError(t, reader.CatchUp(t.Context()))
	lb, err = reader.LastBuild(t.Context(), "lib")
	require.NoError(t, err)
	require.Equal(t, 1, lb.Number)

	// Entries already applied are skipped.
	entries, err := store.After(t.Context(), 0)
	require.NoError(t, err)
	reader.Apply(entries[0])
	require.Equal(t, entries[len(entries)-1].Seq, reader.Seq())
	require.Len(t, reader.Builds("lib"), 1)
}

func TestProjectionHistoryLimitKeepsLastSuccessful(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, NewBuildHistoryProjection(store, 3))

	record(t, j, build("lib", 1, model.ResultSuccess.Ptr()))
	for n := 2; n <= 6; n++ {
		record(t, j, build("lib", n, model.ResultFailure.Ptr()))
	}

	p := j.Projection()
	require.Len(t, p.Builds("lib"), 3)
	_, ok := p.Build("lib", 1)
	require.False(t, ok)

	ls, err := p.LastSuccessfulBuild(t.Context(), "lib")
	require.NoError(t, err)
	require.Equal(t, 1, ls.Number)
	require.Equal(t, 7, p.NextNumber("lib"))
}

func TestNewBuildCompletedRequiresResult(t *testing.T) {
	_, err := NewBuildCompleted(build("lib", 1, nil))
	require.Error(t, err)
}
