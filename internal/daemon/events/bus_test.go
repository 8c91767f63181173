package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/model"
)

type finisher interface{ project() string }

func (e BuildFinished) project() string { return e.Build.Project }

func finished(project string, n int) BuildFinished {
	return BuildFinished{Build: &model.Build{Project: project, Number: n, Result: model.ResultSuccess.Ptr()}, FinishedAt: time.Now()}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	panic("unreachable")
}

func TestPublishRoutesByType(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	builds, unsubBuilds := Subscribe[BuildFinished](b, 1)
	defer unsubBuilds()
	reloads, unsubReloads := Subscribe[GraphReloaded](b, 1)
	defer unsubReloads()
	all, unsubAll := Subscribe[finisher](b, 1)
	defer unsubAll()

	require.NoError(t, b.Publish(t.Context(), finished("core", 4)))
	require.Equal(t, "core#4", receive(t, builds).Build.ID())
	require.Equal(t, "core", receive(t, all).project())
	require.Empty(t, reloads)

	require.NoError(t, b.Publish(t.Context(), GraphReloaded{Projects: 3}))
	require.Equal(t, 3, receive(t, reloads).Projects)
	require.Empty(t, all)
}

func TestPublishBlocksUntilContextEnds(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	_, unsubscribe := Subscribe[BuildFinished](b, 0)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, finished("lib", 1))
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribeReleasesBlockedPublisher(t *testing.T) {
	b := NewBus()
	t.Cleanup(b.Close)

	_, unsubscribe := Subscribe[BuildFinished](b, 0)
	require.Equal(t, 1, SubscriberCount[BuildFinished](b))
	require.Zero(t, SubscriberCount[GraphReloaded](b))

	errCh := make(chan error, 1)
	go func() { errCh <- b.Publish(t.Context(), finished("lib", 1)) }()
	time.Sleep(20 * time.Millisecond)
	unsubscribe()
	unsubscribe()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked")
	}
	require.Zero(t, SubscriberCount[BuildFinished](b))
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := NewBus()
	ch, _ := Subscribe[BuildFinished](b, 1)
	b.Close()
	b.Close()

	_, ok := <-ch
	require.False(t, ok)
	require.True(t, ferrors.HasCategory(b.Publish(t.Context(), finished("lib", 1)), ferrors.CategoryDaemon))

	late, _ := Subscribe[BuildFinished](b, 1)
	_, ok = <-late
	require.False(t, ok)

	require.True(t, ferrors.HasCategory(NewBus().Publish(t.Context(), nil), ferrors.CategoryValidation))
}
