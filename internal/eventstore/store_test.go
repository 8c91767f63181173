package eventstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAssignsSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	first, err := store.Append(ctx, Entry{BuildID: "core#1", Type: "Sample", Payload: []byte(`{"n":1}`),
		Labels: map[string]string{"downstream": "app"}})
	require.NoError(t, err)
	second, err := store.Append(ctx, Entry{BuildID: "core#1", Type: "Sample", Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.Positive(t, first.Seq)
	require.Greater(t, second.Seq, first.Seq)
	require.False(t, first.At.IsZero())

	got, err := store.GetByBuildID(ctx, "core#1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first.Seq, got[0].Seq)
	require.Equal(t, "Sample", got[0].Type)
	require.JSONEq(t, `{"n":1}`, string(got[0].Payload))
	require.Equal(t, "app", got[0].Labels["downstream"])
	require.Nil(t, got[1].Labels)
	require.True(t, first.At.Equal(got[0].At))
}

func TestAfterAndRange(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	before := time.Now().Add(-time.Second)
	var seqs []int64
	for _, id := range []string{"a#1", "b#1", "a#2"} {
		e, err := store.Append(ctx, Entry{BuildID: id, Type: "Sample", Payload: []byte("{}")})
		require.NoError(t, err)
		seqs = append(seqs, e.Seq)
	}

	all, err := store.After(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a#2", all[2].BuildID)

	tail, err := store.After(ctx, seqs[0])
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, "b#1", tail[0].BuildID)

	inRange, err := store.GetRange(ctx, before, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, inRange, 3)

	future, err := store.GetRange(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, future)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = store.Append(t.Context(), Entry{BuildID: "lib#1", Type: "Sample", Payload: []byte("{}")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	got, err := store.After(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "lib#1", got[0].BuildID)
}
