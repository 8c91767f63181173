package splitlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cascade/internal/model"
)

func TestFileSinkCompressedRoundTrip(t *testing.T) {
	dir := NewLogDir(t.TempDir(), true)
	b := &model.Build{Project: "core", Number: 3}

	seg, err := dir.OpenSegment(b, "core-api")
	require.NoError(t, err)
	require.True(t, seg.Compressed())
	require.Equal(t, filepath.Join(dir.Root(), "core", "3", "modules", "core-api.log.zst"), seg.Path())

	_, err = seg.Write([]byte("compiling core-api\n"))
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())

	got, err := ReadSegment(seg.Path())
	require.NoError(t, err)
	assert.Equal(t, "compiling core-api\n", string(got))

	_, err = seg.Write([]byte("late"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestConsoleIsAppended(t *testing.T) {
	dir := NewLogDir(t.TempDir(), false)
	b := &model.Build{Project: "lib", Number: 1}

	for _, line := range []string{"build output\n", "Triggering a new build of app\n"} {
		w, err := dir.OpenConsole(b)
		require.NoError(t, err)
		_, err = w.Write([]byte(line))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	got, err := ReadSegment(dir.ConsolePath("lib", 1))
	require.NoError(t, err)
	assert.Equal(t, "build output\nTriggering a new build of app\n", string(got))
}

func TestPruneKeepsNewestBuilds(t *testing.T) {
	dir := NewLogDir(t.TempDir(), false)
	for _, n := range []int{1, 2, 10, 11} {
		w, err := dir.OpenConsole(&model.Build{Project: "lib", Number: n})
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	removed, err := dir.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoDirExists(t, dir.BuildDir("lib", 1))
	assert.NoDirExists(t, dir.BuildDir("lib", 2))
	assert.DirExists(t, dir.BuildDir("lib", 10))
	assert.DirExists(t, dir.BuildDir("lib", 11))

	removed, err = NewLogDir(filepath.Join(t.TempDir(), "none"), false).Prune(1)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweepSpillFiles(t *testing.T) {
	dir := t.TempDir()
	old, err := os.CreateTemp(dir, SpillFilePattern)
	require.NoError(t, err)
	require.NoError(t, old.Close())
	fresh, err := os.CreateTemp(dir, SpillFilePattern)
	require.NoError(t, err)
	require.NoError(t, fresh.Close())
	other := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(other, nil, 0o644))

	now := time.Now()
	require.NoError(t, os.Chtimes(old.Name(), now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(other, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	removed, err := SweepSpillFiles(dir, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old.Name())
	assert.FileExists(t, fresh.Name())
	assert.FileExists(t, other)
}

func TestBufferSink(t *testing.T) {
	var b BufferSink
	_, _ = b.Write([]byte("abc"))
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []byte("abc"), b.Bytes())
	assert.False(t, b.Closed())
	require.NoError(t, b.Close())
	assert.True(t, b.Closed())
}
