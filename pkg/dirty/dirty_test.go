package dirty

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTracker_Stale(t *testing.T) {
	dir := t.TempDir()
	nb := filepath.Join(dir, "nb.ojs")
	out := filepath.Join(dir, "nb.js")
	write(t, nb, "a = 1\n")

	tracker := New(filepath.Join(dir, ".ojs"))

	stale, hash, err := tracker.Stale(nb, out)
	require.NoError(t, err)
	assert.True(t, stale, "untracked notebooks are stale")
	assert.Len(t, hash, 64)

	write(t, out, "compiled")
	require.NoError(t, tracker.MarkCompiled(nb, hash, out))

	stale, _, err = tracker.Stale(nb, out)
	require.NoError(t, err)
	assert.False(t, stale)

	tests := []struct {
		name   string
		change func()
		output string
	}{
		{"content changed", func() { write(t, nb, "a = 2\n") }, out},
		{"output removed", func() { require.NoError(t, os.Remove(out)) }, out},
		{"output moved", func() {}, filepath.Join(dir, "other.js")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			write(t, nb, "a = 1\n")
			write(t, out, "compiled")
			tt.change()

			stale, _, err := tracker.Stale(nb, tt.output)
			require.NoError(t, err)
			assert.True(t, stale)
		})
	}
}

func TestTracker_Fingerprint(t *testing.T) {
	dir := t.TempDir()
	nb := filepath.Join(dir, "nb.ojs")
	out := filepath.Join(dir, "nb.js")
	write(t, nb, "a = 1\n")
	write(t, out, "compiled")

	first := New(dir, WithFingerprint("origin-a"))
	_, hash, err := first.Stale(nb, out)
	require.NoError(t, err)
	require.NoError(t, first.MarkCompiled(nb, hash, out))
	require.NoError(t, first.Save())

	same := New(dir, WithFingerprint("origin-a"))
	require.NoError(t, same.Load())
	stale, _, err := same.Stale(nb, out)
	require.NoError(t, err)
	assert.False(t, stale)

	other := New(dir, WithFingerprint("origin-b"))
	require.NoError(t, other.Load())
	stale, _, err = other.Stale(nb, out)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestTracker_MissingNotebook(t *testing.T) {
	_, _, err := New(t.TempDir()).Stale(filepath.Join(t.TempDir(), "gone.ojs"), "gone.js")
	assert.Error(t, err)
}

func TestTracker_ForgetAndPrune(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.ojs")
	gone := filepath.Join(dir, "gone.ojs")
	write(t, keep, "a = 1")
	write(t, gone, "b = 1")

	tracker := New(dir)
	require.NoError(t, tracker.MarkCompiled(keep, "h1", "keep.js"))
	require.NoError(t, tracker.MarkCompiled(gone, "h2", "gone.js"))
	assert.Equal(t, 2, tracker.Len())

	require.NoError(t, os.Remove(gone))
	assert.Equal(t, []string{gone}, tracker.Prune())
	assert.Equal(t, 1, tracker.Len())

	tracker.Forget(keep)
	assert.Equal(t, 0, tracker.Len())
}

func TestTracker_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	nb := filepath.Join(dir, "nb.ojs")
	write(t, nb, "a = 1")

	tracker := New(dir)
	require.NoError(t, tracker.MarkCompiled(nb, "abc", "nb.js"))

	var buf bytes.Buffer
	require.NoError(t, tracker.SaveTo(&buf))
	assert.Contains(t, buf.String(), `"version": 1`)

	restored := New(dir)
	require.NoError(t, restored.LoadFrom(&buf))
	assert.Equal(t, 1, restored.Len())
}

func TestTracker_LoadMissingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	tracker := New(dir)
	require.NoError(t, tracker.Load(), "missing state is not an error")

	assert.Error(t, tracker.LoadFrom(strings.NewReader("{not json")))

	require.NoError(t, tracker.LoadFrom(strings.NewReader(`{"version": 99, "files": [{"path": "/x"}]}`)))
	assert.Equal(t, 0, tracker.Len())
}
