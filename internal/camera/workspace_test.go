package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_ClearWorkingStorage(t *testing.T) {
	ws := NewWorkspace(t.TempDir())

	dir, err := ws.EnsureScreenshotDir("CS101")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))
	other, err := ws.EnsureScreenshotDir("MA201")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(other, "b.jpg"), []byte("x"), 0o644))

	require.NoError(t, ws.ClearWorkingStorage(context.Background(), "CS101"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Other courses keep their stills
	entries, err = os.ReadDir(other)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWorkspace_ClearMissingDirectory(t *testing.T) {
	ws := NewWorkspace(t.TempDir())

	require.NoError(t, ws.ClearWorkingStorage(context.Background(), "CS101"))

	info, err := os.Stat(ws.ScreenshotDir("CS101"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWorkspace_CourseIDsWithSeparatorsStayIsolated(t *testing.T) {
	root := t.TempDir()
	ws := NewWorkspace(root)

	cs, err := ws.EnsureScreenshotDir("CS/101")
	require.NoError(t, err)
	ee, err := ws.EnsureScreenshotDir("EE/101")
	require.NoError(t, err)
	assert.NotEqual(t, cs, ee)
	require.NoError(t, os.WriteFile(filepath.Join(cs, "a.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ee, "b.jpg"), []byte("x"), 0o644))

	require.NoError(t, ws.ClearWorkingStorage(context.Background(), "EE/101"))

	entries, err := os.ReadDir(cs)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	for _, id := range []string{"..", ".", "", `..\..`, "../../etc"} {
		dir := ws.ScreenshotDir(id)
		assert.Equal(t, filepath.Join(root, "screenshots"), filepath.Dir(dir), "course id %q", id)
	}
}
