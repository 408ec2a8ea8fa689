package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/home/dev/.specd")

	assert.Equal(t, "/home/dev/.specd/specs", l.SpecsRoot())
	assert.Equal(t, "/home/dev/.specd/specs/plans/area/0002-bar.md", l.PlanBodyPath("area/0002-bar.md"))
	assert.Equal(t, "/home/dev/.specd/specs/plans/area/0002-bar.json", l.PlanMetaPath("area/0002-bar.md"))
	assert.Equal(t, "/home/dev/.specd/specs/plans/area/0002-bar.attempt-3.md", l.PlanArchivePath("area/0002-bar.md", 3))
	assert.Equal(t, "/home/dev/.specd/specs/candidates/0001-foo.json", l.CandidatePath("0001-foo.md"))
	assert.Equal(t, "/home/dev/.specd/specs/done/0001-foo.md", l.DonePath("0001-foo.md"))
	assert.Equal(t, "/home/dev/.specd/specs/sessions/0001-foo.json", l.SessionPath("0001-foo.md"))
	assert.Equal(t, "/home/dev/.specd/specs/failed/0001-foo.md", l.FailedPath("0001-foo.md"))
	assert.Equal(t, "/home/dev/.specd/runs/0001-foo/20260821-120000Z", l.RunDir("0001-foo", "20260821-120000Z"))
	assert.Equal(t, "/home/dev/.specd/SCRATCHPAD.md", l.Scratchpad())
	assert.Equal(t, "/home/dev/.specd/specd.log", l.EventLog())
}

func TestLayout_EnsureDirs(t *testing.T) {
	l := NewLayout(t.TempDir())
	require.NoError(t, l.EnsureDirs())

	for _, dir := range append([]string{l.SpecsRoot(), l.RunsRoot()}, l.ReservedRoots()...) {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestLayout_ReservedRootsCoverAllStateDirs(t *testing.T) {
	l := NewLayout("/h")
	got := l.ReservedRoots()

	want := []string{
		filepath.Join("/h", "specs", "plans"),
		filepath.Join("/h", "specs", "candidates"),
		filepath.Join("/h", "specs", "done"),
		filepath.Join("/h", "specs", "sessions"),
		filepath.Join("/h", "specs", "failed"),
	}
	assert.ElementsMatch(t, want, got)
}
