package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specd/internal/state"
)

func TestCommandArgs(t *testing.T) {
	base := []string{"exec", "--skip-git-repo-check"}

	t.Run("fresh session pins workspace", func(t *testing.T) {
		got := commandArgs(base, "/srv/work", "")
		assert.Equal(t, []string{"--cd", "/srv/work", "exec", "--skip-git-repo-check", "-"}, got)
	})

	t.Run("resume splices after exec", func(t *testing.T) {
		got := commandArgs(base, "/srv/work", "sid-123")
		assert.Equal(t, []string{"--cd", "/srv/work", "exec", "resume", "sid-123", "--skip-git-repo-check", "-"}, got)
	})

	t.Run("resume without exec subcommand prepends", func(t *testing.T) {
		got := commandArgs([]string{"--full-auto"}, "/srv/work", "sid-123")
		assert.Equal(t, []string{"--cd", "/srv/work", "exec", "resume", "sid-123", "--full-auto", "-"}, got)
	})

	t.Run("caller-provided --cd wins", func(t *testing.T) {
		got := commandArgs([]string{"exec", "--cd", "/elsewhere"}, "/srv/work", "")
		assert.Equal(t, []string{"exec", "--cd", "/elsewhere", "-"}, got)
	})

	t.Run("short -C recognized", func(t *testing.T) {
		got := commandArgs([]string{"exec", "-C", "/elsewhere"}, "/srv/work", "")
		assert.NotContains(t, got, "--cd")
	})
}

func TestCompactPrompt(t *testing.T) {
	assert.Equal(t, "do the thing", compactPrompt("do the thing", ""))
	resumed := compactPrompt("do the thing", "sid")
	assert.True(t, len(resumed) > len("do the thing"))
	assert.Contains(t, resumed, "compact the conversation")
	assert.Contains(t, resumed, "do the thing")
}

func TestHasAnyFlag(t *testing.T) {
	assert.True(t, HasAnyFlag([]string{"exec", "--cd", "/x"}, "--cd", "-C"))
	assert.True(t, HasAnyFlag([]string{"-C"}, "--cd", "-C"))
	assert.False(t, HasAnyFlag([]string{"exec", "--cdrom"}, "--cd", "-C"))
	assert.False(t, HasAnyFlag(nil, "--cd"))
}

func TestCLIRun(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-agent")
	// Echo argv, then stdin, then fail with a known code.
	content := "#!/bin/sh\nfor a in \"$@\"; do printf 'arg:%s\\n' \"$a\"; done\ncat\nexit 3\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))

	cli := New(Config{
		Exe:       script,
		Args:      []string{"exec", "--skip-git-repo-check"},
		Workspace: dir,
	}, nil, nil)

	res, err := cli.Run(context.Background(), "PROMPT BODY\n", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "arg:--cd\n")
	assert.Contains(t, res.Output, "arg:"+dir+"\n")
	assert.Contains(t, res.Output, "arg:exec\n")
	assert.Contains(t, res.Output, "arg:-\n")
	assert.Contains(t, res.Output, "PROMPT BODY\n")
}

func TestCLIRunStreams(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-agent")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat\n"), 0o755))

	var echoed bytes.Buffer
	cli := New(Config{
		Exe:       script,
		Args:      []string{"exec"},
		Workspace: dir,
		Stream:    true,
		Echo:      &echoed,
	}, nil, nil)

	res, err := cli.Run(context.Background(), "streamed line\n", "sid-42")
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	// Captured and echoed output are the same bytes, and a resumed
	// session gets the compaction preamble.
	assert.Equal(t, res.Output, echoed.String())
	assert.Contains(t, res.Output, "compact the conversation")
	assert.Contains(t, res.Output, "streamed line\n")
}

func TestCLIRunMissingExecutable(t *testing.T) {
	cli := New(Config{
		Exe:       filepath.Join(t.TempDir(), "no-such-agent"),
		Args:      []string{"exec"},
		Workspace: t.TempDir(),
	}, nil, nil)

	_, err := cli.Run(context.Background(), "x", "")
	require.Error(t, err)
}

func TestNewLaunchLimiter(t *testing.T) {
	l := NewLaunchLimiter(6, 2)
	require.NotNil(t, l)
	assert.InDelta(t, 0.1, float64(l.Limit()), 1e-9)
	assert.Equal(t, 2, l.Burst())

	assert.True(t, NewLaunchLimiter(0, 0).Allow(), "disabled limiter never blocks")
}

func TestMakeRunDirAndWriteRunLog(t *testing.T) {
	layout := state.Layout{Home: t.TempDir()}
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	dir, err := MakeRunDir(layout, "0001-auth", start)
	require.NoError(t, err)
	assert.Equal(t, layout.RunDir("0001-auth", "20260314-092653Z"), dir)

	p, err := WriteRunLog(dir, VerifyLogName, "verifier said no\n")
	require.NoError(t, err)
	content, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "verifier said no\n", string(content))

	// Rerunning in the same second reuses the directory.
	again, err := MakeRunDir(layout, "0001-auth", start)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}
