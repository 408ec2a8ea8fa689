package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultAgentExe, cfg.Agent.Exe)
	assert.Equal(t, DefaultAgentArgs, cfg.Agent.Args)
	assert.Equal(t, DefaultMagicPhrase, cfg.Pipeline.MagicPhrase)
	assert.Equal(t, DefaultMaxAttempts, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.Retry.BackoffMax.Duration())
	assert.Equal(t, 30*time.Second, cfg.Retry.RateLimitMargin.Duration())
	assert.Equal(t, 5*time.Second, cfg.Retry.RateLimitFallback.Duration())
	assert.False(t, cfg.Retry.FreeRateLimitWaits)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "specd", cfg.Telemetry.ServiceName)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMagicPhrase, cfg.Pipeline.MagicPhrase)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.yaml")
	content := `
agent:
  exe: fake-agent
  stream_output: true
pipeline:
  max_attempts: 3
retry:
  backoff_max: 10s
  free_rate_limit_waits: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fake-agent", cfg.Agent.Exe)
	assert.True(t, cfg.Agent.StreamOutput)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Retry.BackoffMax.Duration())
	assert.True(t, cfg.Retry.FreeRateLimitWaits)

	// Unset fields still get defaults.
	assert.Equal(t, DefaultMagicPhrase, cfg.Pipeline.MagicPhrase)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_attempts: 3\n"), 0o600))

	t.Setenv("SPECD_PIPELINE_MAX_ATTEMPTS", "7")
	t.Setenv("SPECD_AGENT_EXE", "env-agent")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "env-agent", cfg.Agent.Exe)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestFinalize_ResolvesDirectories(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Home = home
	cfg.Workspace = "."
	require.NoError(t, cfg.Finalize())

	assert.Equal(t, home, cfg.Home)
	assert.True(t, filepath.IsAbs(cfg.Workspace))
}

func TestFinalize_DefaultHome(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Finalize())

	userHome, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(userHome, ".specd"), cfg.Home)
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath("/opt/backlog")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/backlog", FileName), path)
}
