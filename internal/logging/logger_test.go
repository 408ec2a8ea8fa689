package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.log")
	logger, closer, err := New(&Config{Level: zapcore.InfoLevel, File: path})
	require.NoError(t, err)

	logger.Info("plan_start", zap.String("spec", "0001-a.md"), zap.Int("attempt", 1))
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "plan_start")
	assert.Contains(t, string(data), "0001-a.md")
}

func TestNew_JSONEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.log")
	logger, closer, err := New(&Config{Level: zapcore.InfoLevel, File: path, JSON: true})
	require.NoError(t, err)

	logger.Info("verify_pass", zap.String("commit", "abc"))
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"verify_pass"`)
	assert.Contains(t, string(data), `"commit":"abc"`)
}

func TestNew_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.log")

	for _, msg := range []string{"first", "second"} {
		logger, closer, err := New(&Config{Level: zapcore.InfoLevel, File: path})
		require.NoError(t, err)
		logger.Info(msg)
		require.NoError(t, closer())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first")
	assert.Contains(t, string(data), "second")
}

func TestConfig_Validate(t *testing.T) {
	err := (&Config{Level: zapcore.InfoLevel}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log sink")

	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestNew_LevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specd.log")
	logger, closer, err := New(&Config{Level: zapcore.WarnLevel, File: path})
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}
