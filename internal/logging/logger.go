// Package logging builds the zap event log for specd.
//
// Every pipeline step emits one structured event (plan_start,
// impl_run_complete, verify_pass, backoff_wait, ...) so an interrupted run
// can be reconstructed from the log alone. The log is append-only and never
// read back by the pipeline.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger from config. The returned close function flushes
// buffers and releases the log file.
func New(cfg *Config) (*zap.Logger, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	var cores []zapcore.Core
	closeFile := func() error { return nil }

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event log %s: %w", cfg.File, err)
		}
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.JSON), zapcore.AddSync(f), cfg.Level))
		closeFile = f.Close
	}
	if cfg.Stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.JSON), zapcore.AddSync(os.Stdout), cfg.Level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closer := func() error {
		if err := logger.Sync(); err != nil && !isStdoutSyncError(err) {
			closeFile() //nolint:errcheck
			return err
		}
		return closeFile()
	}
	return logger, closer, nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(json bool) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if json {
		return zapcore.NewJSONEncoder(encoderCfg)
	}
	return zapcore.NewConsoleEncoder(encoderCfg)
}

// isStdoutSyncError checks if error is a harmless stdout/stderr sync error.
// On Linux, syncing stdout returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
