package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config controls the event log.
type Config struct {
	// Level is the minimum level written. Defaults to info.
	Level zapcore.Level `koanf:"level"`
	// JSON selects the JSON encoder; the default is the console encoder.
	JSON bool `koanf:"json"`
	// File is the event log path. Empty disables the file sink.
	File string `koanf:"file"`
	// Stdout tees events to standard output.
	Stdout bool `koanf:"stdout"`
}

// NewDefaultConfig returns a config writing info-level console events to
// stdout only.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Stdout: true,
	}
}

// Validate checks the config for usable sink settings.
func (c *Config) Validate() error {
	if c.File == "" && !c.Stdout {
		return fmt.Errorf("no log sink configured: set file or stdout")
	}
	if c.Level < zapcore.DebugLevel || c.Level > zapcore.FatalLevel {
		return fmt.Errorf("invalid log level: %v", c.Level)
	}
	return nil
}
