package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config holds the complete specd configuration.
type Config struct {
	Home      string          `koanf:"home"`
	Workspace string          `koanf:"workspace"`
	Agent     AgentConfig     `koanf:"agent"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Retry     RetryConfig     `koanf:"retry"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// AgentConfig holds agent subprocess settings.
type AgentConfig struct {
	Exe               string `koanf:"exe"`
	Args              string `koanf:"args"` // whitespace-separated, appended after Exe
	StreamOutput      bool   `koanf:"stream_output"`
	LaunchesPerMinute int    `koanf:"launches_per_minute"`
	LaunchBurst       int    `koanf:"launch_burst"`
}

// PipelineConfig holds per-spec pipeline settings.
type PipelineConfig struct {
	MagicPhrase    string `koanf:"magic_phrase"`
	MaxAttempts    int    `koanf:"max_attempts"`
	SkipValidation bool   `koanf:"skip_validation"`
}

// RetryConfig holds backoff and rate-limit wait settings.
type RetryConfig struct {
	BackoffBase       float64  `koanf:"backoff_base"`
	BackoffMax        Duration `koanf:"backoff_max"`
	RateLimitMargin   Duration `koanf:"rate_limit_margin"`
	RateLimitFallback Duration `koanf:"rate_limit_fallback"`
	// FreeRateLimitWaits exempts rate-limit waits from the attempt budget.
	// Default false: waits consume an attempt, so a permanently throttled
	// agent still terminates.
	FreeRateLimitWaits bool `koanf:"free_rate_limit_waits"`
}

// LogConfig holds event-log settings.
type LogConfig struct {
	Level   string `koanf:"level"`
	JSON    bool   `koanf:"json"`
	Verbose bool   `koanf:"verbose"` // tee events to stdout
}

// TelemetryConfig holds OTLP export settings. Disabled by default.
type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Endpoint      string  `koanf:"endpoint"`
	Insecure      bool    `koanf:"insecure"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
	ServiceName   string  `koanf:"service_name"`
	SampleRate    float64 `koanf:"sample_rate"`
}

// Defaults applied by Load for fields left unset.
const (
	DefaultAgentExe    = "codex"
	DefaultAgentArgs   = "exec --dangerously-bypass-approvals-and-sandbox --skip-git-repo-check"
	DefaultMagicPhrase = "I AM HYPER SURE I AM DONE!"
	DefaultMaxAttempts = 10
)

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Agent defaults
	if cfg.Agent.Exe == "" {
		cfg.Agent.Exe = DefaultAgentExe
	}
	if cfg.Agent.Args == "" {
		cfg.Agent.Args = DefaultAgentArgs
	}
	if cfg.Agent.LaunchesPerMinute == 0 {
		cfg.Agent.LaunchesPerMinute = 6
	}
	if cfg.Agent.LaunchBurst == 0 {
		cfg.Agent.LaunchBurst = 2
	}

	// Pipeline defaults
	if cfg.Pipeline.MagicPhrase == "" {
		cfg.Pipeline.MagicPhrase = DefaultMagicPhrase
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = DefaultMaxAttempts
	}

	// Retry defaults
	if cfg.Retry.BackoffBase == 0 {
		cfg.Retry.BackoffBase = 2.0
	}
	if cfg.Retry.BackoffMax == 0 {
		cfg.Retry.BackoffMax = Duration(60 * time.Second)
	}
	if cfg.Retry.RateLimitMargin == 0 {
		cfg.Retry.RateLimitMargin = Duration(30 * time.Second)
	}
	if cfg.Retry.RateLimitFallback == 0 {
		cfg.Retry.RateLimitFallback = Duration(5 * time.Second)
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Telemetry defaults
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "specd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home directory is required")
	}
	if c.Workspace == "" {
		return fmt.Errorf("workspace directory is required")
	}
	if c.Agent.Exe == "" {
		return fmt.Errorf("agent executable is required")
	}
	if c.Agent.LaunchesPerMinute < 1 {
		return fmt.Errorf("invalid agent launches_per_minute: %d (must be >= 1)", c.Agent.LaunchesPerMinute)
	}
	if c.Agent.LaunchBurst < 1 {
		return fmt.Errorf("invalid agent launch_burst: %d (must be >= 1)", c.Agent.LaunchBurst)
	}
	if c.Pipeline.MagicPhrase == "" {
		return fmt.Errorf("magic phrase is required")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("invalid max_attempts: %d (must be >= 1)", c.Pipeline.MaxAttempts)
	}
	if c.Retry.BackoffBase <= 1 {
		return fmt.Errorf("invalid backoff_base: %v (must be > 1)", c.Retry.BackoffBase)
	}
	if c.Retry.BackoffMax.Duration() <= 0 {
		return fmt.Errorf("backoff_max must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("invalid telemetry sample_rate: %v (must be 0-1)", c.Telemetry.SampleRate)
	}
	return nil
}
