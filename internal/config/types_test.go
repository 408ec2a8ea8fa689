package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", input: "90s", want: 90 * time.Second},
		{name: "minutes", input: "5m", want: 5 * time.Minute},
		{name: "compound", input: "1m30s", want: 90 * time.Second},
		{name: "negative", input: "-5s", wantErr: true},
		{name: "garbage", input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestDuration_MarshalText(t *testing.T) {
	d := Duration(90 * time.Second)
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}

func validConfig() *Config {
	cfg := &Config{Home: "/tmp/specd-home", Workspace: "/tmp/work"}
	applyDefaults(cfg)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing home",
			mutate:  func(c *Config) { c.Home = "" },
			wantErr: "home directory is required",
		},
		{
			name:    "missing workspace",
			mutate:  func(c *Config) { c.Workspace = "" },
			wantErr: "workspace directory is required",
		},
		{
			name:    "empty magic phrase",
			mutate:  func(c *Config) { c.Pipeline.MagicPhrase = "" },
			wantErr: "magic phrase is required",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Pipeline.MaxAttempts = -1 },
			wantErr: "invalid max_attempts",
		},
		{
			name:    "backoff base too small",
			mutate:  func(c *Config) { c.Retry.BackoffBase = 1.0 },
			wantErr: "invalid backoff_base",
		},
		{
			name:    "bad sample rate",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "invalid telemetry sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
