// Package config provides configuration loading for specd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment overrides, e.g.
	// SPECD_AGENT_EXE -> agent.exe.
	EnvPrefix = "SPECD_"

	// FileName is the config file name looked up under the home directory
	// when no explicit path is given.
	FileName = "specd.yaml"
)

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SPECD_AGENT_EXE, SPECD_PIPELINE_MAX_ATTEMPTS, ...)
//  2. YAML config file (<home>/specd.yaml by default)
//  3. Hardcoded defaults
//
// A missing config file is not an error; defaults and environment
// variables still apply. Flag overrides are layered on by the CLI after
// Load returns, before Finalize.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		f, err := os.Open(configPath)
		switch {
		case os.IsNotExist(err):
			// fall through to env + defaults
		case err != nil:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		default:
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Environment variables use underscore separator and are uppercased.
	// The first underscore after the prefix separates section from field:
	//
	//	SPECD_HOME                      -> home
	//	SPECD_AGENT_EXE                 -> agent.exe
	//	SPECD_PIPELINE_MAX_ATTEMPTS     -> pipeline.max_attempts
	//	SPECD_RETRY_RATE_LIMIT_FALLBACK -> retry.rate_limit_fallback
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Finalize resolves the home and workspace directories to absolute paths,
// filling defaults (~/.specd and the current directory), then validates.
// Called after the CLI has layered flag overrides onto the loaded config.
func (c *Config) Finalize() error {
	home, err := resolveHome(c.Home)
	if err != nil {
		return err
	}
	c.Home = home

	if c.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		c.Workspace = wd
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	c.Workspace = abs

	return c.Validate()
}

// DefaultPath returns the config file path for the given home flag value,
// resolving the default home when the flag is empty.
func DefaultPath(homeFlag string) (string, error) {
	home, err := resolveHome(homeFlag)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}

func resolveHome(path string) (string, error) {
	if path == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(userHome, ".specd"), nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(userHome, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve home path: %w", err)
	}
	return abs, nil
}
