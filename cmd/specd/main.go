// Package main implements the specd CLI, a pipeline runner that drives
// backlog specs through plan, implement, and verify phases by launching
// an autonomous coding agent for each phase.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specd/internal/config"
)

// Version information (set via ldflags during build)
var version = "dev"

var (
	flagHome           string
	flagConfig         string
	flagNoColor        bool
	flagWorkspace      string
	flagAgentExe       string
	flagAgentArgs      string
	flagMagicPhrase    string
	flagForce          []string
	flagDryRun         bool
	flagMaxAttempts    int
	flagSkipValidation bool
	flagStream         bool
	flagJSONLogs       bool
	flagVerbose        bool
	flagWatch          bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "specd",
	Short: "Spec-driven development pipeline runner",
	Long: `specd drives a backlog of spec files through plan, implement, and
verify phases by launching an autonomous coding agent for each phase.
All state lives under the specd home directory (~/.specd by default),
so an interrupted run resumes exactly where it stopped.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagHome, "home", "", "specd home directory (default ~/.specd)")
	pf.StringVar(&flagConfig, "config", "", "config file path (default <home>/specd.yaml)")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colorized output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the YAML/env configuration, layers flag overrides on
// top, and finalizes paths. Used by every subcommand.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := flagConfig
	if path == "" {
		var err error
		path, err = config.DefaultPath(flagHome)
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagHome != "" {
		cfg.Home = flagHome
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlagOverrides copies explicitly-set flags onto the config. Flags
// outrank both the config file and environment variables.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("workspace") {
		cfg.Workspace = flagWorkspace
	}
	if f.Changed("agent-exe") {
		cfg.Agent.Exe = flagAgentExe
	}
	if f.Changed("agent-args") {
		cfg.Agent.Args = flagAgentArgs
	}
	if f.Changed("magic-phrase") {
		cfg.Pipeline.MagicPhrase = flagMagicPhrase
	}
	if f.Changed("max-attempts") {
		cfg.Pipeline.MaxAttempts = flagMaxAttempts
	}
	if f.Changed("skip-validation") {
		cfg.Pipeline.SkipValidation = flagSkipValidation
	}
	if f.Changed("stream") {
		cfg.Agent.StreamOutput = flagStream
	}
	if f.Changed("json-logs") {
		cfg.Log.JSON = flagJSONLogs
	}
	if f.Changed("verbose") {
		cfg.Log.Verbose = flagVerbose
	}
}
