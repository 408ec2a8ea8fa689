package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/console"
	"github.com/fyrsmithlabs/specd/internal/state"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the backlog without running it",
	Long: `Validate discovers every spec and checks the authoring contract:
the file exists, is not empty, and contains at least one markdown heading.

Examples:
  specd validate`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	layout := state.NewLayout(cfg.Home)
	printer := console.New(os.Stdout, flagNoColor)

	specs, err := backlog.Discover(layout, cfg.Workspace, zap.NewNop())
	if err != nil {
		return err
	}
	if err := backlog.Validate(specs); err != nil {
		return err
	}
	printer.Success("ok", "%d specs validated", len(specs))
	return nil
}
