package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/console"
	"github.com/fyrsmithlabs/specd/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state for every spec",
	Long: `Status reports where each backlog spec sits in the pipeline:
new, planned, candidate awaiting verification, done, or failed.

Examples:
  specd status
  specd status --home /srv/specd`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	layout := state.NewLayout(cfg.Home)
	store := state.NewStore(layout, zap.NewNop())
	printer := console.New(os.Stdout, flagNoColor)

	specs, err := backlog.Discover(layout, cfg.Workspace, zap.NewNop())
	if err != nil {
		if errors.Is(err, backlog.ErrNoSpecs) {
			printer.Println("backlog is empty: %s", layout.SpecsRoot())
			return nil
		}
		return err
	}

	doneSet := store.DoneSet()
	var done, failed, candidates, planned, fresh int
	for _, spec := range specs {
		switch {
		case doneSet[spec.Rel]:
			done++
			printer.Success("done", "%s", spec.Rel)
		case store.Failed(spec.Rel):
			failed++
			printer.Error("failed", "%s", spec.Rel)
		default:
			if cand := store.LoadCandidate(spec.Rel); cand != nil {
				candidates++
				printer.Progress("candidate", "%s @ %.8s (%s)", spec.Rel, cand.CandidateCommit, cand.Status)
			} else if plan := store.LoadPlan(spec.Rel); plan != nil && plan.Status == state.PlanActive {
				planned++
				printer.Info("planned", "%s", spec.Rel)
			} else {
				fresh++
				printer.Muted("new", "%s", spec.Rel)
			}
		}
	}

	printer.Println("")
	printer.Println("%d specs: %d done, %d failed, %d candidate, %d planned, %d new",
		len(specs), done, failed, candidates, planned, fresh)
	return nil
}
