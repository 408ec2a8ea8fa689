package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/specd/internal/agent"
	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/console"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/parse"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
	"github.com/fyrsmithlabs/specd/internal/prompt"
	"github.com/fyrsmithlabs/specd/internal/retry"
	"github.com/fyrsmithlabs/specd/internal/state"
	"github.com/fyrsmithlabs/specd/internal/telemetry"
	"github.com/fyrsmithlabs/specd/internal/watch"
)

// scratchpadSeed is written once when the home directory is initialized.
// Agents read and append to the scratchpad across runs as shared memory.
const scratchpadSeed = "# SCRATCHPAD\n\n" +
	"- Shared memory / handover for agent runs.\n" +
	"- Keep concise; prefer bullets.\n"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backlog through the pipeline",
	Long: `Run discovers every spec under <home>/specs, validates the backlog,
and drives each spec through plan, implement, and verify phases until it
is done or its attempt budget is exhausted.

Examples:
  # Run the whole backlog
  specd run

  # Re-run two specs that are already done
  specd run --force 0003-retry-budget.md --force api/0007-sessions.md

  # Show what would run without launching the agent
  specd run --dry-run

  # Keep running as the backlog changes
  specd run --watch`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&flagWorkspace, "workspace", "", "workspace the agent operates in (default: current directory)")
	f.StringVar(&flagAgentExe, "agent-exe", "", "agent executable to launch (default: codex)")
	f.StringVar(&flagAgentArgs, "agent-args", "", "arguments passed to the agent executable")
	f.StringVar(&flagMagicPhrase, "magic-phrase", "", "completion phrase the agent must end its output with")
	f.StringArrayVar(&flagForce, "force", nil, "spec (path relative to specs/) to re-run even if done; repeatable")
	f.BoolVar(&flagDryRun, "dry-run", false, "list what would run without launching the agent")
	f.IntVar(&flagMaxAttempts, "max-attempts", 0, "attempt budget per spec")
	f.BoolVar(&flagSkipValidation, "skip-validation", false, "skip backlog validation")
	f.BoolVar(&flagStream, "stream", false, "stream agent output to the console")
	f.BoolVar(&flagJSONLogs, "json-logs", false, "write event log entries as JSON")
	f.BoolVar(&flagVerbose, "verbose", false, "tee structured events to stdout")
	f.BoolVar(&flagWatch, "watch", false, "re-run whenever the backlog changes")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	layout := state.NewLayout(cfg.Home)
	if err := layout.EnsureDirs(); err != nil {
		return err
	}
	if err := seedScratchpad(layout); err != nil {
		return err
	}

	logger, closeLog, err := newRunLogger(cfg, layout)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		TLSSkipVerify:  cfg.Telemetry.TLSSkipVerify,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRate:     cfg.Telemetry.SampleRate,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewMetrics(tel.Meter(telemetry.ScopeName))
	if err != nil {
		logger.Warn("metrics disabled", zap.Error(err))
		metrics = nil
	}

	printer := console.New(os.Stdout, flagNoColor)

	exePath, err := exec.LookPath(cfg.Agent.Exe)
	if err != nil {
		return fmt.Errorf("agent executable not found on PATH: %s", cfg.Agent.Exe)
	}

	extra, err := parse.LoadPatterns(filepath.Join(cfg.Home, "patterns.toml"))
	if err != nil {
		return err
	}

	args := agent.NormalizeArgs(
		strings.Fields(cfg.Agent.Args),
		agent.SupportsFlag(exePath, "exec", "--search"),
		agent.SupportsFlag(exePath, "exec", "--config"),
		os.Stderr,
	)

	runner := agent.New(agent.Config{
		Exe:       exePath,
		Args:      args,
		Workspace: cfg.Workspace,
		Stream:    cfg.Agent.StreamOutput,
		Echo:      os.Stdout,
	}, agent.NewLaunchLimiter(cfg.Agent.LaunchesPerMinute, cfg.Agent.LaunchBurst), logger)

	store := state.NewStore(layout, logger)
	eng := pipeline.New(pipeline.Options{
		Layout:  layout,
		Store:   store,
		Runner:  runner,
		Prompts: prompt.NewBuilder(layout, cfg.Workspace, cfg.Pipeline.MagicPhrase),
		Policy: retry.Policy{
			BackoffBase:       cfg.Retry.BackoffBase,
			BackoffMax:        cfg.Retry.BackoffMax.Duration(),
			RateLimitMargin:   cfg.Retry.RateLimitMargin.Duration(),
			RateLimitFallback: cfg.Retry.RateLimitFallback.Duration(),
		},
		Limits:             parse.NewDetector(extra...),
		Printer:            printer,
		Logger:             logger,
		Tracer:             tel.Tracer(telemetry.ScopeName),
		Metrics:            metrics,
		MagicPhrase:        cfg.Pipeline.MagicPhrase,
		MaxAttempts:        cfg.Pipeline.MaxAttempts,
		DryRun:             flagDryRun,
		Force:              normalizeForce(flagForce),
		FreeRateLimitWaits: cfg.Retry.FreeRateLimitWaits,
	})

	b := &batch{
		cfg:     cfg,
		layout:  layout,
		store:   store,
		engine:  eng,
		printer: printer,
		logger:  logger,
		dryRun:  flagDryRun,
	}

	if !flagWatch {
		t, err := b.runOnce(ctx)
		if err != nil {
			return err
		}
		if t.failed > 0 {
			return fmt.Errorf("%d spec(s) failed", t.failed)
		}
		return nil
	}
	return b.watchLoop(ctx)
}

type tally struct {
	completed int
	skipped   int
	failed    int
	dryRun    int
}

// batch runs full passes over the backlog.
type batch struct {
	cfg     *config.Config
	layout  state.Layout
	store   *state.Store
	engine  *pipeline.Engine
	printer *console.Printer
	logger  *zap.Logger
	dryRun  bool
}

// runOnce discovers the backlog, runs every spec through the pipeline,
// and prints the summary. One failed spec does not stop the pass.
func (b *batch) runOnce(ctx context.Context) (tally, error) {
	var t tally

	specs, err := backlog.Discover(b.layout, b.cfg.Workspace, b.logger)
	if err != nil {
		b.logger.Error("run_error", zap.Error(err))
		return t, err
	}
	if !b.cfg.Pipeline.SkipValidation {
		if err := backlog.Validate(specs); err != nil {
			b.logger.Error("run_error", zap.Error(err))
			return t, err
		}
	}

	doneSet := b.store.DoneSet()
	b.logger.Info("run_start",
		zap.Int("specs", len(specs)),
		zap.Int("already_done", len(doneSet)),
		zap.Bool("dry_run", b.dryRun),
	)

	for i, spec := range specs {
		b.printer.Println("")
		b.printer.Println("=== [%d/%d] %s ===", i+1, len(specs), spec.Rel)
		b.logger.Info("spec_queue",
			zap.String("spec", spec.Rel),
			zap.Int("index", i+1),
			zap.Int("total", len(specs)),
		)

		outcome := b.engine.Run(ctx, spec, doneSet)
		b.logger.Info("spec_result",
			zap.String("spec", spec.Rel),
			zap.String("result", string(outcome)),
		)

		switch outcome {
		case pipeline.Completed:
			t.completed++
		case pipeline.Skipped:
			t.skipped++
		case pipeline.DryRun:
			t.dryRun++
		case pipeline.Failed:
			t.failed++
		}

		if ctx.Err() != nil {
			b.logger.Warn("run_stopped", zap.String("spec", spec.Rel), zap.Error(ctx.Err()))
			break
		}
	}

	b.printSummary(t)
	b.logger.Info("run_complete",
		zap.Int("completed", t.completed),
		zap.Int("skipped", t.skipped),
		zap.Int("failed", t.failed),
		zap.Int("dry_run", t.dryRun),
	)
	return t, nil
}

func (b *batch) printSummary(t tally) {
	b.printer.Println("")
	b.printer.Println("=== Summary ===")
	b.printer.Println("Completed: %d", t.completed)
	b.printer.Println("Skipped:   %d", t.skipped)
	b.printer.Println("Failed:    %d", t.failed)
	if t.dryRun > 0 {
		b.printer.Println("Dry run:   %d", t.dryRun)
	}
}

// watchLoop re-runs the backlog whenever the specs tree changes. A
// failed pass does not end the loop; the next change gets another shot.
func (b *batch) watchLoop(ctx context.Context) error {
	w, err := watch.New(b.layout, watch.DefaultDebounce, b.logger)
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(); err != nil {
		return err
	}

	for {
		if _, err := b.runOnce(ctx); err != nil {
			// Discovery or validation errors are not fatal in watch
			// mode; fixing the backlog triggers the next pass.
			b.printer.Error("error", "%v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		b.printer.Muted("watch", "waiting for backlog changes (ctrl-c to stop)")
		ev, ok := w.Wait(ctx)
		if !ok {
			return nil
		}
		b.printer.Info("watch", "backlog changed (%s); running again", filepath.Base(ev.Path))
	}
}

func newRunLogger(cfg *config.Config, layout state.Layout) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	return logging.New(&logging.Config{
		Level:  level,
		JSON:   cfg.Log.JSON,
		File:   layout.EventLog(),
		Stdout: cfg.Log.Verbose,
	})
}

// seedScratchpad creates the shared scratchpad if it does not exist yet.
// Existing content is never touched.
func seedScratchpad(layout state.Layout) error {
	path := layout.Scratchpad()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check scratchpad: %w", err)
	}
	return os.WriteFile(path, []byte(scratchpadSeed), 0o644)
}

// normalizeForce converts user-supplied spec paths to the slash-relative
// form state records are keyed by.
func normalizeForce(specs []string) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		s = strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
		s = strings.TrimPrefix(s, "/")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
