// Package pipeline drives one spec at a time through the plan,
// implement, and verify phases until it is done or the shared attempt
// budget runs out.
//
// All durable state lives in the home layout (plan, candidate, done,
// session, and failure marker files); the engine itself keeps nothing
// across calls, so a crashed or interrupted run resumes wherever the
// markers say it left off. Agent output is never trusted: phase success
// is decided solely by the strict output contracts in internal/parse
// plus the state files the agent was asked to produce.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/agent"
	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/console"
	"github.com/fyrsmithlabs/specd/internal/parse"
	"github.com/fyrsmithlabs/specd/internal/prompt"
	"github.com/fyrsmithlabs/specd/internal/retry"
	"github.com/fyrsmithlabs/specd/internal/state"
	"github.com/fyrsmithlabs/specd/internal/telemetry"
)

// Outcome is the terminal result of running one spec.
type Outcome string

const (
	// Completed means the verifier confirmed the candidate commit and
	// the done marker was written.
	Completed Outcome = "completed"
	// Skipped means the spec was already done (or carries a failure
	// marker) and was not forced.
	Skipped Outcome = "skipped"
	// Failed means the shared attempt budget was exhausted.
	Failed Outcome = "failed"
	// DryRun means the spec would have run but dry-run mode is on.
	DryRun Outcome = "dry_run"
)

type phaseOutcome int

const (
	phasePass phaseOutcome = iota
	phaseFail
	phaseRateLimited
)

// Options wires an Engine. Zero values get safe defaults where one
// exists; Store, Runner, and Prompts are required.
type Options struct {
	Layout  state.Layout
	Store   *state.Store
	Runner  agent.Runner
	Prompts *prompt.Builder
	Policy  retry.Policy
	Limits  *parse.Detector
	Printer *console.Printer
	Logger  *zap.Logger
	Tracer  oteltrace.Tracer
	Metrics *telemetry.Metrics

	MagicPhrase string
	MaxAttempts int
	DryRun      bool
	Force       []string

	// FreeRateLimitWaits stops usage-limit waits from consuming the
	// attempt budget. Off by default so a permanently rate-limited
	// agent still reaches Failed.
	FreeRateLimitWaits bool

	// Sleep and Now are injectable for tests.
	Sleep func(context.Context, time.Duration)
	Now   func() time.Time
}

// Engine runs specs. Safe for sequential use only; the runner processes
// one spec at a time by design.
type Engine struct {
	layout  state.Layout
	store   *state.Store
	runner  agent.Runner
	prompts *prompt.Builder
	policy  retry.Policy
	limits  *parse.Detector
	printer *console.Printer
	logger  *zap.Logger
	tracer  oteltrace.Tracer
	metrics *telemetry.Metrics

	magicPhrase string
	maxAttempts int
	dryRun      bool
	force       map[string]bool
	freeWaits   bool

	sleep func(context.Context, time.Duration)
	now   func() time.Time
}

// New builds an Engine from Options.
func New(opts Options) *Engine {
	e := &Engine{
		layout:      opts.Layout,
		store:       opts.Store,
		runner:      opts.Runner,
		prompts:     opts.Prompts,
		policy:      opts.Policy,
		limits:      opts.Limits,
		printer:     opts.Printer,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		metrics:     opts.Metrics,
		magicPhrase: opts.MagicPhrase,
		maxAttempts: opts.MaxAttempts,
		dryRun:      opts.DryRun,
		force:       make(map[string]bool, len(opts.Force)),
		freeWaits:   opts.FreeRateLimitWaits,
		sleep:       opts.Sleep,
		now:         opts.Now,
	}
	for _, rel := range opts.Force {
		e.force[rel] = true
	}
	if e.limits == nil {
		e.limits = parse.NewDetector()
	}
	if e.printer == nil {
		e.printer = console.New(os.Stdout, true)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer(telemetry.ScopeName)
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Run drives one spec to a terminal outcome. doneSet is the batch-wide
// done index; a completed spec is added to it so later duplicates in
// the same batch skip.
//
// Per-spec problems never escape as errors; they become Failed plus a
// log entry so the rest of the backlog still runs.
func (e *Engine) Run(ctx context.Context, spec backlog.Spec, doneSet map[string]bool) Outcome {
	rel := spec.Rel
	forced := e.force[rel]

	ctx, span := e.tracer.Start(ctx, "pipeline.spec", oteltrace.WithAttributes(
		attribute.String("spec", rel),
		attribute.Bool("forced", forced),
	))
	defer span.End()

	e.logger.Info("spec_start",
		zap.String("spec", rel),
		zap.Bool("forced", forced),
		zap.Bool("already_done", doneSet[rel]),
		zap.Bool("dry_run", e.dryRun),
	)

	if doneSet[rel] && !forced {
		e.printer.Muted("skip", "already done: %s", rel)
		e.logger.Info("spec_skipped", zap.String("spec", rel))
		e.metrics.RecordSpec(ctx, string(Skipped))
		return Skipped
	}

	if forced {
		if err := e.store.ClearFailure(rel); err != nil {
			e.logger.Warn("failure marker not cleared", zap.String("spec", rel), zap.Error(err))
		}
	} else if e.store.Failed(rel) {
		e.printer.Muted("skip", "previously failed: %s (re-run with --force)", rel)
		e.logger.Info("spec_skipped", zap.String("spec", rel), zap.String("reason", "failure_marker"))
		e.metrics.RecordSpec(ctx, string(Skipped))
		return Skipped
	}

	if e.dryRun {
		e.printer.Warn("dry-run", "would run: %s", rel)
		e.logger.Info("spec_dry_run", zap.String("spec", rel))
		e.metrics.RecordSpec(ctx, string(DryRun))
		return DryRun
	}

	if _, err := os.ReadFile(spec.Path); err != nil {
		e.logger.Error("spec_failed", zap.String("spec", rel), zap.String("error", "spec unreadable"), zap.Error(err))
		e.printer.Error("failed", "spec unreadable: %s", rel)
		e.metrics.RecordSpec(ctx, string(Failed))
		return Failed
	}

	var feedback string
	var lastPhase state.Phase
	var lastOutput string
	candidate := e.store.LoadCandidate(rel)

	attempt := 1
	for attempt <= e.maxAttempts {
		if ctx.Err() != nil {
			e.logger.Warn("spec_aborted", zap.String("spec", rel), zap.Int("attempt", attempt), zap.Error(ctx.Err()))
			e.metrics.RecordSpec(ctx, string(Failed))
			return Failed
		}

		// Phase 1: ensure an active plan exists.
		plan := e.store.LoadPlan(rel)
		if plan == nil || plan.Status == state.PlanInvalidated {
			var prevPlan, invReason string
			if plan != nil && plan.Status == state.PlanInvalidated {
				prevPlan = e.store.ArchivedPlanBody(rel, plan.Attempt)
				if plan.InvalidationReason != nil {
					invReason = *plan.InvalidationReason
				}
			}

			msg := fmt.Sprintf("%s | planning attempt %d/%d", rel, attempt, e.maxAttempts)
			if invReason != "" {
				msg += fmt.Sprintf(" (re-plan: %s)", invReason)
			}
			e.printer.Info("plan", "%s", msg)

			lastPhase = state.PhasePlan
			res := e.runPlanner(ctx, spec, prevPlan, invReason, attempt)
			lastOutput = res.output

			switch res.outcome {
			case phaseRateLimited:
				attempt = e.nextAttemptAfterRateLimit(attempt)
				continue
			case phaseFail:
				delay := e.waitBackoff(ctx, "plan", rel, attempt, "plan_failed")
				e.printer.Warn("retry", "planner failed; backing off %.1fs", delay.Seconds())
				e.sleep(ctx, delay)
				attempt++
				continue
			}

			e.printer.Progress("planned", "%s | plan ready", rel)
			if invReason != "" {
				// Fresh start for implementation after re-planning.
				candidate = nil
				feedback = ""
			}
		}

		planContent := e.store.PlanBody(rel)

		// Phase 2: verify a pre-existing unverified candidate before
		// spending any implementation effort.
		if candidate != nil && !forced && candidate.Status != state.CandidateVerified {
			e.logger.Info("candidate_loaded",
				zap.String("spec", rel),
				zap.String("candidate_commit", candidate.CandidateCommit),
				zap.String("status", string(candidate.Status)),
				zap.Stringp("last_impl_run_dir", candidate.LastImplRunDir),
				zap.Stringp("last_verify_run_dir", candidate.LastVerifyRunDir),
				zap.Int("attempt", attempt),
			)
			e.printer.Progress("pending", "candidate exists for %s @ %.8s... - verifying", rel, candidate.CandidateCommit)

			lastPhase = state.PhaseVerify
			res := e.verifyCandidate(ctx, spec, candidate, planContent, attempt)
			lastOutput = res.output

			switch res.outcome {
			case phasePass:
				doneSet[rel] = true
				e.printer.Success("done", "%s (verified commit: %.8s)", rel, candidate.CandidateCommit)
				e.metrics.RecordSpec(ctx, string(Completed))
				return Completed
			case phaseRateLimited:
				// Keep the candidate; re-verify after the wait.
				attempt = e.nextAttemptAfterRateLimit(attempt)
				continue
			}

			if reason, ok := parse.PlanInvalidation(res.output); ok {
				e.invalidatePlan(ctx, rel, reason, attempt)
				candidate = nil
				feedback = ""
				attempt++
				continue
			}

			feedback = parse.OutputTail(res.output, parse.TailLines)
			candidate = nil
			delay := e.waitBackoff(ctx, "verify", rel, attempt, "verify_failed")
			e.printer.Warn("retry", "verifier failed; backing off %.1fs before implement attempt", delay.Seconds())
			e.sleep(ctx, delay)
			attempt++
			continue
		}

		// Phase 3: implement.
		e.printer.Info("start", "%s | implement attempt %d/%d", rel, attempt, e.maxAttempts)
		e.logger.Info("impl_start", zap.String("spec", rel), zap.Int("attempt", attempt))

		lastPhase = state.PhaseImpl
		impl := e.runImplementer(ctx, spec, planContent, feedback, attempt)
		lastOutput = impl.output

		switch impl.outcome {
		case phaseRateLimited:
			attempt = e.nextAttemptAfterRateLimit(attempt)
			continue
		case phaseFail:
			delay := e.waitBackoff(ctx, "impl", rel, attempt, impl.failReason)
			switch impl.failReason {
			case "exception":
				e.printer.Warn("wait", "backing off %.1fs before retry", delay.Seconds())
			case "nonzero_exit":
				e.printer.Warn("wait", "agent exit %d; backing off %.1fs", impl.exitCode, delay.Seconds())
			default:
				e.printer.Warn("retry", "impl completion contract not satisfied; backing off %.1fs", delay.Seconds())
			}
			e.sleep(ctx, delay)
			attempt++
			continue
		}

		// Record the new candidate and verify it immediately.
		now := e.now().UTC().Format(time.RFC3339Nano)
		implRunRel := e.relToHome(impl.runDir)
		cand := &state.Candidate{
			SpecRel:         rel,
			SpecID:          spec.ID,
			CandidateCommit: impl.commit,
			CreatedAtUTC:    now,
			LastImplRunDir:  &implRunRel,
			Status:          state.CandidatePending,
		}
		if err := e.store.SaveCandidate(cand); err != nil {
			e.logger.Warn("candidate not saved", zap.String("spec", rel), zap.Error(err))
		}
		candidateFile := e.relToHome(e.layout.CandidatePath(rel))
		e.logger.Info("candidate_written",
			zap.String("spec", rel),
			zap.Int("attempt", attempt),
			zap.String("candidate_commit", impl.commit),
			zap.String("candidate_file", candidateFile),
		)
		e.printer.Progress("candidate", "%s -> %.8s (saved %s)", rel, impl.commit, candidateFile)

		lastPhase = state.PhaseVerify
		vres := e.verifyCandidate(ctx, spec, cand, planContent, attempt)
		lastOutput = vres.output

		switch vres.outcome {
		case phasePass:
			doneSet[rel] = true
			e.printer.Success("done", "%s (verified commit: %.8s)", rel, impl.commit)
			e.metrics.RecordSpec(ctx, string(Completed))
			return Completed
		case phaseRateLimited:
			candidate = cand
			attempt = e.nextAttemptAfterRateLimit(attempt)
			continue
		}

		if reason, ok := parse.PlanInvalidation(vres.output); ok {
			e.invalidatePlan(ctx, rel, reason, attempt)
			candidate = nil
			feedback = ""
			attempt++
			continue
		}

		feedback = parse.OutputTail(vres.output, parse.TailLines)
		candidate = nil
		delay := e.waitBackoff(ctx, "impl", rel, attempt, "verify_failed")
		e.printer.Warn("retry", "verifier failed; backing off %.1fs before next implement attempt", delay.Seconds())
		e.sleep(ctx, delay)
		attempt++
	}

	e.logger.Error("spec_failed", zap.String("spec", rel), zap.String("error", "max attempts exceeded"))
	if err := e.store.SaveFailure(state.FailureFile{
		SpecRel:     rel,
		SpecID:      spec.ID,
		Attempts:    e.maxAttempts,
		LastPhase:   lastPhase,
		FailedAtUTC: e.now().UTC().Format(time.RFC3339Nano),
		OutputTail:  parse.OutputTail(lastOutput, parse.TailLines),
	}); err != nil {
		e.logger.Warn("failure marker not written", zap.String("spec", rel), zap.Error(err))
	}
	e.printer.Error("failed", "max attempts exceeded for %s", rel)
	e.metrics.RecordSpec(ctx, string(Failed))
	return Failed
}

func (e *Engine) nextAttemptAfterRateLimit(attempt int) int {
	if e.freeWaits {
		return attempt
	}
	return attempt + 1
}

// waitBackoff computes and logs the exponential delay. The caller
// prints its phase-specific line and then sleeps.
func (e *Engine) waitBackoff(ctx context.Context, phase, rel string, attempt int, reason string) time.Duration {
	delay := e.policy.Backoff(attempt)
	e.logger.Info("backoff_wait",
		zap.String("phase", phase),
		zap.String("spec", rel),
		zap.Int("attempt", attempt),
		zap.Float64("wait_seconds", delay.Seconds()),
		zap.String("reason", reason),
	)
	e.metrics.RecordWait(ctx, "backoff", delay.Seconds())
	return delay
}

// waitRateLimit sleeps out a provider usage limit. This is the only
// sleep for a rate-limited attempt; no backoff is added on top.
func (e *Engine) waitRateLimit(ctx context.Context, phase, rel string, attempt int, output string) {
	tail := parse.OutputTail(output, parse.TailLines)
	hint, hintOK := parse.ResetHint(tail, e.now())
	wait := e.policy.RateLimitWait(hint, hintOK)

	fields := []zap.Field{
		zap.String("phase", phase),
		zap.String("spec", rel),
		zap.Int("attempt", attempt),
		zap.Float64("wait_seconds", wait.Seconds()),
		zap.String("reason", "unknown_reset"),
	}
	msg := fmt.Sprintf("usage limit reached during %s; sleeping %.0fs before retry (no reset info)", phase, wait.Seconds())
	if hintOK {
		fields[4] = zap.String("reason", "reset_seconds")
		fields = append(fields, zap.Float64("reset_seconds", hint.Seconds()))
		msg = fmt.Sprintf("usage limit reached during %s; sleeping %.0fs before retry", phase, wait.Seconds())
	}
	e.logger.Info("usage_limit_wait", fields...)
	e.printer.Warn("wait", "%s", msg)
	e.metrics.RecordWait(ctx, "rate_limit", wait.Seconds())
	e.sleep(ctx, wait)
}

// invalidatePlan archives the plan with its reason, drops the stale
// candidate file so a restart cannot re-verify the old commit, and
// backs off before re-planning.
func (e *Engine) invalidatePlan(ctx context.Context, rel, reason string, attempt int) {
	e.logger.Info("plan_invalidated",
		zap.String("spec", rel),
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
	)
	e.printer.Warn("plan-invalid", "plan invalidated: %s", reason)
	if _, err := e.store.InvalidatePlan(rel, reason); err != nil {
		e.logger.Warn("plan invalidation not persisted", zap.String("spec", rel), zap.Error(err))
	}
	if err := e.store.DeleteCandidate(rel); err != nil {
		e.logger.Warn("stale candidate not removed", zap.String("spec", rel), zap.Error(err))
	}

	delay := e.waitBackoff(ctx, "plan", rel, attempt, "plan_invalidated")
	e.sleep(ctx, delay)
}

func (e *Engine) relToHome(p string) string {
	if rel, err := filepath.Rel(e.layout.Home, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
