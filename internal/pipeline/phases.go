package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/agent"
	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/parse"
	"github.com/fyrsmithlabs/specd/internal/state"
)

// phaseResult is what a single phase attempt produced. output carries the
// full merged agent output (or the exception text) so the caller can mine
// it for feedback and invalidation markers.
type phaseResult struct {
	outcome    phaseOutcome
	failReason string // implement only: exception, nonzero_exit, no_completion
	exitCode   int
	commit     string // implement pass only
	runDir     string
	output     string
}

// runPlanner asks the agent to write the plan file. Success requires a
// non-blank plan file on disk plus the completion phrase as the last
// non-empty output line; the agent's exit code is deliberately ignored
// because planning produces no commit to gate on.
func (e *Engine) runPlanner(ctx context.Context, spec backlog.Spec, prevPlan, invReason string, attempt int) phaseResult {
	rel := spec.Rel
	ctx, span := e.tracer.Start(ctx, "pipeline.plan", oteltrace.WithAttributes(
		attribute.String("spec", rel),
		attribute.Int("attempt", attempt),
	))
	defer span.End()
	started := e.now()

	runDir, err := agent.MakeRunDir(e.layout, spec.ID, e.now())
	if err != nil {
		return e.phaseException(ctx, "plan", rel, attempt, "", started, err)
	}
	runRel := e.relToHome(runDir)

	promptText, err := e.prompts.Planner(spec, prevPlan, invReason)
	if err != nil {
		return e.phaseException(ctx, "plan", rel, attempt, runDir, started, err)
	}

	resume := e.store.ResumeSessionID(rel, state.PhasePlan)
	e.logger.Info("plan_start",
		zap.String("spec", rel),
		zap.Int("attempt", attempt),
		zap.String("run_dir", runRel),
		zap.Bool("replanning", invReason != ""),
	)

	res, err := e.runner.Run(ctx, promptText, resume)
	if err != nil {
		return e.phaseException(ctx, "plan", rel, attempt, runDir, started, err)
	}
	e.writeRunLog(runDir, fmt.Sprintf(agent.PlanLogPattern, attempt), res.Output)

	sessionID, tokens, tokensOK := e.recordRunArtifacts(ctx, rel, spec.ID, state.PhasePlan, res.Output)

	planExists := e.store.PlanBody(rel) != ""
	completed := planExists && parse.PlannerPhrase(res.Output, e.magicPhrase)

	fields := e.runCompleteFields(rel, attempt, res, runRel, sessionID, resume != "", tokens, tokensOK)
	fields = append(fields,
		zap.Bool("completed", completed),
		zap.Bool("plan_file_exists", planExists),
	)
	e.logger.Info("plan_run_complete", fields...)

	if !completed {
		if e.limits.Detect(res.Output) {
			e.waitRateLimit(ctx, "plan", rel, attempt, res.Output)
			e.metrics.RecordAttempt(ctx, "plan", "rate_limited", e.since(started))
			return phaseResult{outcome: phaseRateLimited, runDir: runDir, output: res.Output}
		}
		e.metrics.RecordAttempt(ctx, "plan", "fail", e.since(started))
		return phaseResult{outcome: phaseFail, exitCode: res.ExitCode, runDir: runDir, output: res.Output}
	}

	planAttempt := state.NextAttempt(e.store.LoadPlan(rel))
	record := &state.Plan{
		SpecRel:      rel,
		SpecID:       spec.ID,
		Status:       state.PlanActive,
		CreatedAtUTC: e.now().UTC().Format(time.RFC3339Nano),
		Attempt:      planAttempt,
	}
	if err := e.store.SavePlan(record); err != nil {
		e.logger.Warn("plan metadata not saved", zap.String("spec", rel), zap.Error(err))
	}
	e.logger.Info("plan_pass",
		zap.String("spec", rel),
		zap.Int("attempt", attempt),
		zap.Int("plan_attempt", planAttempt),
		zap.String("plan_file", e.relToHome(e.layout.PlanBodyPath(rel))),
	)
	e.metrics.RecordAttempt(ctx, "plan", "pass", e.since(started))
	return phaseResult{outcome: phasePass, exitCode: res.ExitCode, runDir: runDir, output: res.Output}
}

// runImplementer asks the agent to implement the plan and commit. Success
// requires the completion phrase as the last non-empty output line, a
// 40-hex commit as the line before it, and exit code zero.
func (e *Engine) runImplementer(ctx context.Context, spec backlog.Spec, planContent, feedback string, attempt int) phaseResult {
	rel := spec.Rel
	ctx, span := e.tracer.Start(ctx, "pipeline.implement", oteltrace.WithAttributes(
		attribute.String("spec", rel),
		attribute.Int("attempt", attempt),
	))
	defer span.End()
	started := e.now()

	runDir, err := agent.MakeRunDir(e.layout, spec.ID, e.now())
	if err != nil {
		return e.phaseException(ctx, "impl", rel, attempt, "", started, err)
	}
	runRel := e.relToHome(runDir)

	promptText, err := e.prompts.Implementer(spec, planContent, feedback)
	if err != nil {
		return e.phaseException(ctx, "impl", rel, attempt, runDir, started, err)
	}

	resume := e.store.ResumeSessionID(rel, state.PhaseImpl)
	res, err := e.runner.Run(ctx, promptText, resume)
	if err != nil {
		return e.phaseException(ctx, "impl", rel, attempt, runDir, started, err)
	}
	e.writeRunLog(runDir, fmt.Sprintf(agent.ImplLogPattern, attempt), res.Output)

	sessionID, tokens, tokensOK := e.recordRunArtifacts(ctx, rel, spec.ID, state.PhaseImpl, res.Output)

	commit, completionOK := parse.Completion(res.Output, e.magicPhrase)
	completed := completionOK && res.ExitCode == 0

	fields := e.runCompleteFields(rel, attempt, res, runRel, sessionID, resume != "", tokens, tokensOK)
	fields = append(fields, zap.Bool("completion_ok", completionOK))
	if completionOK {
		fields = append(fields, zap.String("completion_commit", commit))
	}
	e.logger.Info("impl_run_complete", fields...)

	if !completed && e.limits.Detect(res.Output) {
		e.waitRateLimit(ctx, "impl", rel, attempt, res.Output)
		e.metrics.RecordAttempt(ctx, "impl", "rate_limited", e.since(started))
		return phaseResult{outcome: phaseRateLimited, runDir: runDir, output: res.Output}
	}

	if res.ExitCode != 0 {
		e.logger.Warn("impl_nonzero_exit",
			zap.String("spec", rel),
			zap.Int("attempt", attempt),
			zap.Int("exit_code", res.ExitCode),
		)
		e.metrics.RecordAttempt(ctx, "impl", "fail", e.since(started))
		return phaseResult{outcome: phaseFail, failReason: "nonzero_exit", exitCode: res.ExitCode, runDir: runDir, output: res.Output}
	}

	if !completionOK {
		e.logger.Warn("impl_no_completion",
			zap.String("spec", rel),
			zap.Int("attempt", attempt),
		)
		e.metrics.RecordAttempt(ctx, "impl", "fail", e.since(started))
		return phaseResult{outcome: phaseFail, failReason: "no_completion", runDir: runDir, output: res.Output}
	}

	e.metrics.RecordAttempt(ctx, "impl", "pass", e.since(started))
	return phaseResult{outcome: phasePass, commit: commit, runDir: runDir, output: res.Output}
}

// verifyCandidate asks the agent to independently check the candidate
// commit against the spec. Passing requires the full completion contract,
// the emitted commit to equal the candidate commit, and exit code zero.
// On pass the candidate is marked verified and the done marker written.
func (e *Engine) verifyCandidate(ctx context.Context, spec backlog.Spec, cand *state.Candidate, planContent string, attempt int) phaseResult {
	rel := spec.Rel
	ctx, span := e.tracer.Start(ctx, "pipeline.verify", oteltrace.WithAttributes(
		attribute.String("spec", rel),
		attribute.Int("attempt", attempt),
	))
	defer span.End()
	started := e.now()

	e.logger.Info("verify_start",
		zap.String("spec", rel),
		zap.String("candidate_commit", cand.CandidateCommit),
		zap.Int("attempt", attempt),
	)

	runDir, err := agent.MakeRunDir(e.layout, spec.ID, e.now())
	if err != nil {
		return e.phaseException(ctx, "verify", rel, attempt, "", started, err)
	}
	runRel := e.relToHome(runDir)

	promptText, err := e.prompts.Verifier(spec, cand.CandidateCommit, planContent)
	if err != nil {
		return e.phaseException(ctx, "verify", rel, attempt, runDir, started, err)
	}

	resume := e.store.ResumeSessionID(rel, state.PhaseVerify)
	res, err := e.runner.Run(ctx, promptText, resume)
	if err != nil {
		return e.phaseException(ctx, "verify", rel, attempt, runDir, started, err)
	}
	e.writeRunLog(runDir, agent.VerifyLogName, res.Output)

	sessionID, tokens, tokensOK := e.recordRunArtifacts(ctx, rel, spec.ID, state.PhaseVerify, res.Output)

	observed, completionOK := parse.Completion(res.Output, e.magicPhrase)
	commitMatch := completionOK && observed == cand.CandidateCommit
	completed := commitMatch && res.ExitCode == 0

	fields := e.runCompleteFields(rel, attempt, res, runRel, sessionID, resume != "", tokens, tokensOK)
	fields = append(fields,
		zap.Bool("completion_ok", completionOK),
		zap.Bool("commit_match", commitMatch),
	)
	if completionOK {
		fields = append(fields, zap.String("completion_commit", observed))
	}
	e.logger.Info("verify_run_complete", fields...)

	if !completed && e.limits.Detect(res.Output) {
		e.waitRateLimit(ctx, "verify", rel, attempt, res.Output)
		e.metrics.RecordAttempt(ctx, "verify", "rate_limited", e.since(started))
		return phaseResult{outcome: phaseRateLimited, runDir: runDir, output: res.Output}
	}

	if res.ExitCode != 0 {
		e.logger.Warn("verify_nonzero_exit",
			zap.String("spec", rel),
			zap.Int("attempt", attempt),
			zap.Int("exit_code", res.ExitCode),
		)
		e.metrics.RecordAttempt(ctx, "verify", "fail", e.since(started))
		return phaseResult{outcome: phaseFail, exitCode: res.ExitCode, runDir: runDir, output: res.Output}
	}

	if commitMatch {
		cand.Status = state.CandidateVerified
		cand.LastVerifyRunDir = &runRel
		if err := e.store.SaveCandidate(cand); err != nil {
			e.logger.Warn("candidate record not updated", zap.String("spec", rel), zap.Error(err))
		}
		implRun := ""
		if cand.LastImplRunDir != nil {
			implRun = *cand.LastImplRunDir
		}
		done := state.DoneFile{
			SpecRel:         rel,
			SpecID:          spec.ID,
			CandidateCommit: cand.CandidateCommit,
			VerifiedAtUTC:   e.now().UTC().Format(time.RFC3339Nano),
			VerifyRunDir:    runRel,
			ImplRunDir:      implRun,
			VerifierTail:    parse.OutputTail(res.Output, parse.TailLines),
		}
		if err := e.store.SaveDone(done); err != nil {
			e.logger.Error("done marker not written", zap.String("spec", rel), zap.Error(err))
			e.metrics.RecordAttempt(ctx, "verify", "fail", e.since(started))
			return phaseResult{outcome: phaseFail, runDir: runDir, output: res.Output}
		}
		e.logger.Info("verify_pass",
			zap.String("spec", rel),
			zap.String("candidate_commit", cand.CandidateCommit),
			zap.String("done_file", e.relToHome(e.layout.DonePath(rel))),
		)
		e.metrics.RecordAttempt(ctx, "verify", "pass", e.since(started))
		return phaseResult{outcome: phasePass, runDir: runDir, output: res.Output}
	}

	e.logger.Warn("verify_fail",
		zap.String("spec", rel),
		zap.String("candidate_commit", cand.CandidateCommit),
		zap.Int("attempt", attempt),
		zap.String("observed_commit", observed),
		zap.String("reason", "completion_contract_not_satisfied_or_commit_mismatch"),
	)
	e.metrics.RecordAttempt(ctx, "verify", "fail", e.since(started))
	return phaseResult{outcome: phaseFail, runDir: runDir, output: res.Output}
}

// phaseException handles any failure to launch or converse with the agent.
// The error text is preserved both as a run log and as the phase output so
// it still feeds the failure marker if this ends up being the last attempt.
func (e *Engine) phaseException(ctx context.Context, phase, rel string, attempt int, runDir string, started time.Time, err error) phaseResult {
	if runDir != "" {
		e.writeRunLog(runDir, fmt.Sprintf(agent.ExceptionPattern, phase), err.Error()+"\n")
	}
	e.logger.Error(phase+"_exception",
		zap.String("spec", rel),
		zap.Int("attempt", attempt),
		zap.String("error", err.Error()),
	)
	e.metrics.RecordAttempt(ctx, phase, "exception", e.since(started))
	return phaseResult{
		outcome:    phaseFail,
		failReason: "exception",
		runDir:     runDir,
		output:     "[exception]\n" + err.Error(),
	}
}

// recordRunArtifacts extracts the session ID and token count from agent
// output, persisting the former for resume and reporting the latter.
func (e *Engine) recordRunArtifacts(ctx context.Context, rel, specID string, phase state.Phase, output string) (string, int64, bool) {
	sessionID, ok := parse.SessionID(output)
	if ok {
		if _, err := e.store.UpdateSession(rel, specID, phase, sessionID); err != nil {
			e.logger.Warn("session record not updated", zap.String("spec", rel), zap.Error(err))
		}
	}
	tokens, tokensOK := parse.TokensUsed(output)
	if tokensOK {
		e.metrics.RecordTokens(ctx, string(phase), tokens)
	}
	return sessionID, tokens, tokensOK
}

func (e *Engine) runCompleteFields(rel string, attempt int, res agent.Result, runRel, sessionID string, resumed bool, tokens int64, tokensOK bool) []zap.Field {
	sum := parse.Summarize(res.Output)
	fields := []zap.Field{
		zap.String("spec", rel),
		zap.Int("attempt", attempt),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("resumed_from_session", resumed),
		zap.String("run_dir", runRel),
		zap.Int("output_lines", sum.Lines),
		zap.Int("output_chars", sum.Chars),
		zap.Int("output_nonempty_lines", sum.NonEmptyLines),
		zap.String("output_last_nonempty", sum.LastNonEmpty),
	}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if tokensOK {
		fields = append(fields, zap.Int64("tokens_used", tokens))
	}
	return fields
}

func (e *Engine) writeRunLog(runDir, filename, text string) {
	if _, err := agent.WriteRunLog(runDir, filename, text); err != nil {
		e.logger.Warn("run log not written",
			zap.String("run_dir", e.relToHome(runDir)),
			zap.String("file", filename),
			zap.Error(err),
		)
	}
}

func (e *Engine) since(started time.Time) float64 {
	return e.now().Sub(started).Seconds()
}
