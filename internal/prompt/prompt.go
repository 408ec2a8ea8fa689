// Package prompt renders the phase prompts sent to the agent.
//
// Each phase (planner, implementer, verifier) has a fixed template
// carrying the run-specific paths, the output contract built around the
// magic phrase, and any context carried across attempts: an invalidated
// plan with its reason, the active plan, or verifier feedback.
package prompt

import (
	"embed"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/state"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var phaseTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Builder renders prompts for one runner configuration. Paths are
// rendered in slash form so prompts read the same on every platform.
type Builder struct {
	layout      state.Layout
	workspace   string
	magicPhrase string
}

// NewBuilder returns a Builder for the given home layout and workspace.
func NewBuilder(layout state.Layout, workspace, magicPhrase string) *Builder {
	return &Builder{layout: layout, workspace: workspace, magicPhrase: magicPhrase}
}

type promptData struct {
	WorkspaceRoot    string
	Home             string
	SpecWorkspaceRel string
	SpecRel          string
	SpecID           string
	Scratchpad       string
	MagicPhrase      string

	// Planner.
	PlanPath        string
	ReplanningBlock string

	// Implementer.
	CandidatesRoot string
	DoneRoot       string
	RunsRoot       string
	PlanBlock      string
	FeedbackBlock  string

	// Verifier.
	CandidateCommit string
	PlanEvalBlock   string
}

func (b *Builder) baseData(spec backlog.Spec) promptData {
	return promptData{
		WorkspaceRoot:    filepath.ToSlash(b.workspace),
		Home:             filepath.ToSlash(b.layout.Home),
		SpecWorkspaceRel: spec.WorkspaceRel,
		SpecRel:          spec.Rel,
		SpecID:           spec.ID,
		Scratchpad:       filepath.ToSlash(b.layout.Scratchpad()),
		MagicPhrase:      b.magicPhrase,
	}
}

// Planner renders the planning prompt. When a previous plan was
// invalidated, both the old plan body and the invalidation reason are
// spliced in so the next plan does not repeat the failed approach.
func (b *Builder) Planner(spec backlog.Spec, previousPlan, invalidationReason string) (string, error) {
	data := b.baseData(spec)
	data.PlanPath = filepath.ToSlash(b.layout.PlanBodyPath(spec.Rel))
	if previousPlan != "" && invalidationReason != "" {
		data.ReplanningBlock = "\nIMPORTANT: A previous plan was invalidated. Learn from its mistakes.\n\n" +
			"Invalidation reason: " + invalidationReason + "\n\n" +
			"Previous plan (DO NOT repeat the same approach):\n\n" +
			trimTrailing(previousPlan) + "\n\n"
	}
	return b.render("planner.tmpl", data)
}

// Implementer renders the implementation prompt around the active plan
// and, on retries, the verifier feedback to fix.
func (b *Builder) Implementer(spec backlog.Spec, planContent, verifierFeedback string) (string, error) {
	data := b.baseData(spec)
	data.CandidatesRoot = filepath.ToSlash(b.layout.CandidatesRoot())
	data.DoneRoot = filepath.ToSlash(b.layout.DoneRoot())
	data.RunsRoot = filepath.ToSlash(b.layout.RunsRoot())
	if planContent != "" {
		data.PlanBlock = "\nImplementation Plan (created by analyzing the spec and codebase; follow closely,\n" +
			"but adapt if you discover it is wrong or incomplete):\n\n" +
			trimTrailing(planContent) + "\n\n"
	}
	if verifierFeedback != "" {
		data.FeedbackBlock = "\nVerifier feedback from the last verification attempt (fix these issues):\n\n" +
			trimTrailing(verifierFeedback) + "\n\n"
	}
	return b.render("implementer.tmpl", data)
}

// Verifier renders the verification prompt for a candidate commit.
// When a plan exists it is included so the verifier can judge whether a
// failure traces back to the plan itself and say so with a
// PLAN_INVALIDATION line.
func (b *Builder) Verifier(spec backlog.Spec, candidateCommit, planContent string) (string, error) {
	data := b.baseData(spec)
	data.CandidateCommit = candidateCommit
	if planContent != "" {
		data.PlanEvalBlock = "\nPlan evaluation:\n\nThe implementer followed this plan:\n\n" +
			trimTrailing(planContent) + "\n\n" +
			"If the implementation failed due to a fundamentally flawed plan\n" +
			"(wrong approach, wrong files, incorrect assumptions about the codebase),\n" +
			"include this EXACT line in your failure report:\n\n" +
			"PLAN_INVALIDATION: <one-line reason why the plan approach is wrong>\n\n" +
			"Only use PLAN_INVALIDATION when the plan's APPROACH itself is wrong,\n" +
			"NOT when the implementer just made bugs or missed details.\n"
	}
	return b.render("verifier.tmpl", data)
}

func (b *Builder) render(name string, data promptData) (string, error) {
	var sb strings.Builder
	if err := phaseTemplates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func trimTrailing(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}
