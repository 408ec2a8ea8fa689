package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specd/internal/backlog"
	"github.com/fyrsmithlabs/specd/internal/state"
)

const phrase = "I AM HYPER SURE I AM DONE!"

func testBuilder() (*Builder, backlog.Spec) {
	layout := state.Layout{Home: "/srv/specd"}
	spec := backlog.Spec{
		Path:         "/srv/specd/specs/billing/0003-invoices.md",
		Rel:          "billing/0003-invoices.md",
		WorkspaceRel: ".specd/specs/billing/0003-invoices.md",
		ID:           "0003-invoices",
	}
	return NewBuilder(layout, "/srv/work", phrase), spec
}

func TestPlannerPrompt(t *testing.T) {
	b, spec := testBuilder()

	got, err := b.Planner(spec, "", "")
	require.NoError(t, err)

	assert.Contains(t, got, "* Workspace root (repos live here): /srv/work\n")
	assert.Contains(t, got, "* specd home (state dir): /srv/specd\n")
	assert.Contains(t, got, "* Spec file (relative to workspace root): .specd/specs/billing/0003-invoices.md\n")
	assert.Contains(t, got, "* Spec file (relative to specs root): billing/0003-invoices.md\n")
	assert.Contains(t, got, "* Scratchpad: /srv/specd/SCRATCHPAD.md\n")
	assert.Contains(t, got, "* Plan output file: /srv/specd/specs/plans/billing/0003-invoices.md\n")
	assert.Contains(t, got, "# Plan: 0003-invoices\n")
	assert.Contains(t, got, "   "+phrase+"\n")
	assert.NotContains(t, got, "previous plan was invalidated")
	assert.True(t, strings.HasSuffix(got, "Now read the spec and plan the implementation.\n"))
	assert.NotContains(t, got, "{{")
}

func TestPlannerPromptReplanning(t *testing.T) {
	b, spec := testBuilder()

	got, err := b.Planner(spec, "# Plan: 0003-invoices\n\n## Steps\n1. wrong approach\n\n", "plan targets a repo that was split")
	require.NoError(t, err)

	assert.Contains(t, got, "IMPORTANT: A previous plan was invalidated. Learn from its mistakes.\n")
	assert.Contains(t, got, "Invalidation reason: plan targets a repo that was split\n")
	assert.Contains(t, got, "Previous plan (DO NOT repeat the same approach):\n\n# Plan: 0003-invoices\n\n## Steps\n1. wrong approach\n\n")
	// The carried plan sits between the contract and the closing line.
	idx := strings.Index(got, "Do not print anything after the magic phrase.")
	require.Greater(t, idx, 0)
	assert.Greater(t, strings.Index(got, "IMPORTANT: A previous plan was invalidated"), idx)
	assert.True(t, strings.HasSuffix(got, "Now read the spec and plan the implementation.\n"))
}

func TestPlannerPromptNoReplanWithoutReason(t *testing.T) {
	b, spec := testBuilder()

	got, err := b.Planner(spec, "old plan body", "")
	require.NoError(t, err)
	assert.NotContains(t, got, "old plan body")
}

func TestImplementerPrompt(t *testing.T) {
	b, spec := testBuilder()

	got, err := b.Implementer(spec, "# Plan: 0003-invoices\n1. add the endpoint\n", "")
	require.NoError(t, err)

	assert.Contains(t, got, "* Candidates: /srv/specd/specs/candidates\n")
	assert.Contains(t, got, "* Done:       /srv/specd/specs/done\n")
	assert.Contains(t, got, "* Runs:       /srv/specd/runs\n")
	assert.Contains(t, got, "Implementation Plan (created by analyzing the spec and codebase; follow closely,\n")
	assert.Contains(t, got, "1. add the endpoint\n")
	assert.Contains(t, got, `Commit message must include the spec id: "0003-invoices: ..."`)
	assert.Contains(t, got, "2. Print the resulting git commit hash (40 lowercase hex chars) on its own line.\n")
	assert.NotContains(t, got, "Verifier feedback")
	assert.True(t, strings.HasSuffix(got, "Now implement the spec.\n"))
}

func TestImplementerPromptWithFeedback(t *testing.T) {
	b, spec := testBuilder()

	got, err := b.Implementer(spec, "", "tests fail: TestInvoiceTotals expects rounding half-up\n\n")
	require.NoError(t, err)

	assert.Contains(t, got, "Verifier feedback from the last verification attempt (fix these issues):\n\ntests fail: TestInvoiceTotals expects rounding half-up\n")
	assert.NotContains(t, got, "Implementation Plan")
}

func TestVerifierPrompt(t *testing.T) {
	b, spec := testBuilder()
	const commit = "49cd4de0f0dfb466f1a162eff8d915588b073f92"

	got, err := b.Verifier(spec, commit, "# Plan: 0003-invoices\n")
	require.NoError(t, err)

	assert.Contains(t, got, `Verify that the spec "billing/0003-invoices.md" is truly completed at the candidate commit `+commit+".\n")
	assert.Contains(t, got, "3. Ensure the candidate commit exists in that repo (e.g., git cat-file -t "+commit+").\n")
	assert.Contains(t, got, "* Print the candidate commit hash (exactly "+commit+") on its own line.\n")
	assert.Contains(t, got, "PLAN_INVALIDATION: <one-line reason why the plan approach is wrong>\n")
	assert.Contains(t, got, "NOT when the implementer just made bugs or missed details.\n")
	assert.True(t, strings.HasSuffix(got, "NOT when the implementer just made bugs or missed details.\n"))
}

func TestVerifierPromptWithoutPlan(t *testing.T) {
	b, spec := testBuilder()
	const commit = "49cd4de0f0dfb466f1a162eff8d915588b073f92"

	got, err := b.Verifier(spec, commit, "")
	require.NoError(t, err)

	assert.NotContains(t, got, "PLAN_INVALIDATION")
	assert.True(t, strings.HasSuffix(got, "Do NOT print the magic phrase anywhere.\n"))
}
