package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerPrompt(planPath string) string {
	return fmt.Sprintf("You are a planning agent.\n\n* Plan output file: %s\n\nPlan it.\n", planPath)
}

const implementerPrompt = "You are a coding agent.\n\nCommit rules:\n\n* Commit when complete.\n\nImplement it.\n"

func verifierPrompt(commit string) string {
	return fmt.Sprintf("Verify that the spec is completed at the candidate commit %s.\n", commit)
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	return lines[len(lines)-1]
}

func TestRunPlannerWritesPlanAndPhrase(t *testing.T) {
	planPath := filepath.Join(t.TempDir(), "plans", "0001-demo.md")
	var out bytes.Buffer

	code := run(plannerPrompt(planPath), &out)

	assert.Equal(t, 0, code)
	assert.Equal(t, defaultPhrase, lastLine(out.String()))
	body, err := os.ReadFile(planPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# Plan")
}

func TestRunPlannerNoplanMode(t *testing.T) {
	t.Setenv("TESTAGENT_MODE", "noplan")
	planPath := filepath.Join(t.TempDir(), "plans", "0001-demo.md")
	var out bytes.Buffer

	run(plannerPrompt(planPath), &out)

	assert.Equal(t, defaultPhrase, lastLine(out.String()))
	assert.NoFileExists(t, planPath)
}

func TestRunImplementerPrintsStableCommit(t *testing.T) {
	var first, second bytes.Buffer
	require.Equal(t, 0, run(implementerPrompt, &first))
	require.Equal(t, 0, run(implementerPrompt, &second))

	assert.Equal(t, first.String(), second.String())
	lines := strings.Split(strings.TrimRight(first.String(), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Regexp(t, `^[0-9a-f]{40}$`, lines[len(lines)-2])
	assert.Equal(t, defaultPhrase, lines[len(lines)-1])
}

func TestRunVerifierEchoesCandidateCommit(t *testing.T) {
	commit := "49cd4de0f0dfb466f1a162eff8d915588b073f92"
	var out bytes.Buffer

	run(verifierPrompt(commit), &out)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, commit, lines[len(lines)-2])
	assert.Equal(t, defaultPhrase, lines[len(lines)-1])
}

func TestRunImplementerMarkerBeatsQuotedCommit(t *testing.T) {
	// Feedback quoting a candidate commit must not turn an implementer
	// prompt into a verifier reply.
	commit := "49cd4de0f0dfb466f1a162eff8d915588b073f92"
	prompt := implementerPrompt + "\nVerifier said the candidate commit " + commit + " was wrong.\n"
	var out bytes.Buffer

	run(prompt, &out)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.NotEqual(t, commit, lines[len(lines)-2])
	assert.Regexp(t, `^[0-9a-f]{40}$`, lines[len(lines)-2])
}

func TestRunRateLimitMode(t *testing.T) {
	t.Setenv("TESTAGENT_MODE", "ratelimit")
	var out bytes.Buffer

	code := run(implementerPrompt, &out)

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "usage_limit_reached")
	assert.Contains(t, out.String(), "resets_in_seconds")
}

func TestRunSilentModeOmitsContract(t *testing.T) {
	t.Setenv("TESTAGENT_MODE", "silent")
	var out bytes.Buffer

	run(implementerPrompt, &out)

	assert.NotContains(t, out.String(), defaultPhrase)
}

func TestRunSessionTokensAndExit(t *testing.T) {
	t.Setenv("TESTAGENT_SESSION", "1b4e28ba-2fa1-41d2-883f-0016d3cca427")
	t.Setenv("TESTAGENT_TOKENS", "1234")
	t.Setenv("TESTAGENT_EXIT", "3")
	var out bytes.Buffer

	code := run(implementerPrompt, &out)

	assert.Equal(t, 3, code)
	assert.Contains(t, out.String(), "session ID: 1b4e28ba-2fa1-41d2-883f-0016d3cca427")
	assert.Contains(t, out.String(), "tokens used\n1234\n")
	// The contract lines must still close the transcript.
	assert.Equal(t, defaultPhrase, lastLine(out.String()))
}

func TestRunCustomPhrase(t *testing.T) {
	t.Setenv("TESTAGENT_PHRASE", "ALL CLEAR")
	var out bytes.Buffer

	run(implementerPrompt, &out)

	assert.Equal(t, "ALL CLEAR", lastLine(out.String()))
}
