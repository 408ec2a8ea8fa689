// Package main implements testagent, a codex-compatible stand-in for
// exercising specd end to end without a real agent.
//
// testagent reads the phase prompt from stdin, infers the phase from
// the prompt structure, and replies with a well-formed completion
// contract: planner prompts get a stub plan file plus the magic phrase,
// implementer prompts get a deterministic fake commit, verifier prompts
// echo the candidate commit found in the prompt. Environment variables
// steer failure modes:
//
//	TESTAGENT_PHRASE   completion phrase to print (default: specd's default)
//	TESTAGENT_MODE     pass | ratelimit | silent | noplan (default: pass)
//	TESTAGENT_EXIT     exit code to finish with (default: 0)
//	TESTAGENT_SESSION  when set, a "session ID: <value>" line is printed
//	TESTAGENT_TOKENS   when set, a "tokens used" block is printed
//
// Typical use:
//
//	specd run --agent-exe testagent --workspace /tmp/demo
package main

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const defaultPhrase = "I AM HYPER SURE I AM DONE!"

var (
	planPathRe = regexp.MustCompile(`(?m)^\* Plan output file: (.+)$`)
	commitRe   = regexp.MustCompile(`\bcandidate commit ([0-9a-f]{40})\b`)
)

func main() {
	prompt, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testagent: read prompt: %v\n", err)
		os.Exit(2)
	}
	os.Exit(run(string(prompt), os.Stdout))
}

func run(prompt string, out io.Writer) int {
	mode := envOr("TESTAGENT_MODE", "pass")
	phrase := envOr("TESTAGENT_PHRASE", defaultPhrase)
	exitCode := envInt("TESTAGENT_EXIT", 0)

	if mode == "ratelimit" {
		fmt.Fprintln(out, "usage_limit_reached")
		fmt.Fprintln(out, `{"resets_in_seconds": 60}`)
		return 1
	}

	if s := os.Getenv("TESTAGENT_SESSION"); s != "" {
		fmt.Fprintf(out, "session ID: %s\n", s)
	}
	// Tokens go before the contract lines; the phrase must stay the
	// final non-empty line of the transcript.
	if tok := os.Getenv("TESTAGENT_TOKENS"); tok != "" {
		fmt.Fprintf(out, "tokens used\n%s\n", tok)
	}

	// Order matters: an implementer prompt can quote verifier feedback,
	// so its own marker is checked before the candidate-commit scan.
	switch {
	case isPlanner(prompt):
		runPlanner(prompt, mode, phrase, out)
	case isImplementer(prompt):
		runImplementer(prompt, mode, phrase, out)
	case isVerifier(prompt):
		runVerifier(prompt, mode, phrase, out)
	default:
		runImplementer(prompt, mode, phrase, out)
	}
	return exitCode
}

func isPlanner(prompt string) bool {
	return planPathRe.MatchString(prompt)
}

func isImplementer(prompt string) bool {
	return strings.Contains(prompt, "Commit rules:")
}

func isVerifier(prompt string) bool {
	return commitRe.MatchString(prompt)
}

func runPlanner(prompt, mode, phrase string, out io.Writer) {
	path := planPath(prompt)
	fmt.Fprintf(out, "Read the spec; writing plan to %s\n", path)
	if mode == "noplan" {
		fmt.Fprintln(out, "Skipping the plan file on purpose.")
		fmt.Fprintln(out, phrase)
		return
	}
	if err := writePlan(path); err != nil {
		fmt.Fprintf(out, "plan write failed: %v\n", err)
		return
	}
	if mode != "silent" {
		fmt.Fprintln(out, phrase)
	}
}

func runImplementer(prompt, mode, phrase string, out io.Writer) {
	fmt.Fprintln(out, "DONE REPORT: simulated implementation, no files changed.")
	if mode == "silent" {
		return
	}
	fmt.Fprintln(out, fakeCommit(prompt))
	fmt.Fprintln(out, phrase)
}

func runVerifier(prompt, mode, phrase string, out io.Writer) {
	commit := commitRe.FindStringSubmatch(prompt)[1]
	fmt.Fprintf(out, "VERIFICATION REPORT: simulated check of %s passed.\n", commit)
	if mode == "silent" {
		return
	}
	fmt.Fprintln(out, commit)
	fmt.Fprintln(out, phrase)
}

func planPath(prompt string) string {
	m := planPathRe.FindStringSubmatch(prompt)
	return strings.TrimSpace(m[1])
}

func writePlan(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	body := "# Plan\n\n## Steps\n1. Simulated step.\n\n## Verification strategy\n- none (simulated)\n"
	return os.WriteFile(path, []byte(body), 0o644)
}

// fakeCommit derives a stable 40-hex token from the prompt so repeated
// implementation attempts of the same spec produce the same candidate.
func fakeCommit(prompt string) string {
	sum := sha1.Sum([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
