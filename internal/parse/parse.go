// Package parse extracts structured signals from raw agent output:
// completion contracts, plan invalidation markers, session ids, token
// counts, and provider usage-limit hits.
//
// Agent output is untrusted free text. Every extractor here is
// best-effort: a miss is reported through an ok bool, never an error.
package parse

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// TailLines bounds how much trailing output is scanned for
	// usage-limit markers and retained as verifier feedback.
	TailLines = 200

	tokensUsedMarker = "tokens used"
	maxLastLineLen   = 160
)

var (
	commitRe           = regexp.MustCompile(`^[0-9a-f]{40}$`)
	sessionIDRe        = regexp.MustCompile(`(?im)^session id:\s*([0-9a-f-]{36})$`)
	planInvalidationRe = regexp.MustCompile(`(?m)^PLAN_INVALIDATION:\s*(.+)$`)
	nonDigitRe         = regexp.MustCompile(`\D`)
)

// Completion reports whether output satisfies the implementer contract:
// the last non-empty line equals phrase and the line before it is a
// 40-hex commit hash. The commit is returned when the contract holds.
func Completion(output, phrase string) (string, bool) {
	lines := nonEmptyLines(output)
	if len(lines) < 2 {
		return "", false
	}
	if lines[len(lines)-1] != phrase {
		return "", false
	}
	commit := lines[len(lines)-2]
	if !commitRe.MatchString(commit) {
		return "", false
	}
	return commit, true
}

// PlannerPhrase reports whether the last non-empty line of output equals
// phrase. The planner contract ignores exit codes and commits; the plan
// file itself is checked separately by the caller.
func PlannerPhrase(output, phrase string) bool {
	lines := nonEmptyLines(output)
	return len(lines) > 0 && lines[len(lines)-1] == phrase
}

// PlanInvalidation returns the reason from the first
// "PLAN_INVALIDATION: <reason>" line in output, if any.
func PlanInvalidation(output string) (string, bool) {
	m := planInvalidationRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// SessionID returns the agent session id echoed in output, matching
// lines like "session id: 0198c0b4-2e54-7c12-9a11-3f62e8d0b7aa".
func SessionID(output string) (string, bool) {
	m := sessionIDRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// TokensUsed extracts the token count from the agent's usage footer.
// It first looks for a line that is exactly "tokens used" and takes the
// digits of the next non-blank line; failing that, it takes the digits
// of any line containing the marker. Thousands separators are ignored.
func TokensUsed(output string) (int64, bool) {
	lines := splitLines(output)
	for i, line := range lines {
		if strings.ToLower(strings.TrimSpace(line)) != tokensUsedMarker {
			continue
		}
		next := i + 1
		for next < len(lines) && strings.TrimSpace(lines[next]) == "" {
			next++
		}
		if next >= len(lines) {
			return 0, false
		}
		if n, ok := digitsValue(lines[next]); ok {
			return n, true
		}
	}
	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), tokensUsedMarker) {
			continue
		}
		if n, ok := digitsValue(line); ok {
			return n, true
		}
	}
	return 0, false
}

func digitsValue(line string) (int64, bool) {
	digits := nonDigitRe.ReplaceAllString(line, "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// OutputTail returns text unchanged when it has at most maxLines lines,
// otherwise the last maxLines lines joined with newline.
func OutputTail(text string, maxLines int) string {
	lines := splitLines(text)
	if len(lines) <= maxLines {
		return text
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

// Summary condenses raw agent output for event logs.
type Summary struct {
	Lines         int    `json:"output_lines"`
	Chars         int    `json:"output_chars"`
	NonEmptyLines int    `json:"output_nonempty_lines"`
	LastNonEmpty  string `json:"output_last_nonempty"`
}

// Summarize computes log-friendly stats about output. The last
// non-empty line is truncated to keep event records bounded.
func Summarize(output string) Summary {
	lines := splitLines(output)
	nonEmpty := nonEmptyLines(output)
	last := ""
	if len(nonEmpty) > 0 {
		last = nonEmpty[len(nonEmpty)-1]
		if len(last) > maxLastLineLen {
			last = last[:maxLastLineLen] + "..."
		}
	}
	return Summary{
		Lines:         len(lines),
		Chars:         len(output),
		NonEmptyLines: len(nonEmpty),
		LastNonEmpty:  last,
	}
}

// splitLines splits on newlines without manufacturing a final empty
// line from a trailing terminator, so line counts match what a human
// would count in the captured output.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range splitLines(text) {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
