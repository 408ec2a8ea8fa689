package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Built-in usage-limit vocabulary, matched case-insensitively as
// substrings of the output tail. Covers codex CLI wording plus the
// raw provider error identifiers that leak through it.
var defaultLimitPatterns = []string{
	"usage_limit_reached",
	"You've hit your usage limit",
	"You have hit your usage limit",
	"Too Many Requests",
	"rate_limit_exceeded",
	"RateLimitError",
}

var (
	resetSecondsRe = regexp.MustCompile(`resets_in_seconds\\?"\s*:\s*(\d+)`)
	resetAtRe      = regexp.MustCompile(`resets_at\\?"\s*:\s*(\d+)`)
)

// Detector spots provider usage-limit failures in agent output.
// Extra vocabulary (for example from a patterns file) extends the
// built-in set; it never replaces it.
type Detector struct {
	patterns []string
}

// NewDetector returns a Detector with the built-in vocabulary plus
// any extra patterns.
func NewDetector(extra ...string) *Detector {
	patterns := make([]string, 0, len(defaultLimitPatterns)+len(extra))
	patterns = append(patterns, defaultLimitPatterns...)
	patterns = append(patterns, extra...)
	return &Detector{patterns: patterns}
}

// Detect reports whether the trailing TailLines lines of output contain
// any known usage-limit pattern.
func (d *Detector) Detect(output string) bool {
	lower := strings.ToLower(OutputTail(output, TailLines))
	for _, p := range d.patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// ResetHint extracts the provider-suggested wait before retrying.
// It recognizes "resets_in_seconds" directly and "resets_at" as a unix
// epoch relative to now, clamped to at least one second. Both forms are
// matched with or without JSON escaping of the surrounding quotes.
func ResetHint(output string, now time.Time) (time.Duration, bool) {
	if m := resetSecondsRe.FindStringSubmatch(output); m != nil {
		secs, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	m := resetAtRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	resetAt, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	wait := time.Duration(resetAt-now.Unix()) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return wait, true
}
