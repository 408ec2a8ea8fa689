// Package retry computes wait durations between pipeline attempts:
// exponential backoff after ordinary failures and provider-directed
// waits after usage-limit hits.
package retry

import (
	"math"
	"time"
)

// Policy holds the tunable delay parameters. Values come from the
// retry section of the runner config.
type Policy struct {
	// BackoffBase is the exponent base for attempt backoff.
	BackoffBase float64
	// BackoffMax caps the exponential delay.
	BackoffMax time.Duration
	// RateLimitMargin is added on top of a provider reset hint so the
	// retry lands safely after the window actually reopens.
	RateLimitMargin time.Duration
	// RateLimitFallback is used when a usage-limit hit carries no
	// parseable reset hint.
	RateLimitFallback time.Duration
}

// Backoff returns the delay before retrying after the given attempt
// number (1-based): min(base^attempt, max).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	secs := math.Pow(p.BackoffBase, float64(attempt))
	if secs >= p.BackoffMax.Seconds() {
		return p.BackoffMax
	}
	return time.Duration(secs * float64(time.Second))
}

// RateLimitWait converts a reset hint into the actual sleep duration.
// hintOK distinguishes a parsed hint from its absence.
func (p Policy) RateLimitWait(hint time.Duration, hintOK bool) time.Duration {
	if !hintOK {
		return p.RateLimitFallback
	}
	return hint + p.RateLimitMargin
}
