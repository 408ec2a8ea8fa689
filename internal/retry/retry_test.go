package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPolicy() Policy {
	return Policy{
		BackoffBase:       2.0,
		BackoffMax:        60 * time.Second,
		RateLimitMargin:   30 * time.Second,
		RateLimitFallback: 5 * time.Second,
	}
}

func TestBackoff(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
		{0, 2 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRateLimitWait(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, 150*time.Second, p.RateLimitWait(120*time.Second, true),
		"hint plus margin")
	assert.Equal(t, 30*time.Second, p.RateLimitWait(0, true),
		"zero hint still gets the margin")
	assert.Equal(t, 5*time.Second, p.RateLimitWait(0, false),
		"no hint falls back to the fixed wait")
}
