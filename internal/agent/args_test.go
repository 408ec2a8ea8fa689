package agent

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		supportsSearch bool
		supportsConfig bool
		want           []string
		wantWarn       string
	}{
		{
			name: "no search flag passes through",
			args: []string{"exec", "--skip-git-repo-check"},
			want: []string{"exec", "--skip-git-repo-check"},
		},
		{
			name:           "bare search kept when supported",
			args:           []string{"exec", "--search"},
			supportsSearch: true,
			want:           []string{"exec", "--search"},
		},
		{
			name:           "search off normalized to explicit false",
			args:           []string{"exec", "--search", "off"},
			supportsSearch: true,
			want:           []string{"exec", "--search=false"},
		},
		{
			name:           "equals form",
			args:           []string{"exec", "--search=yes"},
			supportsSearch: true,
			want:           []string{"exec", "--search"},
		},
		{
			name:           "downgraded to config override",
			args:           []string{"exec", "--search"},
			supportsConfig: true,
			want:           []string{"exec", "-c", "features.web_search=true"},
			wantWarn:       "using -c features.web_search instead",
		},
		{
			name:     "dropped when nothing supports it",
			args:     []string{"exec", "--search=true"},
			want:     []string{"exec"},
			wantWarn: "ignoring",
		},
		{
			name:           "value not consumed from following flag",
			args:           []string{"exec", "--search", "--skip-git-repo-check"},
			supportsSearch: true,
			want:           []string{"exec", "--skip-git-repo-check", "--search"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var warn bytes.Buffer
			got := NormalizeArgs(tt.args, tt.supportsSearch, tt.supportsConfig, &warn)
			assert.Equal(t, tt.want, got)
			if tt.wantWarn == "" {
				assert.Empty(t, warn.String())
			} else {
				assert.Contains(t, warn.String(), tt.wantWarn)
			}
		})
	}
}

func TestSupportsFlag(t *testing.T) {
	// sh --help goes to stderr on most shells and mentions -c; either
	// way a missing binary must come back unsupported.
	assert.False(t, SupportsFlag("definitely-not-a-real-binary-xyz", "", "--search"))
}

func TestParseBoolFlag(t *testing.T) {
	assert.True(t, parseBoolFlag("", false), "bare flag means on")
	for _, v := range []string{"1", "true", "YES", "y", "On"} {
		assert.True(t, parseBoolFlag(v, true), v)
	}
	for _, v := range []string{"0", "false", "no", "off", "banana"} {
		assert.False(t, parseBoolFlag(v, true), v)
	}
}

func TestDefaultArgsShape(t *testing.T) {
	fields := strings.Fields(DefaultArgs)
	assert.Equal(t, "exec", fields[0])
	assert.Contains(t, fields, "--skip-git-repo-check")
}
