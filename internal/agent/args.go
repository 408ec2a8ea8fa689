package agent

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultArgs is the stock codex invocation: non-interactive exec with
// sandbox and approval prompts disabled, tolerant of bare directories.
const DefaultArgs = "exec --dangerously-bypass-approvals-and-sandbox --skip-git-repo-check"

// SupportsFlag probes `exe [subcommand] --help` for a flag. Probe
// failures count as unsupported.
func SupportsFlag(exe, subcommand, flag string) bool {
	args := []string{}
	if subcommand != "" {
		args = append(args, subcommand)
	}
	args = append(args, "--help")
	out, err := exec.Command(exe, args...).CombinedOutput()
	if err != nil && len(out) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(string(out)), strings.ToLower(flag))
}

// NormalizeArgs rewrites a user-supplied --search toggle into whatever
// form the installed agent CLI understands: the native flag, a -c
// feature override, or nothing. Unrelated arguments pass through
// untouched. Warnings about downgrades go to warn.
func NormalizeArgs(args []string, supportsSearch, supportsConfig bool, warn io.Writer) []string {
	if warn == nil {
		warn = io.Discard
	}

	var searchEnabled *bool
	var normalized []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--search":
			var value string
			hasValue := false
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				value = args[i+1]
				hasValue = true
				i++
			}
			enabled := parseBoolFlag(value, hasValue)
			searchEnabled = &enabled
		case strings.HasPrefix(arg, "--search="):
			enabled := parseBoolFlag(strings.SplitN(arg, "=", 2)[1], true)
			searchEnabled = &enabled
		default:
			normalized = append(normalized, arg)
		}
	}

	if searchEnabled == nil {
		return normalized
	}

	if supportsSearch {
		if *searchEnabled {
			return append(normalized, "--search")
		}
		return append(normalized, "--search=false")
	}

	if supportsConfig {
		fmt.Fprintln(warn, "[warn] --search not supported by agent exec; using -c features.web_search instead.")
		return append(normalized, "-c", fmt.Sprintf("features.web_search=%t", *searchEnabled))
	}

	fmt.Fprintln(warn, "[warn] --search not supported by agent exec; ignoring.")
	return normalized
}

func parseBoolFlag(value string, hasValue bool) bool {
	if !hasValue {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
