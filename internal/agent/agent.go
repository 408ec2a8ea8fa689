// Package agent invokes the external coding agent CLI (codex by
// default) and captures its merged output for the pipeline to parse.
//
// The agent is treated as a black box: one process per phase attempt,
// prompt on stdin, stdout and stderr interleaved exactly as the
// provider emitted them. Session resume is expressed through the CLI's
// "exec resume <session-id>" form.
package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// compactPrefix asks a resumed session to fold its history down before
// taking on the new phase, keeping long-lived sessions inside the
// context window.
const compactPrefix = "Before starting, compact the conversation into a concise internal summary. " +
	"Do not output the summary. Then proceed with the task.\n\n"

// Result is the outcome of one agent process.
type Result struct {
	ExitCode int
	Output   string
}

// Runner launches one agent invocation per call. Implementations must
// be safe for sequential reuse across phases and attempts.
type Runner interface {
	Run(ctx context.Context, prompt, resumeSessionID string) (Result, error)
}

// Config carries the CLI invocation shape.
type Config struct {
	// Exe is the agent executable, resolved via PATH.
	Exe string
	// Args are the subcommand arguments, already normalized.
	Args []string
	// Workspace is the directory the agent runs in and edits.
	Workspace string
	// Stream echoes agent output to Echo while capturing it.
	Stream bool
	// Echo receives streamed output; ignored unless Stream is set.
	Echo io.Writer
}

// CLI runs the agent executable as a subprocess.
type CLI struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New returns a CLI runner. limiter throttles process launches and may
// be nil to launch unthrottled.
func New(cfg Config, limiter *rate.Limiter, logger *zap.Logger) *CLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLI{cfg: cfg, limiter: limiter, logger: logger}
}

// NewLaunchLimiter builds the process launch throttle. perMinute <= 0
// disables throttling.
func NewLaunchLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// Run launches one agent process with prompt on stdin and returns its
// merged output. A non-zero exit is a normal Result, not an error;
// errors mean the process could not run at all.
func (c *CLI) Run(ctx context.Context, prompt, resumeSessionID string) (Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	argv := commandArgs(c.cfg.Args, c.cfg.Workspace, resumeSessionID)
	c.logger.Debug("launching agent",
		zap.String("exe", c.cfg.Exe),
		zap.Strings("args", argv),
		zap.Bool("resumed", resumeSessionID != ""),
	)

	cmd := exec.CommandContext(ctx, c.cfg.Exe, argv...)
	cmd.Dir = c.cfg.Workspace
	cmd.Stdin = strings.NewReader(compactPrompt(prompt, resumeSessionID))

	var buf bytes.Buffer
	var sink io.Writer = &buf
	if c.cfg.Stream && c.cfg.Echo != nil {
		sink = io.MultiWriter(&buf, c.cfg.Echo)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode(), Output: buf.String()}, nil
		}
		return Result{}, err
	}
	return Result{ExitCode: 0, Output: buf.String()}, nil
}

// commandArgs assembles the full argument vector: workspace pinning,
// optional session resume, and the trailing "-" that moves the prompt
// to stdin.
func commandArgs(args []string, workspace, resumeSessionID string) []string {
	var argv []string
	if !HasAnyFlag(args, "--cd", "-C") {
		argv = append(argv, "--cd", workspace)
	}
	argv = append(argv, resumeArgs(args, resumeSessionID)...)
	return argv
}

func resumeArgs(args []string, resumeSessionID string) []string {
	if resumeSessionID == "" {
		return append(append([]string{}, args...), "-")
	}
	out := []string{"exec", "resume", resumeSessionID}
	if len(args) > 0 && args[0] == "exec" {
		out = append(out, args[1:]...)
	} else {
		out = append(out, args...)
	}
	return append(out, "-")
}

func compactPrompt(prompt, resumeSessionID string) string {
	if resumeSessionID == "" {
		return prompt
	}
	return compactPrefix + prompt
}

// HasAnyFlag reports whether args contains any of flags verbatim.
func HasAnyFlag(args []string, flags ...string) bool {
	for _, a := range args {
		for _, f := range flags {
			if a == f {
				return true
			}
		}
	}
	return false
}
