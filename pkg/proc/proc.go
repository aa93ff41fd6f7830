// Package proc runs external tools with a deadline and captured output.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/metrics"
)

// Output is the captured result of a finished command.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("proc: %s exited with status %d", e.Command, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// TimeoutError reports a command killed because it outlived its deadline.
// Timeout is the time the command was given: the runner's own Timeout or
// what was left of the caller's deadline, whichever expired.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("proc: %s timed out after %s", e.Command, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ExecRunner runs commands with os/exec. Every invocation is bounded by
// Timeout even when the caller's context has no deadline.
type ExecRunner struct {
	Timeout time.Duration
	Env     []string
}

// NewExecRunner creates a runner with the given per-command timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes name with args and returns its output. A non-zero exit status
// yields *ExitError, an expired deadline *TimeoutError. When ctx is
// cancelled the returned error wraps context.Canceled.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	start := time.Now()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	tool := filepath.Base(name)
	command := name + " " + strings.Join(args, " ")

	cmd := exec.CommandContext(ctx, name, args...)
	// Grandchildren holding the output pipes must not outlive the kill.
	cmd.WaitDelay = 5 * time.Second
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("component", "proc").Str("command", command).Msg("running command")

	err := cmd.Run()
	metrics.CommandDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())

	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	switch cerr := ctx.Err(); {
	case errors.Is(cerr, context.DeadlineExceeded):
		metrics.CommandErrors.WithLabelValues(tool, "timeout").Inc()
		// ctx carries the earlier of the runner's and the caller's deadlines.
		allowed := r.Timeout
		if dl, ok := ctx.Deadline(); ok {
			allowed = dl.Sub(start).Round(time.Millisecond)
		}
		return out, &TimeoutError{Command: command, Timeout: allowed}
	case cerr != nil:
		metrics.CommandErrors.WithLabelValues(tool, "cancelled").Inc()
		return out, fmt.Errorf("proc: run %s: %w", command, cerr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		metrics.CommandErrors.WithLabelValues(tool, "exit").Inc()
		return out, &ExitError{
			Command: command,
			Code:    exitErr.ExitCode(),
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	}
	metrics.CommandErrors.WithLabelValues(tool, "start").Inc()
	return out, fmt.Errorf("proc: run %s: %w", command, err)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) (Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (Output, error) {
	return f(ctx, name, args...)
}
