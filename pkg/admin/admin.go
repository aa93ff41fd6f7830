// Package admin drives the metadata server through the ceph command-line
// tool: runtime configuration, fault injection, status polling and restart.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/metrics"
	"github.com/fsprobe/btcheck/pkg/proc"
)

// FaultPoint names a code location where the MDS can be told to abort.
// Any location the daemon understands is accepted; these are the ones the
// built-in scenarios use.
type FaultPoint string

const (
	FaultOpenc  FaultPoint = "openc"
	FaultReplay FaultPoint = "replay"
)

// Tell styles.
const (
	TellLegacy = "legacy" // ceph mds tell <name> ...
	TellModern = "modern" // ceph tell mds.<name> ...
)

// CommandError reports an administrative command that failed.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("admin: %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// TimeoutError reports an MDS that did not become active in time.
type TimeoutError struct {
	Name       string
	Waited     time.Duration
	LastStatus string
	LastErr    error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("admin: mds %s not up:active after %s", e.Name, e.Waited)
	if e.LastStatus != "" {
		msg += fmt.Sprintf(" (last status %q)", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.LastErr)
	}
	return msg
}

// Options configures a Controller.
type Options struct {
	Tool          string // path of the ceph binary
	ConfFile      string
	Name          string // MDS daemon name, e.g. "a"
	TellStyle     string
	PollInterval  time.Duration
	ActiveTimeout time.Duration
	Restarter     Restarter
}

// Controller sends administrative commands to one MDS.
type Controller struct {
	runner proc.Runner
	opts   Options
}

// NewController creates a controller. Zero durations fall back to a 1s poll
// interval and a 5m activation deadline.
func NewController(runner proc.Runner, opts Options) *Controller {
	if opts.Tool == "" {
		opts.Tool = "ceph"
	}
	if opts.TellStyle == "" {
		opts.TellStyle = TellLegacy
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ActiveTimeout <= 0 {
		opts.ActiveTimeout = 5 * time.Minute
	}
	if opts.Restarter == nil {
		opts.Restarter = NoRestart{}
	}
	return &Controller{runner: runner, opts: opts}
}

// Name returns the MDS name this controller addresses.
func (c *Controller) Name() string { return c.opts.Name }

func (c *Controller) baseArgs() []string {
	if c.opts.ConfFile == "" {
		return nil
	}
	return []string{"-c", c.opts.ConfFile}
}

func (c *Controller) tellArgs(args ...string) []string {
	out := c.baseArgs()
	if c.opts.TellStyle == TellModern {
		out = append(out, "tell", "mds."+c.opts.Name)
	} else {
		out = append(out, "mds", "tell", c.opts.Name)
	}
	return append(out, args...)
}

func (c *Controller) run(ctx context.Context, label string, args []string) (proc.Output, error) {
	out, err := c.runner.Run(ctx, c.opts.Tool, args...)
	if err != nil {
		metrics.AdminCommands.WithLabelValues(label, "error").Inc()
		return out, &CommandError{Command: c.opts.Tool + " " + strings.Join(args, " "), Err: err}
	}
	metrics.AdminCommands.WithLabelValues(label, "ok").Inc()
	return out, nil
}

// SetConfigParameter injects a runtime configuration argument, e.g.
// "--mds_log_max_segments 2", into the MDS.
func (c *Controller) SetConfigParameter(ctx context.Context, param string) error {
	log.Info().Str("component", "admin").Str("mds", c.opts.Name).Str("param", param).Msg("injectargs")
	_, err := c.run(ctx, "injectargs", c.tellArgs("injectargs", param))
	return err
}

// InjectFault arms the MDS to abort the count-th time it reaches location.
func (c *Controller) InjectFault(ctx context.Context, location FaultPoint, count int) error {
	return c.SetConfigParameter(ctx, FaultParam(location, count))
}

// FaultParam returns the injectargs parameter arming location.
func FaultParam(location FaultPoint, count int) string {
	return fmt.Sprintf("--mds_kill_%s_at %d", location, count)
}

// Status returns the output of "ceph mds stat".
func (c *Controller) Status(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "stat", append(c.baseArgs(), "mds", "stat"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

// WaitUntilActive polls the MDS map until this MDS reports up:active.
// It gives up with *TimeoutError after the activation deadline and returns
// the context error if ctx ends first. Failed polls are retried.
func (c *Controller) WaitUntilActive(ctx context.Context) error {
	start := time.Now()
	deadline := start.Add(c.opts.ActiveTimeout)
	defer func() { metrics.MDSWait.Observe(time.Since(start).Seconds()) }()

	timer := time.NewTimer(0)
	defer timer.Stop()

	var lastStatus string
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("admin: wait for mds %s: %w", c.opts.Name, ctx.Err())
		case <-timer.C:
		}

		status, err := c.Status(ctx)
		if err == nil && IsActive(status, c.opts.Name) {
			log.Info().Str("component", "admin").Str("mds", c.opts.Name).
				Dur("waited", time.Since(start)).Msg("mds active")
			return nil
		}
		if err != nil {
			lastErr = err
			log.Debug().Str("component", "admin").Err(err).Msg("mds stat failed, retrying")
		} else {
			lastStatus, lastErr = status, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			return &TimeoutError{Name: c.opts.Name, Waited: now.Sub(start), LastStatus: lastStatus, LastErr: lastErr}
		}
		next := c.opts.PollInterval
		if remain := deadline.Sub(now); remain < next {
			next = remain
		}
		timer.Reset(next)
	}
}

// IsActive reports whether an "mds stat" line shows name as up:active.
func IsActive(status, name string) bool {
	token := name + "=up:active"
	for i := 0; ; {
		j := strings.Index(status[i:], token)
		if j < 0 {
			return false
		}
		at := i + j
		if at == 0 || strings.ContainsRune("{ ,=:", rune(status[at-1])) {
			return true
		}
		i = at + 1
	}
}

// Restart brings the MDS back through the configured restarter and waits
// for it to become active.
func (c *Controller) Restart(ctx context.Context) error {
	method := c.opts.Restarter.Method()
	log.Info().Str("component", "admin").Str("mds", c.opts.Name).Str("method", method).Msg("restarting mds")
	if err := c.opts.Restarter.Restart(ctx); err != nil {
		return fmt.Errorf("admin: restart mds %s via %s: %w", c.opts.Name, method, err)
	}
	metrics.MDSRestarts.WithLabelValues(method).Inc()
	return c.WaitUntilActive(ctx)
}
