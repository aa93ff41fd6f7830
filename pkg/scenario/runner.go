package scenario

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/metrics"
)

// Observer is told about scenario progress. Observer errors are logged and
// never change a result.
type Observer interface {
	ScenarioStarted(runID string, round int, s *Scenario)
	ScenarioFinished(runID string, res Result) error
	RunFinished(sum *Summary) error
}

// Options controls sequencing.
type Options struct {
	// KeepGoing continues after a verification failure.
	KeepGoing bool
	// ContinueOnError also continues after infrastructure errors.
	ContinueOnError bool
	// Repeat runs the selection this many rounds; 0 means 1.
	Repeat int
	// Out receives the "Running test" announcements; nil means stdout.
	Out io.Writer
	// RunID tags the summary; empty means a fresh UUID.
	RunID string
}

// Runner executes selected scenarios against an Env.
type Runner struct {
	registry  *Registry
	env       *Env
	opts      Options
	observers []Observer
}

// NewRunner creates a runner.
func NewRunner(registry *Registry, env *Env, opts Options, observers ...Observer) *Runner {
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	for _, s := range registry.List() {
		label := strconv.Itoa(s.Index)
		for _, st := range []Status{StatusPassed, StatusFailed, StatusError} {
			metrics.ScenarioRuns.WithLabelValues(label, string(st))
		}
	}
	return &Runner{registry: registry, env: env, opts: opts, observers: observers}
}

// RunID returns the identifier the summary will carry.
func (r *Runner) RunID() string { return r.opts.RunID }

// Run executes the scenario at *selector, or every enabled scenario in index
// order when selector is nil. Only an unknown selector is an error here;
// scenario outcomes are in the summary.
func (r *Runner) Run(ctx context.Context, selector *int) (*Summary, error) {
	selected, err := r.registry.Select(selector)
	if err != nil {
		return nil, err
	}

	sum := &Summary{RunID: r.opts.RunID, Started: time.Now()}
	logger := log.With().Str("component", "scenario").Str("run", sum.RunID).Logger()

rounds:
	for round := 0; round < r.opts.Repeat; round++ {
		sum.Rounds = round + 1
		r.env.setRound(round)
		for _, s := range selected {
			res := r.runOne(ctx, round, s)
			sum.Results = append(sum.Results, res)

			ev := logger.Info()
			if res.Status == StatusFailed || res.Status == StatusError {
				ev = logger.Error().Err(res.Err)
			}
			ev.Int("round", round).Int("scenario", s.Index).Str("status", string(res.Status)).
				Dur("took", res.Duration).Msg("scenario finished")

			for _, o := range r.observers {
				if err := o.ScenarioFinished(sum.RunID, res); err != nil {
					logger.Warn().Err(err).Msg("observer failed")
				}
			}

			if r.halts(ctx, res) {
				sum.Halted = !r.isLast(round, s, selected)
				break rounds
			}
		}
	}

	sum.Finished = time.Now()
	for _, o := range r.observers {
		if err := o.RunFinished(sum); err != nil {
			logger.Warn().Err(err).Msg("observer failed")
		}
	}
	return sum, nil
}

func (r *Runner) isLast(round int, s *Scenario, selected []*Scenario) bool {
	return round == r.opts.Repeat-1 && s == selected[len(selected)-1]
}

func (r *Runner) halts(ctx context.Context, res Result) bool {
	if ctx.Err() != nil {
		return true
	}
	switch res.Status {
	case StatusFailed:
		return !r.opts.KeepGoing && !r.opts.ContinueOnError
	case StatusError:
		return !r.opts.ContinueOnError
	}
	return false
}

func (r *Runner) runOne(ctx context.Context, round int, s *Scenario) Result {
	res := Result{Round: round, Index: s.Index, Name: s.Name, Started: time.Now()}
	label := strconv.Itoa(s.Index)

	if s.Disabled {
		res.Status = StatusSkipped
		log.Warn().Str("component", "scenario").Int("scenario", s.Index).
			Str("reason", s.DisabledReason).Msg("scenario disabled, skipping")
		metrics.ScenarioRuns.WithLabelValues(label, string(res.Status)).Inc()
		return res
	}

	fmt.Fprintf(r.opts.Out, "Running test %d: %s\n", s.Index, s.Name)
	for _, o := range r.observers {
		o.ScenarioStarted(r.opts.RunID, round, s)
	}

	err := s.Body(ctx, r.env)
	res.Duration = time.Since(res.Started)
	res.Err = err

	switch {
	case err == nil:
		res.Status = StatusPassed
	case backtrace.IsVerifyFailure(err):
		res.Status = StatusFailed
		f, _ := res.Failure()
		res.Reason = f.Reason
	default:
		res.Status = StatusError
	}

	metrics.ScenarioRuns.WithLabelValues(label, string(res.Status)).Inc()
	metrics.ScenarioDuration.WithLabelValues(label).Observe(res.Duration.Seconds())
	return res
}
