package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/scenario"
)

// Reporter emits scenario and run-end events and writes the summary file.
// It plugs into the scenario runner.
type Reporter struct {
	emitter     Emitter
	summaryPath string
	host        string
}

// NewReporter creates a reporter. An empty summaryPath skips the summary file.
func NewReporter(emitter Emitter, summaryPath string) *Reporter {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Reporter{emitter: emitter, summaryPath: summaryPath, host: host}
}

func (r *Reporter) ScenarioStarted(runID string, round int, s *scenario.Scenario) {
	log.Debug().Str("component", "report").Str("run", runID).Int("round", round).
		Int("scenario", s.Index).Msg("scenario started")
}

// ScenarioFinished emits the scenario's event.
func (r *Reporter) ScenarioFinished(runID string, res scenario.Result) error {
	return r.emitter.Emit([]Event{NewEvent(runID, r.host, res)})
}

// RunFinished emits the run's closing event, which a collector takes as the
// signal to record the run, then writes the summary file.
func (r *Reporter) RunFinished(sum *scenario.Summary) error {
	var errs []error
	if err := r.emitter.Emit([]Event{NewRunEvent(r.host, sum)}); err != nil {
		errs = append(errs, err)
	}
	if r.summaryPath != "" {
		if err := WriteSummary(r.summaryPath, sum); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the emitter.
func (r *Reporter) Close() error {
	return r.emitter.Close()
}

// WriteSummary writes sum as indented JSON. Readers never see a partial file.
func WriteSummary(path string, sum *scenario.Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("report.WriteSummary: marshal: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("report.WriteSummary: %w", err)
	}
	return nil
}
