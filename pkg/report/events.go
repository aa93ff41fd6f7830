package report

import (
	"time"

	"github.com/fsprobe/btcheck/pkg/scenario"
)

// Event kinds. An empty kind is read as KindScenario so collectors accept
// batches from older runs.
const (
	KindScenario = "scenario"
	KindRun      = "run"
)

// Event records a single scenario outcome, or the end of a run when Kind is
// KindRun.
type Event struct {
	Kind       string    `json:"kind,omitempty"`
	Timestamp  time.Time `json:"ts"`
	RunID      string    `json:"run"`
	Round      int       `json:"round"`
	Scenario   int       `json:"scenario"`
	Name       string    `json:"name"`
	Status     string    `json:"status"` // "passed", "failed", "error", "skipped"
	Reason     string    `json:"reason,omitempty"`
	DurationMs float64   `json:"duration_ms"`
	Host       string    `json:"host"`
	Error      string    `json:"error,omitempty"`

	// Run end only.
	Started time.Time `json:"started,omitzero"`
	Rounds  int       `json:"rounds,omitempty"`
	Halted  bool      `json:"halted,omitempty"`
	Results int       `json:"results,omitempty"`
}

// IsRun reports whether e marks the end of a run.
func (e Event) IsRun() bool {
	return e.Kind == KindRun
}

// NewEvent builds the event for a finished scenario.
func NewEvent(runID, host string, res scenario.Result) Event {
	ev := Event{
		Kind:       KindScenario,
		Timestamp:  res.Started.Add(res.Duration),
		RunID:      runID,
		Round:      res.Round,
		Scenario:   res.Index,
		Name:       res.Name,
		Status:     string(res.Status),
		Reason:     string(res.Reason),
		DurationMs: float64(res.Duration) / float64(time.Millisecond),
		Host:       host,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// NewRunEvent builds the event closing a run. Status is "passed" when no
// scenario failed or errored, "failed" otherwise.
func NewRunEvent(host string, sum *scenario.Summary) Event {
	status := string(scenario.StatusPassed)
	if !sum.OK() {
		status = string(scenario.StatusFailed)
	}
	return Event{
		Kind:       KindRun,
		Timestamp:  sum.Finished,
		RunID:      sum.RunID,
		Scenario:   -1,
		Status:     status,
		DurationMs: float64(sum.Finished.Sub(sum.Started)) / float64(time.Millisecond),
		Host:       host,
		Started:    sum.Started,
		Rounds:     sum.Rounds,
		Halted:     sum.Halted,
		Results:    len(sum.Results),
	}
}
