package scenario

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fsprobe/btcheck/pkg/backtrace"
)

// Status is the outcome of one scenario run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"  // backtrace verification failed
	StatusError   Status = "error"   // infrastructure failure
	StatusSkipped Status = "skipped" // disabled
)

// Result records one scenario execution.
type Result struct {
	Round    int
	Index    int
	Name     string
	Status   Status
	Started  time.Time
	Duration time.Duration
	Err      error
	Reason   backtrace.Reason // set when Status is failed
}

// Failure returns the verification failure behind a failed result.
func (r Result) Failure() (*backtrace.VerifyFailure, bool) {
	var f *backtrace.VerifyFailure
	if errors.As(r.Err, &f) {
		return f, true
	}
	return nil, false
}

type resultJSON struct {
	Round      int              `json:"round"`
	Index      int              `json:"index"`
	Name       string           `json:"name"`
	Status     Status           `json:"status"`
	Started    time.Time        `json:"started"`
	DurationMs float64          `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
	Reason     backtrace.Reason `json:"reason,omitempty"`
}

// MarshalJSON renders the error as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Round:      r.Round,
		Index:      r.Index,
		Name:       r.Name,
		Status:     r.Status,
		Started:    r.Started,
		DurationMs: float64(r.Duration) / float64(time.Millisecond),
		Reason:     r.Reason,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Summary aggregates a run.
type Summary struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Rounds   int       `json:"rounds"`
	Halted   bool      `json:"halted"` // stopped before running the whole selection
	Results  []Result  `json:"results"`
}

// Failures returns every failed or errored result.
func (s *Summary) Failures() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status == StatusFailed || r.Status == StatusError {
			out = append(out, r)
		}
	}
	return out
}

// OK reports whether no scenario failed or errored.
func (s *Summary) OK() bool { return len(s.Failures()) == 0 }

// Counts tallies results by status.
func (s *Summary) Counts() map[Status]int {
	out := make(map[Status]int, 4)
	for _, r := range s.Results {
		out[r.Status]++
	}
	return out
}
