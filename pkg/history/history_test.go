package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/scenario"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func run(id string, started time.Time, statuses ...scenario.Status) RunRecord {
	rec := RunRecord{RunID: id, Started: started, Finished: started.Add(time.Minute), Rounds: 1}
	for i, st := range statuses {
		rec.Results = append(rec.Results, ScenarioRecord{Index: i, Name: "s", Status: string(st)})
	}
	return rec
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(run("a", base, scenario.StatusPassed)))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.RunID)
	assert.True(t, got.Started.Equal(base))
	assert.True(t, got.OK())

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, s.Record(RunRecord{}))
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(run("second", base.Add(time.Hour), scenario.StatusPassed)))
	require.NoError(t, s.Record(run("first", base, scenario.StatusPassed)))
	require.NoError(t, s.Record(run("third", base.Add(2*time.Hour), scenario.StatusFailed)))

	runs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "third", runs[0].RunID)
	assert.Equal(t, "second", runs[1].RunID)
	assert.Equal(t, "first", runs[2].RunID)
	assert.False(t, runs[0].OK())

	runs, err = s.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].RunID)
}

func TestRecordReplaces(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(run("a", base, scenario.StatusError)))
	require.NoError(t, s.Record(run("a", base.Add(time.Second), scenario.StatusPassed)))

	runs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].OK())
}

func TestScenarioStats(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(run("1", base, scenario.StatusPassed, scenario.StatusFailed)))
	require.NoError(t, s.Record(run("2", base.Add(time.Hour), scenario.StatusPassed, scenario.StatusPassed)))
	require.NoError(t, s.Record(run("3", base.Add(2*time.Hour), scenario.StatusError)))

	stats, err := s.ScenarioStats()
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, 0, stats[0].Index)
	assert.Equal(t, 3, stats[0].Runs)
	assert.Equal(t, 2, stats[0].Passed)
	assert.Equal(t, 1, stats[0].Errored)
	assert.True(t, stats[0].LastFailure.Equal(base.Add(2*time.Hour)))

	assert.Equal(t, 1, stats[1].Index)
	assert.Equal(t, 2, stats[1].Runs)
	assert.Equal(t, 1, stats[1].Failed)
	assert.True(t, stats[1].LastFailure.Equal(base))
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	started := time.Now()
	sum := &scenario.Summary{
		RunID:   "obs",
		Started: started,
		Rounds:  1,
		Results: []scenario.Result{
			{Index: 0, Name: "basic verify", Status: scenario.StatusFailed, Duration: 1500 * time.Millisecond,
				Reason: backtrace.ReasonPool, Err: errors.New("pool mismatch")},
		},
	}
	r := NewRecorder(dir)
	require.NoError(t, r.ScenarioFinished("obs", sum.Results[0]))
	require.NoError(t, r.RunFinished(sum))

	// The recorder released the database.
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("obs")
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "failed", got.Results[0].Status)
	assert.Equal(t, "pool", got.Results[0].Reason)
	assert.Equal(t, "pool mismatch", got.Results[0].Error)
	assert.InDelta(t, 1500, got.Results[0].DurationMs, 0.001)
}

func TestRecorder_LocksOnlyWhileRecording(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)
	sum := &scenario.Summary{RunID: "late", Started: time.Now(), Rounds: 1}

	held, err := Open(dir)
	require.NoError(t, err)
	assert.Error(t, r.RunFinished(sum), "database held by another process")
	require.NoError(t, held.Close())

	require.NoError(t, r.RunFinished(sum))
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get("late")
	assert.NoError(t, err)
}
