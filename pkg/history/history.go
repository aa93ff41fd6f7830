// Package history keeps a local record of harness runs in badger so flaky
// scenarios can be spotted across invocations.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/scenario"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// ScenarioRecord is the stored form of one scenario result.
type ScenarioRecord struct {
	Round      int     `json:"r"`
	Index      int     `json:"i"`
	Name       string  `json:"n"`
	Status     string  `json:"s"`
	DurationMs float64 `json:"d"`
	Reason     string  `json:"re,omitempty"`
	Error      string  `json:"e,omitempty"`
}

// RunRecord is the stored form of a run.
type RunRecord struct {
	RunID    string           `json:"id"`
	Started  time.Time        `json:"st"`
	Finished time.Time        `json:"fi"`
	Rounds   int              `json:"ro"`
	Halted   bool             `json:"h"`
	Results  []ScenarioRecord `json:"res"`
}

// OK reports whether every scenario passed or was skipped.
func (r *RunRecord) OK() bool {
	for _, s := range r.Results {
		if s.Status == string(scenario.StatusFailed) || s.Status == string(scenario.StatusError) {
			return false
		}
	}
	return true
}

// FromSummary converts a run summary.
func FromSummary(sum *scenario.Summary) RunRecord {
	rec := RunRecord{
		RunID:    sum.RunID,
		Started:  sum.Started,
		Finished: sum.Finished,
		Rounds:   sum.Rounds,
		Halted:   sum.Halted,
		Results:  make([]ScenarioRecord, 0, len(sum.Results)),
	}
	for _, r := range sum.Results {
		sr := ScenarioRecord{
			Round:      r.Round,
			Index:      r.Index,
			Name:       r.Name,
			Status:     string(r.Status),
			DurationMs: float64(r.Duration) / float64(time.Millisecond),
			Reason:     string(r.Reason),
		}
		if r.Err != nil {
			sr.Error = r.Err.Error()
		}
		rec.Results = append(rec.Results, sr)
	}
	return rec
}

// Stats aggregates the outcomes of one scenario over the stored runs.
type Stats struct {
	Index       int       `json:"index"`
	Name        string    `json:"name"`
	Runs        int       `json:"runs"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Errored     int       `json:"errored"`
	Skipped     int       `json:"skipped"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Store is a badger-backed run history.
type Store struct {
	db *badger.DB
}

// Open opens or creates the history database in dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("history.Open: %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	runPrefix = "run:"
	idPrefix  = "id:"
)

// runKey orders runs by start time.
func runKey(started time.Time, runID string) string {
	return fmt.Sprintf("%s%020d:%s", runPrefix, started.UnixNano(), runID)
}

func idKey(runID string) string {
	return idPrefix + runID
}

// Record stores rec, replacing any earlier record with the same run ID.
func (s *Store) Record(rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("history.Record: empty run id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history.Record: marshal: %w", err)
	}
	key := runKey(rec.Started, rec.RunID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get([]byte(idKey(rec.RunID))); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(old) != key {
				if err := txn.Delete(old); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(key), data); err != nil {
			return err
		}
		return txn.Set([]byte(idKey(rec.RunID)), []byte(key))
	})
	if err != nil {
		return fmt.Errorf("history.Record: %s: %w", rec.RunID, err)
	}
	return nil
}

// Get returns the run with the given ID.
func (s *Store) Get(runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		ref, err := txn.Get([]byte(idKey(runID)))
		if err != nil {
			return err
		}
		key, err := ref.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("history.Get: %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history.Get: %s: %w", runID, err)
	}
	return &rec, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key not greater than the seek key.
		for it.Seek([]byte(runPrefix + "\xff")); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec RunRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				log.Warn().Str("component", "history").Str("key", string(it.Item().Key())).
					Err(err).Msg("skipping corrupt run record")
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history.List: %w", err)
	}
	return out, nil
}

// ScenarioStats aggregates outcomes per scenario index over every stored
// run, in index order.
func (s *Store) ScenarioStats() ([]Stats, error) {
	runs, err := s.List(0)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[int]*Stats)
	for _, run := range runs {
		for _, r := range run.Results {
			st, ok := byIndex[r.Index]
			if !ok {
				st = &Stats{Index: r.Index, Name: r.Name}
				byIndex[r.Index] = st
			}
			st.Runs++
			switch scenario.Status(r.Status) {
			case scenario.StatusPassed:
				st.Passed++
			case scenario.StatusFailed:
				st.Failed++
			case scenario.StatusError:
				st.Errored++
			case scenario.StatusSkipped:
				st.Skipped++
			}
			if (r.Status == string(scenario.StatusFailed) || r.Status == string(scenario.StatusError)) &&
				run.Started.After(st.LastFailure) {
				st.LastFailure = run.Started
			}
		}
	}
	out := make([]Stats, 0, len(byIndex))
	for _, st := range byIndex {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Recorder stores each finished run. It plugs into the scenario runner.
// The database is opened only while the run is written, so a run does not
// hold the directory lock for its whole duration.
type Recorder struct {
	dir string
}

// NewRecorder returns an observer recording into the history in dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir}
}

func (r *Recorder) ScenarioStarted(runID string, round int, s *scenario.Scenario) {}

func (r *Recorder) ScenarioFinished(runID string, res scenario.Result) error { return nil }

// RunFinished records the summary.
func (r *Recorder) RunFinished(sum *scenario.Summary) error {
	store, err := Open(r.dir)
	if err != nil {
		return err
	}
	if err := store.Record(FromSummary(sum)); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}
