// Package control is the results collector: it receives scenario events
// posted by harness runs and serves them next to the run history.
package control

// Live events are kept in memory only. When a history database is attached
// the collector is its only writer: a run's closing event turns the events
// received for it into a history record.

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/history"
	"github.com/fsprobe/btcheck/pkg/report"
)

// Config configures the collector.
type Config struct {
	Addr string `yaml:"addr"`
	// MaxRuns bounds how many runs the live view keeps. Oldest are dropped.
	MaxRuns int `yaml:"max_runs"`
}

// History is the run history the collector writes finished runs to and
// serves from.
type History interface {
	Record(rec history.RunRecord) error
	List(limit int) ([]history.RunRecord, error)
	Get(runID string) (*history.RunRecord, error)
	ScenarioStats() ([]history.Stats, error)
}

// LiveRun summarizes the events received for one run.
type LiveRun struct {
	RunID    string         `json:"run_id"`
	Hosts    []string       `json:"hosts"`
	First    time.Time      `json:"first"`
	Last     time.Time      `json:"last"`
	Counts   map[string]int `json:"counts"`
	Failures int            `json:"failures"`
	Finished bool           `json:"finished"`
}

// Server is the btcheck results collector.
type Server struct {
	cfg     Config
	store   *Store
	history History
	httpSrv *http.Server
}

// NewServer creates a collector. hist may be nil, in which case only the
// live view is served.
func NewServer(cfg Config, hist History) *Server {
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 256
	}
	return &Server{
		cfg:     cfg,
		store:   NewStore(cfg.MaxRuns),
		history: hist,
	}
}

// Run starts the HTTP server. It blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	s.RegisterAPIRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "control").Str("addr", addr).Msg("collector listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Str("component", "control").Msg("collector shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// IngestEvents stores a batch of events and returns how many were accepted.
// Events without a run ID are dropped. A run's closing event is recorded
// into history.
func (s *Server) IngestEvents(events []report.Event) int {
	accepted := 0
	for _, evt := range events {
		if evt.RunID == "" {
			continue
		}
		accepted++
		if evt.IsRun() {
			s.finishRun(evt)
			continue
		}
		s.store.Add(evt)
		if evt.Status == "failed" || evt.Status == "error" {
			log.Warn().Str("component", "control").Str("run", evt.RunID).Str("host", evt.Host).
				Int("scenario", evt.Scenario).Str("status", evt.Status).Str("reason", evt.Reason).
				Msg("scenario failure reported")
		}
	}
	return accepted
}

func (s *Server) finishRun(end report.Event) {
	evts := s.store.Finish(end.RunID)
	logger := log.With().Str("component", "control").Str("run", end.RunID).Str("host", end.Host).Logger()
	if len(evts) != end.Results {
		logger.Warn().Int("received", len(evts)).Int("expected", end.Results).
			Msg("run finished with missing scenario events")
	}
	if s.history == nil {
		logger.Info().Str("status", end.Status).Msg("run finished")
		return
	}
	if err := s.history.Record(runRecord(end, evts)); err != nil {
		logger.Error().Err(err).Msg("failed to record run")
		return
	}
	logger.Info().Str("status", end.Status).Int("results", len(evts)).Msg("run recorded")
}

// runRecord builds the history record of a run from its closing event and
// the scenario events received for it.
func runRecord(end report.Event, evts []report.Event) history.RunRecord {
	rec := history.RunRecord{
		RunID:    end.RunID,
		Started:  end.Started,
		Finished: end.Timestamp,
		Rounds:   end.Rounds,
		Halted:   end.Halted,
		Results:  make([]history.ScenarioRecord, 0, len(evts)),
	}
	for _, e := range evts {
		rec.Results = append(rec.Results, history.ScenarioRecord{
			Round:      e.Round,
			Index:      e.Scenario,
			Name:       e.Name,
			Status:     e.Status,
			DurationMs: e.DurationMs,
			Reason:     e.Reason,
			Error:      e.Error,
		})
	}
	sort.SliceStable(rec.Results, func(i, j int) bool {
		a, b := rec.Results[i], rec.Results[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Index < b.Index
	})
	return rec
}

// GetStore returns the live event store.
func (s *Server) GetStore() *Store {
	return s.store
}

// ── Store ───────────────────────────────────────────────────────────

// Store keeps received events grouped by run.
type Store struct {
	mu       sync.RWMutex
	maxRuns  int
	runs     map[string][]report.Event
	finished map[string]bool
	order    []string // run IDs, oldest first
}

// NewStore creates an empty store keeping at most maxRuns runs.
func NewStore(maxRuns int) *Store {
	return &Store{
		maxRuns:  maxRuns,
		runs:     make(map[string][]report.Event),
		finished: make(map[string]bool),
	}
}

// Add appends evt to its run.
func (s *Store) Add(evt report.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(evt.RunID)
	s.runs[evt.RunID] = append(s.runs[evt.RunID], evt)
}

// Finish marks runID finished and returns its events. A run that sent no
// scenario events is still tracked.
func (s *Store) Finish(runID string) []report.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(runID)
	s.finished[runID] = true
	return append([]report.Event(nil), s.runs[runID]...)
}

// track starts a run if it is new, evicting the oldest beyond maxRuns.
// Callers hold mu.
func (s *Store) track(runID string) {
	if _, ok := s.runs[runID]; ok {
		return
	}
	s.runs[runID] = nil
	s.order = append(s.order, runID)
	for len(s.order) > s.maxRuns {
		delete(s.runs, s.order[0])
		delete(s.finished, s.order[0])
		s.order = s.order[1:]
	}
}

// Events returns the events of runID in arrival order.
func (s *Store) Events(runID string) ([]report.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evts, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	out := make([]report.Event, len(evts))
	copy(out, evts)
	return out, true
}

// Runs summarizes every stored run, most recently active first.
func (s *Store) Runs() []LiveRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LiveRun, 0, len(s.runs))
	for id, evts := range s.runs {
		lr := LiveRun{RunID: id, Counts: make(map[string]int), Finished: s.finished[id]}
		hosts := make(map[string]bool)
		for _, e := range evts {
			if lr.First.IsZero() || e.Timestamp.Before(lr.First) {
				lr.First = e.Timestamp
			}
			if e.Timestamp.After(lr.Last) {
				lr.Last = e.Timestamp
			}
			lr.Counts[e.Status]++
			if e.Status == "failed" || e.Status == "error" {
				lr.Failures++
			}
			if e.Host != "" && !hosts[e.Host] {
				hosts[e.Host] = true
				lr.Hosts = append(lr.Hosts, e.Host)
			}
		}
		sort.Strings(lr.Hosts)
		out = append(out, lr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Last.After(out[j].Last) })
	return out
}

// RunCount returns the number of runs held.
func (s *Store) RunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
