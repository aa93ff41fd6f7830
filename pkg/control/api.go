package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fsprobe/btcheck/pkg/history"
	"github.com/fsprobe/btcheck/pkg/report"
)

// RegisterAPIRoutes registers all REST API routes on the given mux.
func (s *Server) RegisterAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+report.IngestPath, s.handleIngest)
	mux.HandleFunc("GET /api/v1/live", s.handleLiveList)
	mux.HandleFunc("GET /api/v1/live/{runId}", s.handleLiveRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleRunList)
	mux.HandleFunc("GET /api/v1/runs/{runId}", s.handleRun)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
}

// POST /api/v1/ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var events []report.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, report.IngestResponse{Accepted: s.IngestEvents(events)})
}

// GET /api/v1/live
func (s *Server) handleLiveList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Runs())
}

// GET /api/v1/live/{runId}
func (s *Server) handleLiveRun(w http.ResponseWriter, r *http.Request) {
	evts, ok := s.store.Events(r.PathValue("runId"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, evts)
}

// GET /api/v1/runs?limit=20
func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	runs, err := s.history.List(parseIntParam(r, "limit", 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.RunRecord{}
	}
	writeJSON(w, runs)
}

// GET /api/v1/runs/{runId}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	rec, err := s.history.Get(r.PathValue("runId"))
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

// GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	stats, err := s.history.ScenarioStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
