package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/flatetl/internal/ledger"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/runner"
	"github.com/JonMunkholm/flatetl/internal/trigger"
)

// StartRunResponse is returned by POST /api/runs.
type StartRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Href   string `json:"href"`
}

// RunStatusResponse is returned by GET /api/runs/{runID} while the run is
// in progress.
type RunStatusResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// RunListResponse is returned by GET /api/runs.
type RunListResponse struct {
	Runs   []ledger.RunSummary `json:"runs"`
	Source string              `json:"source"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string              `json:"status"`
	Run    trigger.GuardStatus `json:"run"`
}

// handleHealth reports liveness and whether a run is active.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Run: s.guard.Status()})
}

// handleStartRun starts a pipeline run in the background.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if !s.guard.TryAcquire("api") {
		respondError(w, r, trigger.ErrRunInProgress, http.StatusConflict)
		return
	}

	runID := uuid.New().String()

	// The run outlives the request; it keeps the request ID for log
	// correlation but takes its cancellation from the server context.
	ctx := logging.WithRun(s.ctx, runID)
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		ctx = context.WithValue(ctx, middleware.RequestIDKey, reqID)
	}

	s.mu.Lock()
	s.pending[runID] = time.Now()
	s.mu.Unlock()

	go func() {
		defer s.guard.Release()
		defer func() {
			s.mu.Lock()
			delete(s.pending, runID)
			s.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				logging.FromContext(ctx).Error("pipeline run panicked", "panic", fmt.Sprint(p))
			}
		}()
		if _, err := s.pipeline.Run(ctx); err != nil {
			logging.FromContext(ctx).Error("pipeline run failed", "error", err)
		}
	}()

	logging.FromContext(ctx).Info("run started from API")
	href := "/api/runs/" + runID
	w.Header().Set("Location", href)
	writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: runID, Status: "started", Href: href})
}

// handleListRuns lists runs newest first, from the ledger when one is
// configured.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", ledger.DefaultListLimit)

	if s.opts.History != nil {
		runs, err := s.opts.History.ListRuns(r.Context(), limit)
		if err != nil {
			respondError(w, r, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Source: "ledger"})
		return
	}

	recent := s.pipeline.Recent()
	if len(recent) > limit {
		recent = recent[:limit]
	}
	runs := make([]ledger.RunSummary, 0, len(recent))
	for _, run := range recent {
		runs = append(runs, ledger.Summarize(run, false))
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Source: "memory"})
}

// handleLatestRun returns the full report of the most recent run: the
// last run of this process, else the last_run.json report on disk.
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if run := s.pipeline.Latest(); run != nil {
		writeJSON(w, http.StatusOK, run)
		return
	}

	if s.opts.ReportDir != "" {
		run, err := runner.LoadReport(filepath.Join(s.opts.ReportDir, runner.LastRunFile))
		if err == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, os.ErrNotExist) {
			respondError(w, r, err, http.StatusInternalServerError)
			return
		}
	}
	respondError(w, r, ledger.ErrNotFound, http.StatusNotFound)
}

// handleGetRun returns one run with its files, or its running status
// while it is in progress.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	// In-progress state is read before the completed runs so a run that
	// finishes in between is still found.
	status, running := s.runningStatus(runID)
	if run, ok := s.pipeline.Lookup(runID); ok {
		writeJSON(w, http.StatusOK, ledger.Summarize(run, true))
		return
	}
	if running {
		writeJSON(w, http.StatusOK, status)
		return
	}
	if s.opts.History == nil {
		respondError(w, r, ledger.ErrNotFound, http.StatusNotFound)
		return
	}

	run, err := s.opts.History.GetRun(r.Context(), runID)
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runningStatus reports a run that is in progress in the runner or
// accepted by the API and not yet finished.
func (s *Server) runningStatus(runID string) (RunStatusResponse, bool) {
	if active, ok := s.pipeline.Running(runID); ok {
		return RunStatusResponse{RunID: runID, Status: "running", StartedAt: active.StartedAt}, true
	}
	s.mu.Lock()
	accepted, ok := s.pending[runID]
	s.mu.Unlock()
	if ok {
		return RunStatusResponse{RunID: runID, Status: "running", StartedAt: accepted}, true
	}
	return RunStatusResponse{}, false
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
