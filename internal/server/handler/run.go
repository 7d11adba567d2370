// Package handler contains the HTTP handlers of the review service API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
)

// ReviewRunner executes one review run. Satisfied by pipeline.Runner.
type ReviewRunner interface {
	Run(ctx context.Context) *core.RunSummary
}

// RunHandler triggers review runs. Runs are single-flight: a trigger while
// a run is in progress is answered with 409 rather than queued, since a
// fresh run would mostly re-skip the same items anyway.
type RunHandler struct {
	runner ReviewRunner
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	last    *core.RunSummary
}

// NewRunHandler creates the run trigger handler.
func NewRunHandler(runner ReviewRunner, logger *slog.Logger) *RunHandler {
	return &RunHandler{runner: runner, logger: logger}
}

type runResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

type summaryResponse struct {
	RunID    string `json:"run_id"`
	Started  string `json:"started"`
	Finished string `json:"finished"`
	Reviewed int    `json:"reviewed"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
}

// Handle starts a run in the background and responds immediately.
func (h *RunHandler) Handle(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		writeJSON(w, http.StatusConflict, runResponse{Status: "run already in progress"})
		return
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		// Detached from the request context: the run must survive the
		// client disconnecting.
		summary := h.runner.Run(context.Background())

		h.mu.Lock()
		h.running = false
		h.last = summary
		h.mu.Unlock()

		h.logger.Info("triggered run finished",
			"run_id", summary.RunID,
			"reviewed", summary.ReviewedCount,
			"skipped", summary.SkippedCount,
			"errors", summary.ErrorCount,
		)
	}()

	writeJSON(w, http.StatusAccepted, runResponse{Status: "started"})
}

// Last reports the summary of the most recent completed run.
func (h *RunHandler) Last(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last := h.last
	running := h.running
	h.mu.Unlock()

	if last == nil {
		status := "no runs yet"
		if running {
			status = "run in progress"
		}
		writeJSON(w, http.StatusNotFound, runResponse{Status: status})
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		RunID:    last.RunID,
		Started:  last.StartTime.Format(time.RFC3339),
		Finished: last.EndTime.Format(time.RFC3339),
		Reviewed: last.ReviewedCount,
		Skipped:  last.SkippedCount,
		Errors:   last.ErrorCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
