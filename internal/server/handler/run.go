package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Engine is the slice of the orchestrator the API handlers need.
type Engine interface {
	StartPattern(ctx context.Context, name string, duration time.Duration, intensity int) (string, error)
	StopPattern() error
	RunStatus() domain.RunStatus
	QueueStatus() domain.QueueStatus
	Patterns() []string
	Flagged() []string
}

// RunHandler serves the run lifecycle endpoints.
type RunHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(engine Engine, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "run")),
	}
}

type startRunRequest struct {
	Pattern string `json:"pattern"`
	// DurationSeconds of 0 falls back to the configured default.
	DurationSeconds int `json:"duration_seconds"`
	Intensity       int `json:"intensity"`
}

// StartRun begins a pattern run.
// POST /api/run/start
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	if req.Intensity < 0 || req.Intensity > 10 {
		writeError(w, http.StatusBadRequest, "intensity must be between 1 and 10")
		return
	}

	runID, err := h.engine.StartPattern(r.Context(),
		req.Pattern, time.Duration(req.DurationSeconds)*time.Second, req.Intensity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRunActive):
			writeError(w, http.StatusConflict, "a run is already active")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown pattern: "+req.Pattern)
		default:
			h.logger.Error("start run failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// StopRun requests a graceful stop of the active run.
// POST /api/run/stop
func (h *RunHandler) StopRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopPattern(); err != nil {
		if errors.Is(err, domain.ErrNoRunActive) {
			writeError(w, http.StatusConflict, "no run is active")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// GetStatus returns the current run snapshot.
// GET /api/run/status
func (h *RunHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.RunStatus())
}

// ListPatterns returns the runnable pattern names.
// GET /api/patterns
func (h *RunHandler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"patterns": h.engine.Patterns()})
}
