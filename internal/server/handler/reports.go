package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// ReportHandler serves persisted run reports and per-run operation history.
// It is only registered when a run store is configured.
type ReportHandler struct {
	runs   domain.RunStore
	ops    domain.OperationStore
	logger *slog.Logger
}

// NewReportHandler creates a ReportHandler. A nil operation store disables
// the per-run operations route.
func NewReportHandler(runs domain.RunStore, ops domain.OperationStore, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		runs:   runs,
		ops:    ops,
		logger: logger.With(slog.String("handler", "reports")),
	}
}

// ListRecent returns the newest run reports.
// GET /api/runs/recent
func (h *ReportHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 200 {
		limit = 20
	}

	reports, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list recent runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if reports == nil {
		reports = []domain.RunReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": reports})
}

// GetRun returns one run report by id.
// GET /api/runs/{id}
func (h *ReportHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	report, err := h.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown run: "+runID)
			return
		}
		h.logger.Error("get run failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListOperations returns the operations recorded for one run, newest first.
// An active run lists what has been persisted so far; an empty list is not
// an error since dropped and terminal operations land here over time.
// GET /api/runs/{id}/operations
func (h *ReportHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	ops, err := h.ops.ListByRun(r.Context(), runID, limit)
	if err != nil {
		h.logger.Error("list run operations failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	if ops == nil {
		ops = []domain.OperationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     runID,
		"operations": ops,
		"count":      len(ops),
	})
}
