package handler

import "net/http"

// FlaggedSource yields the addresses currently classified as bot-like. The
// orchestrator serves it from its scorer; monitor mode serves it from the
// flag cache.
type FlaggedSource interface {
	Flagged() []string
}

// ParticipantHandler serves activity-scoring results.
type ParticipantHandler struct {
	source FlaggedSource
}

// NewParticipantHandler creates a ParticipantHandler.
func NewParticipantHandler(source FlaggedSource) *ParticipantHandler {
	return &ParticipantHandler{source: source}
}

// ListFlagged returns the addresses currently classified as bot-like.
// GET /api/participants/flagged
func (h *ParticipantHandler) ListFlagged(w http.ResponseWriter, r *http.Request) {
	flagged := h.source.Flagged()
	if flagged == nil {
		flagged = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flagged": flagged,
		"count":   len(flagged),
	})
}
