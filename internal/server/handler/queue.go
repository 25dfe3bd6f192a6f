package handler

import "net/http"

// QueueHandler serves the dispatcher load endpoint.
type QueueHandler struct {
	engine Engine
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(engine Engine) *QueueHandler {
	return &QueueHandler{engine: engine}
}

// GetStatus returns the queue depth and in-flight submission count.
// GET /api/queue/status
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.QueueStatus())
}
