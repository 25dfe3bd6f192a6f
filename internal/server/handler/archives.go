package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// archivePrefix scopes the listing to exported history objects.
const archivePrefix = "archive/"

// ArchiveHandler serves exported history bundles from blob storage. It is
// only registered when archival is configured.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger.With(slog.String("handler", "archives")),
	}
}

// ListArchives returns the keys of all exported bundles, optionally narrowed
// by a kind ("operations" or "runs").
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if strings.ContainsAny(kind, "/\\") {
			writeError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		prefix += kind + "/"
	}

	keys, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.Error("list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archives": keys,
		"count":    len(keys),
	})
}

// GetArchive streams one exported bundle back as gzipped JSONL.
// GET /api/archives/{key...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive key")
		return
	}
	key = archivePrefix + key

	data, err := h.blobs.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown archive: "+key)
			return
		}
		h.logger.Error("read archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
