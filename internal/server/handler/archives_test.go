package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// fakeBlobReader serves canned archive objects keyed by full object key.
type fakeBlobReader struct {
	objects    map[string][]byte
	lastPrefix string
}

func (f *fakeBlobReader) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobReader) List(_ context.Context, prefix string) ([]string, error) {
	f.lastPrefix = prefix
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestListArchives(t *testing.T) {
	blobs := &fakeBlobReader{objects: map[string][]byte{
		"archive/operations/2026-01-01-1.jsonl.gz": []byte("ops"),
		"archive/runs/2026-01-01-1.jsonl.gz":       []byte("runs"),
	}}
	h := NewArchiveHandler(blobs, testLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if archives, ok := body["archives"].([]any); !ok || len(archives) != 2 {
		t.Fatalf("unexpected body %v", body)
	}

	rec = httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?kind=runs", nil))
	if blobs.lastPrefix != "archive/runs/" {
		t.Fatalf("kind not folded into prefix, got %q", blobs.lastPrefix)
	}
	body = decodeBody(t, rec)
	if archives, ok := body["archives"].([]any); !ok || len(archives) != 1 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestListArchivesRejectsPathyKind(t *testing.T) {
	h := NewArchiveHandler(&fakeBlobReader{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?kind=..%2Fsecrets", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetArchive(t *testing.T) {
	blobs := &fakeBlobReader{objects: map[string][]byte{
		"archive/operations/2026-01-01-1.jsonl.gz": []byte("gzipped payload"),
	}}
	h := NewArchiveHandler(blobs, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives/{key...}", h.GetArchive)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/archives/operations/2026-01-01-1.jsonl.gz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/gzip" {
		t.Fatalf("content type %q", got)
	}
	if rec.Body.String() != "gzipped payload" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/archives/operations/missing.jsonl.gz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want %d", rec.Code, http.StatusNotFound)
	}
}
