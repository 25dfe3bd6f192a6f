package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine scripts the orchestrator surface the handlers depend on.
type fakeEngine struct {
	startErr   error
	stopErr    error
	startedRun string
	started    []string
	status     domain.RunStatus
	queue      domain.QueueStatus
	patterns   []string
	flagged    []string
}

func (e *fakeEngine) StartPattern(_ context.Context, name string, _ time.Duration, _ int) (string, error) {
	e.started = append(e.started, name)
	if e.startErr != nil {
		return "", e.startErr
	}
	return e.startedRun, nil
}

func (e *fakeEngine) StopPattern() error            { return e.stopErr }
func (e *fakeEngine) RunStatus() domain.RunStatus   { return e.status }
func (e *fakeEngine) QueueStatus() domain.QueueStatus { return e.queue }
func (e *fakeEngine) Patterns() []string            { return e.patterns }
func (e *fakeEngine) Flagged() []string             { return e.flagged }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestStartRun(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		startErr   error
		wantStatus int
	}{
		{"accepted", `{"pattern":"accumulation","duration_seconds":60,"intensity":5}`, nil, http.StatusAccepted},
		{"default duration and intensity", `{"pattern":"macd"}`, nil, http.StatusAccepted},
		{"malformed body", `{"pattern":`, nil, http.StatusBadRequest},
		{"missing pattern", `{"intensity":5}`, nil, http.StatusBadRequest},
		{"intensity out of range", `{"pattern":"macd","intensity":11}`, nil, http.StatusBadRequest},
		{"run already active", `{"pattern":"macd"}`, domain.ErrRunActive, http.StatusConflict},
		{"unknown pattern", `{"pattern":"novel"}`, domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{startedRun: "run-1", startErr: tc.startErr}
			h := NewRunHandler(engine, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/run/start", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.StartRun(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if tc.wantStatus == http.StatusAccepted {
				if got := decodeBody(t, rec)["run_id"]; got != "run-1" {
					t.Fatalf("expected the run id in the response, got %v", got)
				}
			}
		})
	}
}

func TestStopRun(t *testing.T) {
	t.Run("stopping", func(t *testing.T) {
		h := NewRunHandler(&fakeEngine{}, testLogger())
		rec := httptest.NewRecorder()
		h.StopRun(rec, httptest.NewRequest(http.MethodPost, "/api/run/stop", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status %d, want %d", rec.Code, http.StatusAccepted)
		}
	})

	t.Run("nothing running", func(t *testing.T) {
		h := NewRunHandler(&fakeEngine{stopErr: domain.ErrNoRunActive}, testLogger())
		rec := httptest.NewRecorder()
		h.StopRun(rec, httptest.NewRequest(http.MethodPost, "/api/run/stop", nil))
		if rec.Code != http.StatusConflict {
			t.Fatalf("status %d, want %d", rec.Code, http.StatusConflict)
		}
	})
}

func TestGetStatus(t *testing.T) {
	engine := &fakeEngine{status: domain.RunStatus{
		Running:        true,
		RunID:          "run-9",
		CurrentPattern: "distribution",
		Phase:          domain.RunRunning,
	}}
	h := NewRunHandler(engine, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/run/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["run_id"] != "run-9" || body["current_pattern"] != "distribution" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestListPatterns(t *testing.T) {
	h := NewRunHandler(&fakeEngine{patterns: []string{"accumulation", "macd"}}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPatterns(rec, httptest.NewRequest(http.MethodGet, "/api/patterns", nil))

	body := decodeBody(t, rec)
	patterns, ok := body["patterns"].([]any)
	if !ok || len(patterns) != 2 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestListFlagged(t *testing.T) {
	t.Run("with flags", func(t *testing.T) {
		h := NewParticipantHandler(&fakeEngine{flagged: []string{"bot-1", "bot-2"}})
		rec := httptest.NewRecorder()
		h.ListFlagged(rec, httptest.NewRequest(http.MethodGet, "/api/participants/flagged", nil))

		body := decodeBody(t, rec)
		if body["count"].(float64) != 2 {
			t.Fatalf("unexpected body %v", body)
		}
	})

	t.Run("empty is a list, not null", func(t *testing.T) {
		h := NewParticipantHandler(&fakeEngine{})
		rec := httptest.NewRecorder()
		h.ListFlagged(rec, httptest.NewRequest(http.MethodGet, "/api/participants/flagged", nil))

		if strings.Contains(rec.Body.String(), "null") {
			t.Fatalf("expected an empty array, got %s", rec.Body.String())
		}
	})
}
