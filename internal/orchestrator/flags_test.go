package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/score"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFlagCache records flag and unflag calls.
type fakeFlagCache struct {
	flagged   []string
	unflagged []string
}

func (c *fakeFlagCache) Flag(_ context.Context, addr string, _ time.Duration) error {
	c.flagged = append(c.flagged, addr)
	return nil
}

func (c *fakeFlagCache) Unflag(_ context.Context, addr string) error {
	c.unflagged = append(c.unflagged, addr)
	return nil
}

func (c *fakeFlagCache) Flagged(context.Context) ([]string, error) {
	return c.flagged, nil
}

func TestFlagRaisedOnceAndClearedOnReversal(t *testing.T) {
	scorer := score.NewScorer(score.Config{
		Window:          time.Minute,
		MinOperations:   3,
		MaxMeanInterval: 10 * time.Second,
		MinPatternScore: 0.5,
		MinVolumeScore:  0.1,
	}, testLogger())
	cache := &fakeFlagCache{}

	o := New(nil, nil, nil, scorer, nil, nil, domain.TokenInfo{}, Config{}, testLogger())
	o.SetFlagCache(cache)

	// A steady one-second cadence crosses every threshold.
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		o.observeAndFlag(context.Background(), "bot-1", base.Add(time.Duration(i)*time.Second))
	}
	if len(cache.flagged) != 1 || cache.flagged[0] != "bot-1" {
		t.Fatalf("expected exactly one flag for bot-1, got %v", cache.flagged)
	}

	// A quiet spell beyond the window resets the entry; a lone observation
	// is no longer bot-like, so the flag clears.
	o.observeAndFlag(context.Background(), "bot-1", base.Add(5*time.Minute))
	if len(cache.unflagged) != 1 || cache.unflagged[0] != "bot-1" {
		t.Fatalf("expected the flag cleared for bot-1, got %v", cache.unflagged)
	}

	// Clearing is also one-shot: staying unremarkable must not unflag again.
	o.observeAndFlag(context.Background(), "bot-1", base.Add(5*time.Minute+time.Second))
	if len(cache.unflagged) != 1 {
		t.Fatalf("expected no repeat unflag, got %v", cache.unflagged)
	}
}
