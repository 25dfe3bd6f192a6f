// Package score maintains per-participant cadence metrics and flags
// bot-like counterparties.
package score

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Config holds the classification thresholds.
type Config struct {
	// Window is the sliding observation window; metrics idle longer than
	// this are evicted lazily on the next observation or query.
	Window time.Duration
	// MinOperations is the observation count below which Classify never
	// flags.
	MinOperations int
	// MaxMeanInterval is the slowest cadence that still counts as bot-like.
	MaxMeanInterval time.Duration
	// MinPatternScore and MinVolumeScore are the score floors for a flag.
	MinPatternScore float64
	MinVolumeScore  float64
}

// volumeScoreCapOpsPerMin saturates the throughput score: anything at or
// above this cadence scores 1.
const volumeScoreCapOpsPerMin = 30.0

// entry is the mutable per-address state behind a ParticipantMetrics
// snapshot. Interval statistics use Welford's algorithm.
type entry struct {
	firstSeen time.Time
	lastSeen  time.Time
	count     int
	meanMs    float64
	m2        float64 // sum of squared deviations of intervals
}

// Scorer tracks ParticipantMetrics for every observed address. It is safe
// for concurrent use; all state is owned behind one mutex.
type Scorer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewScorer creates a Scorer with the given thresholds.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	return &Scorer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "activity_scorer")),
		entries: make(map[string]*entry),
	}
}

// Observe records one confirmed operation for the address at time at.
// An entry idle beyond the window is reset before the observation so stale
// history cannot poison the statistics.
func (s *Scorer) Observe(address string, at time.Time) {
	if address == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[address]
	if ok && at.Sub(e.lastSeen) > s.cfg.Window {
		ok = false
	}
	if !ok {
		s.entries[address] = &entry{firstSeen: at, lastSeen: at, count: 1}
		return
	}

	interval := float64(at.Sub(e.lastSeen).Milliseconds())
	if interval < 0 {
		// Out-of-order confirmation; count it but leave intervals untouched.
		e.count++
		return
	}

	e.count++
	e.lastSeen = at

	// Welford over the (count-1) observed intervals.
	n := float64(e.count - 1)
	delta := interval - e.meanMs
	e.meanMs += delta / n
	e.m2 += delta * (interval - e.meanMs)
}

// Metrics returns the current snapshot for an address, or ErrNotFound when
// the address is unknown or its entry has aged out.
func (s *Scorer) Metrics(address string) (domain.ParticipantMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[address]
	if !ok {
		return domain.ParticipantMetrics{}, domain.ErrNotFound
	}
	if time.Since(e.lastSeen) > s.cfg.Window {
		delete(s.entries, address)
		return domain.ParticipantMetrics{}, domain.ErrNotFound
	}
	return s.snapshot(address, e), nil
}

// Classify reports whether the address looks bot-like under the configured
// thresholds. Unknown addresses are never flagged.
func (s *Scorer) Classify(address string) bool {
	m, err := s.Metrics(address)
	if err != nil {
		return false
	}
	return m.BotLike(s.cfg.MinOperations, s.cfg.MaxMeanInterval, s.cfg.MinPatternScore, s.cfg.MinVolumeScore)
}

// Flagged returns every currently bot-like address in sorted order.
func (s *Scorer) Flagged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	now := time.Now()
	for addr, e := range s.entries {
		if now.Sub(e.lastSeen) > s.cfg.Window {
			delete(s.entries, addr)
			continue
		}
		m := s.snapshot(addr, e)
		if m.BotLike(s.cfg.MinOperations, s.cfg.MaxMeanInterval, s.cfg.MinPatternScore, s.cfg.MinVolumeScore) {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

// Tracked returns the number of live entries.
func (s *Scorer) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// snapshot derives the scored metrics view from raw interval statistics.
// Caller holds the lock.
func (s *Scorer) snapshot(address string, e *entry) domain.ParticipantMetrics {
	m := domain.ParticipantMetrics{
		Address:        address,
		OperationCount: e.count,
		MeanIntervalMs: e.meanMs,
		FirstSeen:      e.firstSeen,
		LastSeen:       e.lastSeen,
	}
	if e.count > 2 {
		m.IntervalVariance = e.m2 / float64(e.count-2)
	}

	// Timing regularity: low deviation relative to the mean scores high.
	if e.count > 1 && e.meanMs > 0 {
		cv := math.Sqrt(m.IntervalVariance) / e.meanMs
		m.PatternScore = 1 / (1 + cv)
	}

	// Throughput: operations per minute against the cap.
	elapsed := e.lastSeen.Sub(e.firstSeen).Minutes()
	if elapsed <= 0 {
		elapsed = 1.0 / 60 // everything inside one second still scores
	}
	opsPerMin := float64(e.count) / elapsed
	m.VolumeScore = math.Min(1, opsPerMin/volumeScoreCapOpsPerMin)

	return m
}
