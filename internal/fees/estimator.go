// Package fees estimates submission fees from recent network fee samples.
package fees

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Estimator derives priority-scaled fee estimates from the median of a recent
// fee sample window. The window refreshes at most once per refresh interval;
// between refreshes Estimate serves the cached median. It is safe for
// concurrent use.
type Estimator struct {
	ledger          domain.LedgerClient
	refreshInterval time.Duration
	minimumFee      uint64
	logger          *slog.Logger

	mu          sync.Mutex
	median      uint64
	lastRefresh time.Time
}

// NewEstimator creates an Estimator. minimumFee is the hard floor returned
// until samples are available and the lower bound of every estimate.
func NewEstimator(ledger domain.LedgerClient, refreshInterval time.Duration, minimumFee uint64, logger *slog.Logger) *Estimator {
	return &Estimator{
		ledger:          ledger,
		refreshInterval: refreshInterval,
		minimumFee:      minimumFee,
		logger:          logger.With(slog.String("component", "fee_estimator")),
	}
}

// Estimate returns the fee for the given priority tier. A sampling failure
// degrades to the last-known median, or the configured minimum when no
// samples have ever been fetched.
func (e *Estimator) Estimate(ctx context.Context, priority domain.Priority) uint64 {
	base := e.currentMedian(ctx)
	fee := uint64(float64(base) * priority.FeeMultiplier())
	if fee < e.minimumFee {
		fee = e.minimumFee
	}
	return fee
}

// currentMedian returns the cached median, refreshing it first if the
// refresh interval has elapsed.
func (e *Estimator) currentMedian(ctx context.Context) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.lastRefresh) < e.refreshInterval {
		if e.median == 0 {
			return e.minimumFee
		}
		return e.median
	}

	samples, err := e.ledger.RecentFeeSamples(ctx)
	if err != nil {
		e.logger.Warn("fee sample refresh failed, using last known median",
			slog.String("error", err.Error()),
			slog.Uint64("median", e.median),
		)
		// Back off further refresh attempts for a full interval so a flapping
		// endpoint is not hammered once per estimate.
		e.lastRefresh = time.Now()
		if e.median == 0 {
			return e.minimumFee
		}
		return e.median
	}
	e.lastRefresh = time.Now()

	if len(samples) == 0 {
		if e.median == 0 {
			return e.minimumFee
		}
		return e.median
	}

	fees := make([]uint64, len(samples))
	for i, s := range samples {
		fees[i] = s.Fee
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })

	mid := len(fees) / 2
	if len(fees)%2 == 0 {
		e.median = (fees[mid-1] + fees[mid]) / 2
	} else {
		e.median = fees[mid]
	}

	e.logger.Debug("fee window refreshed",
		slog.Int("samples", len(fees)),
		slog.Uint64("median", e.median),
	)
	return e.median
}
