package orchestrator

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/pattern"
)

// reportBuilder accumulates one run's counters as outcomes and confirmations
// stream in. It is safe for concurrent use.
type reportBuilder struct {
	mu     sync.Mutex
	report domain.RunReport
}

func newReportBuilder(runID, patternName string, intensity int, startedAt time.Time) *reportBuilder {
	return &reportBuilder{
		report: domain.RunReport{
			RunID:     runID,
			Pattern:   patternName,
			Intensity: intensity,
			StartedAt: startedAt,
		},
	}
}

func (b *reportBuilder) addOutcome(out domain.OperationOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch out.Kind {
	case domain.OutcomeSubmitted:
		b.report.Submitted++
		b.report.TotalAmount += out.Intent.Amount
		b.report.TotalFees += out.Fee
	case domain.OutcomeDropped:
		b.report.Dropped++
	}
	if out.Attempts > 1 {
		b.report.Retried += out.Attempts - 1
	}
}

func (b *reportBuilder) addConfirmation(rec domain.ConfirmationRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch rec.Status {
	case domain.StatusFinalized:
		b.report.Finalized++
	case domain.StatusFailed:
		b.report.Failed++
	}
}

func (b *reportBuilder) finalize(summary pattern.Summary) domain.RunReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Ticks = summary.Ticks
	b.report.Skipped = summary.Skipped
	b.report.FinishedAt = summary.FinishedAt
	b.report.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	return b.report
}

func (b *reportBuilder) snapshot() domain.RunReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}
