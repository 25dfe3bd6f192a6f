package domain

import (
	"context"
	"time"
)

// OperationStore persists terminal operations for reporting and archival.
type OperationStore interface {
	Insert(ctx context.Context, rec OperationRecord) error
	ListByRun(ctx context.Context, runID string, limit int) ([]OperationRecord, error)
	// ListBefore returns records finalized before the cutoff, oldest first,
	// for the archiver.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]OperationRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunStore persists finished run reports.
type RunStore interface {
	Insert(ctx context.Context, report RunReport) error
	Get(ctx context.Context, runID string) (RunReport, error)
	ListRecent(ctx context.Context, limit int) ([]RunReport, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]RunReport, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
