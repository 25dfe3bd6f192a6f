package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// archiveBatchSize bounds how many rows one sweep pulls from the store.
const archiveBatchSize = 10000

// HistoryArchiver implements domain.Archiver: it exports aged operations and
// run reports as gzipped JSONL to blob storage, then prunes the archived rows
// from the database. Rows are deleted only after the upload succeeded.
type HistoryArchiver struct {
	writer domain.BlobWriter
	ops    domain.OperationStore
	runs   domain.RunStore
	logger *slog.Logger
}

// NewArchiver creates a HistoryArchiver.
func NewArchiver(writer domain.BlobWriter, ops domain.OperationStore, runs domain.RunStore, logger *slog.Logger) *HistoryArchiver {
	return &HistoryArchiver{
		writer: writer,
		ops:    ops,
		runs:   runs,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Archive exports everything older than retentionDays and returns the number
// of archived records.
func (a *HistoryArchiver) Archive(ctx context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	opCount, err := a.archiveOperations(ctx, cutoff)
	if err != nil {
		return opCount, err
	}
	runCount, err := a.archiveRuns(ctx, cutoff)
	if err != nil {
		return opCount + runCount, err
	}

	if opCount+runCount > 0 {
		a.logger.Info("archive sweep complete",
			slog.Int("operations", opCount),
			slog.Int("runs", runCount),
			slog.Time("cutoff", cutoff),
		)
	}
	return opCount + runCount, nil
}

func (a *HistoryArchiver) archiveOperations(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := a.ops.ListBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	data, err := gzipJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations encode: %w", err)
	}

	key := archiveKey("operations", cutoff)
	if err := a.writer.Write(ctx, key, data, "application/gzip"); err != nil {
		return 0, fmt.Errorf("s3blob: archive operations upload: %w", err)
	}

	if _, err := a.ops.DeleteBefore(ctx, cutoff); err != nil {
		return len(records), fmt.Errorf("s3blob: prune operations: %w", err)
	}
	return len(records), nil
}

func (a *HistoryArchiver) archiveRuns(ctx context.Context, cutoff time.Time) (int, error) {
	reports, err := a.runs.ListBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive runs query: %w", err)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	data, err := gzipJSONL(reports)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive runs encode: %w", err)
	}

	key := archiveKey("runs", cutoff)
	if err := a.writer.Write(ctx, key, data, "application/gzip"); err != nil {
		return 0, fmt.Errorf("s3blob: archive runs upload: %w", err)
	}

	if _, err := a.runs.DeleteBefore(ctx, cutoff); err != nil {
		return len(reports), fmt.Errorf("s3blob: prune runs: %w", err)
	}
	return len(reports), nil
}

// archiveKey builds archive/<kind>/<cutoff-date>-<upload-time>.jsonl.gz so
// repeated sweeps never clobber a prior export.
func archiveKey(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s-%d.jsonl.gz",
		kind, cutoff.Format("2006-01-02"), time.Now().UTC().Unix())
}

// gzipJSONL renders one JSON document per line and gzips the result.
func gzipJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*HistoryArchiver)(nil)
