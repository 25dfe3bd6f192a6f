package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// RunStore persists finished run reports.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given Client.
func NewRunStore(c *Client) *RunStore {
	return &RunStore{pool: c.Pool()}
}

const runColumns = `
	run_id, pattern, intensity, started_at, finished_at, ticks, skipped,
	submitted, retried, dropped, finalized, failed, total_amount, total_fees,
	duration_ms`

// Insert writes one run report.
func (s *RunStore) Insert(ctx context.Context, report domain.RunReport) error {
	const query = `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		report.RunID, report.Pattern, report.Intensity,
		report.StartedAt, report.FinishedAt, report.Ticks, report.Skipped,
		report.Submitted, report.Retried, report.Dropped, report.Finalized,
		report.Failed, int64(report.TotalAmount), int64(report.TotalFees),
		report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", report.RunID, err)
	}
	return nil
}

// Get fetches one run report. It returns domain.ErrNotFound for an unknown
// run id.
func (s *RunStore) Get(ctx context.Context, runID string) (domain.RunReport, error) {
	const query = `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`

	report, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RunReport{}, domain.ErrNotFound
		}
		return domain.RunReport{}, fmt.Errorf("postgres: get run %s: %w", runID, err)
	}
	return report, nil
}

// ListRecent returns the newest run reports first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.RunReport, error) {
	const query = `
		SELECT ` + runColumns + `
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListBefore returns runs started before cutoff, oldest first.
func (s *RunStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.RunReport, error) {
	const query = `
		SELECT ` + runColumns + `
		FROM runs
		WHERE started_at < $1
		ORDER BY started_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// DeleteBefore removes runs started before cutoff and returns the number of
// deleted rows.
func (s *RunStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete runs before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (domain.RunReport, error) {
	var (
		report                        domain.RunReport
		totalAmount, totalFees, durMS int64
	)
	err := row.Scan(
		&report.RunID, &report.Pattern, &report.Intensity,
		&report.StartedAt, &report.FinishedAt, &report.Ticks, &report.Skipped,
		&report.Submitted, &report.Retried, &report.Dropped, &report.Finalized,
		&report.Failed, &totalAmount, &totalFees, &durMS,
	)
	if err != nil {
		return domain.RunReport{}, err
	}
	report.TotalAmount = uint64(totalAmount)
	report.TotalFees = uint64(totalFees)
	report.Duration = time.Duration(durMS) * time.Millisecond
	return report, nil
}

func scanRuns(rows pgx.Rows) ([]domain.RunReport, error) {
	var reports []domain.RunReport
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

var _ domain.RunStore = (*RunStore)(nil)
