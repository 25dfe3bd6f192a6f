package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// OperationStore persists terminal operations.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates an OperationStore backed by the given Client.
func NewOperationStore(c *Client) *OperationStore {
	return &OperationStore{pool: c.Pool()}
}

const operationColumns = `
	id, run_id, operation_id, from_address, to_address, amount, fee,
	priority, pattern, phase, outcome, attempts, slot, error,
	submitted_at, finalized_at`

// Insert writes one finished operation. Re-inserting the same intent id
// updates the row, so a retried emit stays idempotent.
func (s *OperationStore) Insert(ctx context.Context, rec domain.OperationRecord) error {
	const query = `
		INSERT INTO operations (` + operationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			operation_id = EXCLUDED.operation_id,
			outcome      = EXCLUDED.outcome,
			attempts     = EXCLUDED.attempts,
			slot         = EXCLUDED.slot,
			error        = EXCLUDED.error,
			finalized_at = EXCLUDED.finalized_at`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.RunID, rec.OperationID, rec.FromAddress, rec.ToAddress,
		int64(rec.Amount), int64(rec.Fee), rec.Priority, rec.Pattern, rec.Phase,
		rec.Outcome, rec.Attempts, int64(rec.Slot), rec.Error,
		rec.SubmittedAt, rec.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert operation %s: %w", rec.ID, err)
	}
	return nil
}

// ListByRun returns the most recent operations belonging to one run.
func (s *OperationStore) ListByRun(ctx context.Context, runID string, limit int) ([]domain.OperationRecord, error) {
	const query = `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE run_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations for run %s: %w", runID, err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// ListBefore returns operations submitted before cutoff, oldest first.
func (s *OperationStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OperationRecord, error) {
	const query = `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE submitted_at < $1
		ORDER BY submitted_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// DeleteBefore removes operations submitted before cutoff and returns the
// number of deleted rows.
func (s *OperationStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM operations WHERE submitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete operations before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func scanOperations(rows pgx.Rows) ([]domain.OperationRecord, error) {
	var records []domain.OperationRecord
	for rows.Next() {
		var (
			rec               domain.OperationRecord
			amount, fee, slot int64
		)
		err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.OperationID, &rec.FromAddress, &rec.ToAddress,
			&amount, &fee, &rec.Priority, &rec.Pattern, &rec.Phase,
			&rec.Outcome, &rec.Attempts, &slot, &rec.Error,
			&rec.SubmittedAt, &rec.FinalizedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan operation: %w", err)
		}
		rec.Amount = uint64(amount)
		rec.Fee = uint64(fee)
		rec.Slot = uint64(slot)
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ domain.OperationStore = (*OperationStore)(nil)
