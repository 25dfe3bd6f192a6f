// Package track polls the ledger for the finality status of submitted
// operations.
package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Update pairs an operation id with its record each time the tracked state
// changes. Terminal updates are the last ever sent for an id.
type Update struct {
	Record domain.ConfirmationRecord
}

// Tracker polls the ledger at a fixed interval for each tracked operation
// until the operation reaches a terminal state or the maximum wall-clock
// window elapses, at which point the record is failed with a timeout reason.
// Records are kept after termination so Status stays answerable.
type Tracker struct {
	ledger       domain.LedgerClient
	pollInterval time.Duration
	maxWindow    time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	records map[string]domain.ConfirmationRecord

	updates chan Update
	wg      sync.WaitGroup
}

// NewTracker creates a Tracker. Updates for every state change are delivered
// on Updates(); the channel is buffered and drops are not possible because
// polling goroutines block on it.
func NewTracker(ledger domain.LedgerClient, pollInterval, maxWindow time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		ledger:       ledger,
		pollInterval: pollInterval,
		maxWindow:    maxWindow,
		logger:       logger.With(slog.String("component", "confirmation_tracker")),
		records:      make(map[string]domain.ConfirmationRecord),
		updates:      make(chan Update, 256),
	}
}

// Updates returns the stream of record changes, terminal states included.
func (t *Tracker) Updates() <-chan Update {
	return t.updates
}

// Track registers an operation id and begins polling it. Tracking an id that
// is already tracked is a no-op.
func (t *Tracker) Track(ctx context.Context, operationID string) {
	now := time.Now().UTC()

	t.mu.Lock()
	if _, exists := t.records[operationID]; exists {
		t.mu.Unlock()
		return
	}
	rec := domain.ConfirmationRecord{
		OperationID: operationID,
		Status:      domain.StatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	t.records[operationID] = rec
	t.mu.Unlock()

	t.wg.Add(1)
	go t.poll(ctx, operationID)
}

// Status returns the last-known record for an operation id without blocking.
func (t *Tracker) Status(operationID string) (domain.ConfirmationRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[operationID]
	if !ok {
		return domain.ConfirmationRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// Pending returns the number of records still awaiting a terminal state.
func (t *Tracker) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, rec := range t.records {
		if !rec.Status.Terminal() {
			n++
		}
	}
	return n
}

// Wait blocks until every polling goroutine has finished. Intended for
// shutdown after the parent context is cancelled.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// poll drives one operation to a terminal state.
func (t *Tracker) poll(ctx context.Context, operationID string) {
	defer t.wg.Done()

	log := t.logger.With(slog.String("operation_id", operationID))
	deadline := time.Now().Add(t.maxWindow)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			t.update(ctx, operationID, func(rec *domain.ConfirmationRecord) {
				rec.Status = domain.StatusFailed
				rec.Err = "tracking window elapsed before finality"
			})
			log.Warn("tracking abandoned after max window",
				slog.Duration("window", t.maxWindow),
			)
			return
		}

		reply, err := t.ledger.Status(ctx, operationID)
		if err != nil {
			// Polling errors are transient by policy; keep the record pending
			// and try again on the next tick.
			log.Debug("status poll failed, will retry",
				slog.String("error", err.Error()),
			)
			continue
		}
		if !reply.Found {
			// The ledger has not seen the id yet. Still pending.
			continue
		}

		changed := t.update(ctx, operationID, func(rec *domain.ConfirmationRecord) {
			rec.Status = reply.Status
			rec.Confirmations = reply.Confirmations
			rec.Slot = reply.Slot
			rec.Err = reply.Err
		})

		if reply.Status.Terminal() {
			if changed {
				log.Info("operation reached terminal state",
					slog.String("status", string(reply.Status)),
					slog.Uint64("slot", reply.Slot),
				)
			}
			return
		}
	}
}

// update applies fn to the record under lock and emits an Update when the
// visible state changed. Terminal records are never modified again.
func (t *Tracker) update(ctx context.Context, operationID string, fn func(*domain.ConfirmationRecord)) bool {
	t.mu.Lock()
	rec, ok := t.records[operationID]
	if !ok || rec.Status.Terminal() {
		t.mu.Unlock()
		return false
	}
	before := rec
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	t.records[operationID] = rec
	t.mu.Unlock()

	if before.Status == rec.Status && before.Confirmations == rec.Confirmations {
		return false
	}

	select {
	case t.updates <- Update{Record: rec}:
	case <-ctx.Done():
	}
	return true
}
