// Package dispatch executes signed transfer operations against the ledger
// through a priority queue with bounded concurrency and retry backoff.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// FeeEstimator supplies the fee for each submission attempt.
type FeeEstimator interface {
	Estimate(ctx context.Context, priority domain.Priority) uint64
}

// Registrar receives ledger-accepted operation ids for confirmation tracking.
type Registrar interface {
	Track(ctx context.Context, operationID string)
}

// Config holds the dispatcher's tunables.
type Config struct {
	Concurrency int           // bounded in-flight submissions, default 5
	RetryLimit  int           // max submission attempts per item
	BaseBackoff time.Duration // first retry delay; doubles per retry
	MaxBackoff  time.Duration // backoff cap
	Commitment  domain.Commitment
	// SubmitsPerSecond caps the shared submission rate when a limiter is set.
	SubmitsPerSecond int
}

// Dispatcher owns the operation queue. Enqueue never blocks the caller;
// items drain highest priority first, FIFO within a tier, with at most
// Concurrency submissions in flight. Transient submission errors re-enqueue
// the item after an exponential backoff at the tail of its original tier;
// terminal errors and exhausted retry budgets drop the item. Exactly one
// OperationOutcome is emitted per enqueued intent, except for items discarded
// by Clear.
type Dispatcher struct {
	ledger    domain.LedgerClient
	estimator FeeEstimator
	registrar Registrar
	limiter   domain.RateLimiter // may be nil
	wallets   domain.WalletRegistry
	token     domain.TokenInfo
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	queue    opQueue
	inFlight int
	gen      uint64 // bumped by Clear; pending retries from older gens are dropped
	nextSeq  uint64
	retried  int64

	wake    chan struct{}
	results chan domain.OperationOutcome
}

// NewDispatcher creates a Dispatcher. limiter may be nil to disable rate
// limiting (tests, local ledgers).
func NewDispatcher(
	ledger domain.LedgerClient,
	estimator FeeEstimator,
	registrar Registrar,
	limiter domain.RateLimiter,
	wallets domain.WalletRegistry,
	token domain.TokenInfo,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.Commitment == "" {
		cfg.Commitment = domain.CommitmentConfirmed
	}
	return &Dispatcher{
		ledger:    ledger,
		estimator: estimator,
		registrar: registrar,
		limiter:   limiter,
		wallets:   wallets,
		token:     token,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "dispatcher")),
		wake:      make(chan struct{}, 1),
		results:   make(chan domain.OperationOutcome, 256),
	}
}

// Results returns the outcome stream, one terminal outcome per intent.
func (d *Dispatcher) Results() <-chan domain.OperationOutcome {
	return d.results
}

// transferPayload is the canonical serialized form the sender signs.
type transferPayload struct {
	Mint   string `json:"mint"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Nonce  string `json:"nonce"`
}

// Enqueue validates the intent against the wallet registry, builds and signs
// the operation, and schedules it. It never blocks on submission capacity.
func (d *Dispatcher) Enqueue(intent domain.TradeIntent) error {
	if intent.Amount == 0 {
		return fmt.Errorf("dispatch: intent %s: amount must be > 0", intent.ID)
	}
	if intent.FromAddress == intent.ToAddress {
		return fmt.Errorf("dispatch: intent %s: sender and receiver are the same wallet", intent.ID)
	}
	sender, err := d.wallets.Get(intent.FromAddress)
	if err != nil {
		return fmt.Errorf("dispatch: intent %s: sender: %w", intent.ID, err)
	}
	if _, err := d.wallets.Get(intent.ToAddress); err != nil {
		return fmt.Errorf("dispatch: intent %s: receiver: %w", intent.ID, err)
	}

	payload, err := json.Marshal(transferPayload{
		Mint:   d.token.Mint,
		From:   intent.FromAddress,
		To:     intent.ToAddress,
		Amount: intent.Amount,
		Nonce:  intent.ID,
	})
	if err != nil {
		return fmt.Errorf("dispatch: intent %s: encode payload: %w", intent.ID, err)
	}
	sig, err := sender.Signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("dispatch: intent %s: %w", intent.ID, err)
	}

	op := domain.SignedOperation{
		Intent:     intent,
		Payload:    payload,
		Signature:  sig,
		Commitment: d.cfg.Commitment,
	}

	d.mu.Lock()
	d.nextSeq++
	d.queue.push(&item{op: op, gen: d.gen, seq: d.nextSeq})
	d.mu.Unlock()

	d.kick()
	return nil
}

// Clear discards every queued item without emitting outcomes and invalidates
// pending retry timers. In-flight submissions drain on their own.
func (d *Dispatcher) Clear() int {
	d.mu.Lock()
	n := d.queue.Len()
	d.queue = d.queue[:0]
	d.gen++
	d.mu.Unlock()

	if n > 0 {
		d.logger.Info("queue cleared", slog.Int("discarded", n))
	}
	return n
}

// Status returns the current queue depth and in-flight count.
func (d *Dispatcher) Status() domain.QueueStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.QueueStatus{
		QueueLength: d.queue.Len(),
		InFlight:    d.inFlight,
	}
}

// RetriedCount returns the total number of retry re-enqueues so far.
func (d *Dispatcher) RetriedCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retried
}

// Run drives the queue until the context is cancelled. Draining happens on
// every wake: new enqueues, freed slots, and retry re-enqueues all wake the
// loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		slog.Int("concurrency", d.cfg.Concurrency),
		slog.Int("retry_limit", d.cfg.RetryLimit),
	)
	defer d.logger.Info("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
			d.drain(ctx)
		}
	}
}

// kick wakes the run loop without blocking.
func (d *Dispatcher) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// drain pops items while a concurrency slot is free. Items are only dequeued
// when a slot is available so late-arriving high-priority items still win the
// next free slot.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		d.mu.Lock()
		if d.inFlight >= d.cfg.Concurrency || d.queue.Len() == 0 {
			d.mu.Unlock()
			return
		}
		it := d.queue.pop()
		d.inFlight++
		d.mu.Unlock()

		go d.submit(ctx, it)
	}
}

// submit performs one submission attempt for the item. The concurrency slot
// is released exactly once, whatever the outcome; a retry wait does not hold
// a slot.
func (d *Dispatcher) submit(ctx context.Context, it *item) {
	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
		d.kick()
	}()

	log := d.logger.With(
		slog.String("intent_id", it.op.Intent.ID),
		slog.String("priority", it.op.Intent.Priority.String()),
		slog.String("pattern", it.op.Intent.Pattern),
	)

	if d.limiter != nil {
		window := time.Second
		if err := d.limiter.Wait(ctx, "ledger:submit", d.cfg.SubmitsPerSecond, window); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("rate limiter unavailable, proceeding", slog.String("error", err.Error()))
		}
	}

	it.attempts++
	it.op.Fee = d.estimator.Estimate(ctx, it.op.Intent.Priority)

	opID, err := d.ledger.Submit(ctx, it.op)
	if err == nil {
		d.registrar.Track(ctx, opID)
		log.Info("operation submitted",
			slog.String("operation_id", opID),
			slog.Int("attempts", it.attempts),
			slog.Uint64("fee", it.op.Fee),
		)
		d.emit(ctx, domain.OperationOutcome{
			Intent:      it.op.Intent,
			Kind:        domain.OutcomeSubmitted,
			OperationID: opID,
			Attempts:    it.attempts,
			Fee:         it.op.Fee,
			At:          time.Now().UTC(),
		})
		return
	}

	if ctx.Err() != nil {
		return
	}

	if domain.Transient(err) && it.attempts < d.cfg.RetryLimit {
		delay := d.backoff(it.retryCount)
		it.retryCount++
		log.Warn("transient submission error, scheduling retry",
			slog.String("error", err.Error()),
			slog.Int("retry_count", it.retryCount),
			slog.Duration("delay", delay),
		)
		d.scheduleRetry(it, delay)
		return
	}

	log.Error("operation dropped",
		slog.String("error", err.Error()),
		slog.Int("attempts", it.attempts),
	)
	d.emit(ctx, domain.OperationOutcome{
		Intent:   it.op.Intent,
		Kind:     domain.OutcomeDropped,
		Attempts: it.attempts,
		Err:      err,
		At:       time.Now().UTC(),
	})
}

// backoff returns base x 2^retryCount capped at MaxBackoff.
func (d *Dispatcher) backoff(retryCount int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	if delay > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return delay
}

// scheduleRetry re-enqueues the item at the tail of its priority tier after
// the delay, unless Clear invalidated its generation in the meantime.
func (d *Dispatcher) scheduleRetry(it *item, delay time.Duration) {
	time.AfterFunc(delay, func() {
		d.mu.Lock()
		if it.gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.nextSeq++
		it.seq = d.nextSeq
		d.queue.push(it)
		d.retried++
		d.mu.Unlock()
		d.kick()
	})
}

// emit delivers the outcome, honouring context cancellation.
func (d *Dispatcher) emit(ctx context.Context, out domain.OperationOutcome) {
	select {
	case d.results <- out:
	case <-ctx.Done():
	}
}
