// Package orchestrator composes the pattern runner, dispatcher, tracker, and
// scorer into bounded trading runs.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tokenflow/internal/dispatch"
	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/notify"
	"github.com/alanyoungcy/tokenflow/internal/pattern"
	"github.com/alanyoungcy/tokenflow/internal/score"
	"github.com/alanyoungcy/tokenflow/internal/track"
)

// drainTimeout bounds how long a finished run waits for in-flight operations
// before its report is finalized.
const drainTimeout = 30 * time.Second

// Config holds orchestrator-level options.
type Config struct {
	CounterTrades bool
	FlagTTL       time.Duration
	// Rotation lists the patterns the rotate loop cycles through; empty
	// means every registered pattern in sorted order.
	Rotation        []string
	DefaultDuration time.Duration
	Intensity       int
}

// opMeta links a ledger operation id back to the intent that produced it.
type opMeta struct {
	runID       string
	intent      domain.TradeIntent
	fee         uint64
	attempts    int
	submittedAt time.Time
}

// Orchestrator owns the run lifecycle. Stores, caches, bus, and notifier are
// optional; a nil dependency degrades to a no-op.
type Orchestrator struct {
	runner     *pattern.Runner
	dispatcher *dispatch.Dispatcher
	tracker    *track.Tracker
	scorer     *score.Scorer
	policy     CounterPolicy
	wallets    domain.WalletRegistry
	token      domain.TokenInfo
	cfg        Config

	opStore  domain.OperationStore
	runStore domain.RunStore
	flags    domain.FlagCache
	bus      domain.EventBus
	notifier *notify.Notifier

	logger *slog.Logger

	mu        sync.Mutex
	currentID string
	builders  map[string]*reportBuilder
	intentRun map[string]string
	ops       map[string]opMeta
	flagged   map[string]bool

	runDone chan struct{}
}

// New creates an Orchestrator.
func New(
	runner *pattern.Runner,
	dispatcher *dispatch.Dispatcher,
	tracker *track.Tracker,
	scorer *score.Scorer,
	policy CounterPolicy,
	wallets domain.WalletRegistry,
	token domain.TokenInfo,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		runner:     runner,
		dispatcher: dispatcher,
		tracker:    tracker,
		scorer:     scorer,
		policy:     policy,
		wallets:    wallets,
		token:      token,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
		builders:   make(map[string]*reportBuilder),
		intentRun:  make(map[string]string),
		ops:        make(map[string]opMeta),
		flagged:    make(map[string]bool),
		runDone:    make(chan struct{}, 1),
	}
}

// SetStores wires optional persistence.
func (o *Orchestrator) SetStores(opStore domain.OperationStore, runStore domain.RunStore) {
	o.opStore = opStore
	o.runStore = runStore
}

// SetFlagCache wires the optional flagged-participant cache.
func (o *Orchestrator) SetFlagCache(flags domain.FlagCache) {
	o.flags = flags
}

// SetEventBus wires the optional pub/sub bridge to the WebSocket hub.
func (o *Orchestrator) SetEventBus(bus domain.EventBus) {
	o.bus = bus
}

// SetNotifier wires the optional operator notifications.
func (o *Orchestrator) SetNotifier(n *notify.Notifier) {
	o.notifier = n
}

// Run drives every consumer loop until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started")
	defer o.logger.Info("orchestrator stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.consumeIntents(gctx) })
	g.Go(func() error { return o.consumeOutcomes(gctx) })
	g.Go(func() error { return o.consumeConfirmations(gctx) })
	g.Go(func() error { return o.consumeSummaries(gctx) })
	return g.Wait()
}

// Rotate runs patterns back to back until the context is cancelled. It is
// used by the full and run modes; API-triggered runs go through StartPattern
// directly.
func (o *Orchestrator) Rotate(ctx context.Context) error {
	rotation := o.cfg.Rotation
	if len(rotation) == 0 {
		rotation = o.runner.Patterns()
	}
	if len(rotation) == 0 {
		return fmt.Errorf("orchestrator: no patterns registered")
	}

	for i := 0; ; i++ {
		name := rotation[i%len(rotation)]
		if _, err := o.StartPattern(ctx, name, o.cfg.DefaultDuration, o.cfg.Intensity); err != nil {
			o.logger.Error("rotation start failed",
				slog.String("pattern", name),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.runDone:
		}
	}
}

// StartPattern begins a run and returns its id. It fails with
// domain.ErrRunActive while another run is live.
func (o *Orchestrator) StartPattern(ctx context.Context, name string, duration time.Duration, intensity int) (string, error) {
	if duration <= 0 {
		duration = o.cfg.DefaultDuration
	}
	if intensity == 0 {
		intensity = o.cfg.Intensity
	}

	runID, err := o.runner.Start(ctx, name, duration, intensity)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.currentID = runID
	o.builders[runID] = newReportBuilder(runID, name, intensity, time.Now().UTC())
	o.mu.Unlock()

	o.notify(ctx, "run_started", "Run started",
		fmt.Sprintf("pattern=%s duration=%s intensity=%d run=%s", name, duration, intensity, runID))
	o.publish(ctx, "ch:run", map[string]any{
		"event": "run_started", "run_id": runID, "pattern": name, "intensity": intensity,
	})
	return runID, nil
}

// StopPattern halts intent generation for the active run. Enqueued and
// in-flight operations keep draining on their own.
func (o *Orchestrator) StopPattern() error {
	return o.runner.Stop()
}

// RunStatus returns the runner's externally visible snapshot.
func (o *Orchestrator) RunStatus() domain.RunStatus {
	return o.runner.Status()
}

// QueueStatus returns the dispatcher's load snapshot.
func (o *Orchestrator) QueueStatus() domain.QueueStatus {
	return o.dispatcher.Status()
}

// Patterns returns the runnable pattern names.
func (o *Orchestrator) Patterns() []string {
	return o.runner.Patterns()
}

// Flagged returns the currently flagged participant addresses.
func (o *Orchestrator) Flagged() []string {
	return o.scorer.Flagged()
}

// consumeIntents forwards generated intents into the dispatcher, attributing
// each to the run that produced it.
func (o *Orchestrator) consumeIntents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent := <-o.runner.Intents():
			o.mu.Lock()
			o.intentRun[intent.ID] = o.currentID
			o.mu.Unlock()

			if err := o.dispatcher.Enqueue(intent); err != nil {
				o.logger.Warn("intent rejected",
					slog.String("intent_id", intent.ID),
					slog.String("error", err.Error()),
				)
				o.mu.Lock()
				delete(o.intentRun, intent.ID)
				o.mu.Unlock()
			}
		}
	}
}

// consumeOutcomes books dispatcher outcomes into the owning run's report and
// remembers submitted operations for confirmation handling.
func (o *Orchestrator) consumeOutcomes(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-o.dispatcher.Results():
			o.mu.Lock()
			runID := o.intentRun[out.Intent.ID]
			delete(o.intentRun, out.Intent.ID)
			builder := o.builders[runID]
			if out.Kind == domain.OutcomeSubmitted {
				o.ops[out.OperationID] = opMeta{
					runID:       runID,
					intent:      out.Intent,
					fee:         out.Fee,
					attempts:    out.Attempts,
					submittedAt: out.At,
				}
			}
			o.mu.Unlock()

			if builder != nil {
				builder.addOutcome(out)
			}

			if out.Kind == domain.OutcomeDropped {
				errText := ""
				if out.Err != nil {
					errText = out.Err.Error()
				}
				o.notify(ctx, "operation_dropped", "Operation dropped",
					fmt.Sprintf("intent=%s attempts=%d error=%s", out.Intent.ID, out.Attempts, errText))
				o.persistDropped(ctx, runID, out)
			}

			o.publish(ctx, "ch:operation", map[string]any{
				"event":     string(out.Kind),
				"intent_id": out.Intent.ID,
				"from":      out.Intent.FromAddress,
				"to":        out.Intent.ToAddress,
				"pattern":   out.Intent.Pattern,
				"priority":  out.Intent.Priority.String(),
				"attempts":  out.Attempts,
			})
		}
	}
}

// consumeConfirmations persists terminal operations, feeds the scorer, and
// triggers counter-trades for newly flagged participants.
func (o *Orchestrator) consumeConfirmations(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-o.tracker.Updates():
			rec := upd.Record
			if !rec.Status.Terminal() {
				o.publish(ctx, "ch:confirmation", map[string]any{
					"event":         "confirmation",
					"operation_id":  rec.OperationID,
					"status":        string(rec.Status),
					"confirmations": rec.Confirmations,
				})
				continue
			}

			o.mu.Lock()
			meta, ok := o.ops[rec.OperationID]
			delete(o.ops, rec.OperationID)
			builder := o.builders[meta.runID]
			o.mu.Unlock()
			if !ok {
				continue
			}

			if builder != nil {
				builder.addConfirmation(rec)
			}
			o.persistTerminal(ctx, meta, rec)

			if rec.Status == domain.StatusFinalized {
				o.observeAndFlag(ctx, meta.intent.FromAddress, rec.UpdatedAt)
				o.observeAndFlag(ctx, meta.intent.ToAddress, rec.UpdatedAt)
			}

			o.publish(ctx, "ch:confirmation", map[string]any{
				"event":        "confirmation",
				"operation_id": rec.OperationID,
				"status":       string(rec.Status),
				"slot":         rec.Slot,
				"from":         meta.intent.FromAddress,
				"to":           meta.intent.ToAddress,
			})
		}
	}
}

// consumeSummaries finalizes reports when runs end, waiting briefly for the
// queue to drain first.
func (o *Orchestrator) consumeSummaries(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case summary := <-o.runner.Done():
			o.finishRun(ctx, summary)
		}
	}
}

// finishRun drains, finalizes, persists, and announces one run's report.
func (o *Orchestrator) finishRun(ctx context.Context, summary pattern.Summary) {
	o.waitForDrain(ctx)

	o.mu.Lock()
	builder := o.builders[summary.RunID]
	delete(o.builders, summary.RunID)
	if o.currentID == summary.RunID {
		o.currentID = ""
	}
	o.mu.Unlock()

	if builder != nil {
		report := builder.finalize(summary)
		if o.runStore != nil {
			if err := o.runStore.Insert(ctx, report); err != nil {
				o.logger.Error("run report persist failed",
					slog.String("run_id", report.RunID),
					slog.String("error", err.Error()),
				)
			}
		}
		o.logger.Info("run report",
			slog.String("run_id", report.RunID),
			slog.String("pattern", report.Pattern),
			slog.Int("submitted", report.Submitted),
			slog.Int("retried", report.Retried),
			slog.Int("dropped", report.Dropped),
			slog.Int("finalized", report.Finalized),
			slog.Int("failed", report.Failed),
		)
		o.notify(ctx, "run_completed", "Run completed",
			fmt.Sprintf("pattern=%s submitted=%d retried=%d dropped=%d finalized=%d failed=%d",
				report.Pattern, report.Submitted, report.Retried, report.Dropped, report.Finalized, report.Failed))
		o.publish(ctx, "ch:run", map[string]any{
			"event": "run_completed", "run_id": report.RunID, "pattern": report.Pattern,
			"submitted": report.Submitted, "dropped": report.Dropped,
		})
	}

	select {
	case o.runDone <- struct{}{}:
	default:
	}
}

// waitForDrain polls the dispatcher until the queue empties or the drain
// timeout elapses.
func (o *Orchestrator) waitForDrain(ctx context.Context) {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		st := o.dispatcher.Status()
		if st.QueueLength == 0 && st.InFlight == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
	o.logger.Warn("drain timeout before report finalization")
}

// observeAndFlag feeds one confirmed participant into the scorer, raising or
// clearing the bot-like flag as the classification changes.
func (o *Orchestrator) observeAndFlag(ctx context.Context, address string, at time.Time) {
	o.scorer.Observe(address, at)
	botLike := o.scorer.Classify(address)

	o.mu.Lock()
	already := o.flagged[address]
	if botLike {
		o.flagged[address] = true
	} else {
		delete(o.flagged, address)
	}
	o.mu.Unlock()

	if !botLike {
		if already {
			o.logger.Info("participant flag cleared", slog.String("address", address))
			if o.flags != nil {
				if err := o.flags.Unflag(ctx, address); err != nil {
					o.logger.Warn("flag cache update failed", slog.String("error", err.Error()))
				}
			}
			o.publish(ctx, "ch:flag", map[string]any{"event": "participant_unflagged", "address": address})
		}
		return
	}
	if already {
		return
	}

	o.logger.Info("participant flagged as bot-like", slog.String("address", address))
	if o.flags != nil {
		if err := o.flags.Flag(ctx, address, o.cfg.FlagTTL); err != nil {
			o.logger.Warn("flag cache update failed", slog.String("error", err.Error()))
		}
	}
	o.notify(ctx, "participant_flagged", "Participant flagged", address)
	o.publish(ctx, "ch:flag", map[string]any{"event": "participant_flagged", "address": address})

	if !o.cfg.CounterTrades || o.policy == nil {
		return
	}
	metrics, err := o.scorer.Metrics(address)
	if err != nil {
		return
	}
	counter := o.policy.CounterIntent(metrics, o.wallets, o.token)
	if counter == nil {
		return
	}

	o.mu.Lock()
	o.intentRun[counter.ID] = o.currentID
	o.mu.Unlock()
	if err := o.dispatcher.Enqueue(*counter); err != nil {
		o.logger.Warn("counter-trade rejected", slog.String("error", err.Error()))
	}
}

// persistTerminal writes one finished operation to the history store.
func (o *Orchestrator) persistTerminal(ctx context.Context, meta opMeta, rec domain.ConfirmationRecord) {
	if o.opStore == nil {
		return
	}
	finalized := rec.UpdatedAt
	err := o.opStore.Insert(ctx, domain.OperationRecord{
		ID:          meta.intent.ID,
		RunID:       meta.runID,
		OperationID: rec.OperationID,
		FromAddress: meta.intent.FromAddress,
		ToAddress:   meta.intent.ToAddress,
		Amount:      meta.intent.Amount,
		Fee:         meta.fee,
		Priority:    meta.intent.Priority.String(),
		Pattern:     meta.intent.Pattern,
		Phase:       meta.intent.Phase,
		Outcome:     string(rec.Status),
		Attempts:    meta.attempts,
		Slot:        rec.Slot,
		Error:       rec.Err,
		SubmittedAt: meta.submittedAt,
		FinalizedAt: &finalized,
	})
	if err != nil {
		o.logger.Error("operation persist failed",
			slog.String("operation_id", rec.OperationID),
			slog.String("error", err.Error()),
		)
	}
}

// persistDropped records an operation that never reached the ledger.
func (o *Orchestrator) persistDropped(ctx context.Context, runID string, out domain.OperationOutcome) {
	if o.opStore == nil {
		return
	}
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	err := o.opStore.Insert(ctx, domain.OperationRecord{
		ID:          out.Intent.ID,
		RunID:       runID,
		FromAddress: out.Intent.FromAddress,
		ToAddress:   out.Intent.ToAddress,
		Amount:      out.Intent.Amount,
		Priority:    out.Intent.Priority.String(),
		Pattern:     out.Intent.Pattern,
		Phase:       out.Intent.Phase,
		Outcome:     "dropped",
		Attempts:    out.Attempts,
		Error:       errText,
		SubmittedAt: out.At,
	})
	if err != nil {
		o.logger.Error("dropped operation persist failed",
			slog.String("intent_id", out.Intent.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) notify(ctx context.Context, event, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, channel string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, channel, data); err != nil {
		o.logger.Debug("event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
