package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// RunnerConfig carries the generation defaults shared by every run.
type RunnerConfig struct {
	TickInterval       time.Duration
	BasePrice          float64
	BaseSize           float64
	WhaleAllocationPct float64
}

// Summary describes one finished run from the generation side.
type Summary struct {
	RunID      string
	Pattern    string
	Intensity  int
	StartedAt  time.Time
	FinishedAt time.Time
	Ticks      int // ticks that produced an intent
	Skipped    int // ticks skipped (empty role, emission races)
	Stopped    bool
}

// Runner owns the tick scheduler for pattern runs. At most one run is active
// at a time; the lifecycle is Idle -> Running -> Stopping -> Idle, and Stop
// is a single observable state transition that halts intent generation
// immediately without touching already-enqueued operations.
type Runner struct {
	registry *Registry
	wallets  domain.WalletRegistry
	token    domain.TokenInfo
	cfg      RunnerConfig
	logger   *slog.Logger

	mu        sync.Mutex
	phase     domain.RunPhase
	runID     string
	pat       Pattern
	patName   string
	intensity int
	startedAt time.Time
	duration  time.Duration
	cancel    context.CancelFunc

	intents chan domain.TradeIntent
	done    chan Summary
}

// NewRunner creates a Runner. Intent and summary channels are buffered; the
// orchestrator is expected to consume both.
func NewRunner(registry *Registry, wallets domain.WalletRegistry, token domain.TokenInfo, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 3 * time.Second
	}
	return &Runner{
		registry: registry,
		wallets:  wallets,
		token:    token,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pattern_runner")),
		phase:    domain.RunIdle,
		intents:  make(chan domain.TradeIntent, 64),
		done:     make(chan Summary, 4),
	}
}

// Intents returns the stream of generated trade intents.
func (r *Runner) Intents() <-chan domain.TradeIntent {
	return r.intents
}

// Done returns the stream of run summaries, one per finished run.
func (r *Runner) Done() <-chan Summary {
	return r.done
}

// Patterns returns the names of all runnable patterns in sorted order.
func (r *Runner) Patterns() []string {
	return r.registry.List()
}

// Start begins a new run. It returns domain.ErrRunActive when a run is
// already in progress. The run outlives the caller's context; it ends when
// the duration elapses or Stop or Close is called, so a run started from an
// HTTP handler keeps ticking after the response is written.
func (r *Runner) Start(ctx context.Context, patternName string, duration time.Duration, intensity int) (string, error) {
	if duration <= 0 {
		return "", fmt.Errorf("runner: duration must be > 0")
	}
	totalTicks := int(duration / r.cfg.TickInterval)
	if totalTicks < 1 {
		return "", fmt.Errorf("runner: duration %s is shorter than one tick (%s)", duration, r.cfg.TickInterval)
	}

	pat, err := r.registry.New(patternName)
	if err != nil {
		return "", fmt.Errorf("runner: %w", err)
	}
	err = pat.Init(Params{
		Wallets:            r.wallets,
		Token:              r.token,
		TotalTicks:         totalTicks,
		Intensity:          intensity,
		BasePrice:          r.cfg.BasePrice,
		BaseSize:           r.cfg.BaseSize,
		WhaleAllocationPct: r.cfg.WhaleAllocationPct,
		Rand:               rand.New(rand.NewSource(time.Now().UnixNano())),
	})
	if err != nil {
		return "", fmt.Errorf("runner: init %s: %w", patternName, err)
	}

	r.mu.Lock()
	if r.phase != domain.RunIdle {
		r.mu.Unlock()
		return "", domain.ErrRunActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runID := uuid.New().String()
	r.phase = domain.RunRunning
	r.runID = runID
	r.pat = pat
	r.patName = patternName
	r.intensity = intensity
	r.startedAt = time.Now().UTC()
	r.duration = duration
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Info("run started",
		slog.String("run_id", runID),
		slog.String("pattern", patternName),
		slog.Duration("duration", duration),
		slog.Int("intensity", intensity),
		slog.Int("total_ticks", totalTicks),
	)

	go r.loop(runCtx, runID, pat, totalTicks)
	return runID, nil
}

// Stop halts intent generation for the active run. Already-enqueued and
// in-flight operations are unaffected. It returns domain.ErrNoRunActive when
// nothing is running.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.phase != domain.RunRunning {
		r.mu.Unlock()
		return domain.ErrNoRunActive
	}
	r.phase = domain.RunStopping
	cancel := r.cancel
	r.mu.Unlock()

	r.logger.Info("run stop requested")
	cancel()
	return nil
}

// Close cancels the active run, if any. Intended for shutdown; safe to call
// while idle.
func (r *Runner) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns the externally visible run snapshot.
func (r *Runner) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := domain.RunStatus{Phase: r.phase}
	if r.phase == domain.RunIdle {
		return st
	}
	st.Running = r.phase == domain.RunRunning
	st.RunID = r.runID
	st.CurrentPattern = r.patName
	st.Intensity = r.intensity
	st.StartedAt = r.startedAt
	if remaining := r.duration - time.Since(r.startedAt); remaining > 0 {
		st.Remaining = remaining
	}
	return st
}

// Price returns the active pattern's simulated price, or zero when idle.
func (r *Runner) Price() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pat == nil {
		return 0
	}
	return r.pat.Price()
}

// loop drives one run tick by tick until the budget is spent or the run
// context is cancelled.
func (r *Runner) loop(ctx context.Context, runID string, pat Pattern, totalTicks int) {
	summary := Summary{
		RunID:     runID,
		Pattern:   pat.Name(),
		Intensity: r.intensity,
		StartedAt: time.Now().UTC(),
	}

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for tick := 0; tick < totalTicks; tick++ {
		select {
		case <-ctx.Done():
			summary.Stopped = true
			r.finish(summary)
			return
		case <-ticker.C:
		}

		intent, err := pat.Tick(tick)
		if err != nil {
			summary.Skipped++
			r.logger.Warn("tick skipped",
				slog.String("run_id", runID),
				slog.Int("tick", tick),
				slog.String("error", err.Error()),
			)
			continue
		}
		if intent == nil {
			summary.Skipped++
			continue
		}

		select {
		case r.intents <- *intent:
			summary.Ticks++
		case <-ctx.Done():
			summary.Stopped = true
			r.finish(summary)
			return
		}
	}
	r.finish(summary)
}

// finish resets the lifecycle to Idle and publishes the summary.
func (r *Runner) finish(summary Summary) {
	summary.FinishedAt = time.Now().UTC()

	r.mu.Lock()
	r.phase = domain.RunIdle
	r.pat = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("run finished",
		slog.String("run_id", summary.RunID),
		slog.String("pattern", summary.Pattern),
		slog.Int("ticks", summary.Ticks),
		slog.Int("skipped", summary.Skipped),
		slog.Bool("stopped", summary.Stopped),
	)

	select {
	case r.done <- summary:
	default:
		r.logger.Warn("summary dropped, consumer not keeping up",
			slog.String("run_id", summary.RunID),
		)
	}
}
