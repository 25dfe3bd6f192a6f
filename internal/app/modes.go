package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/server"
	"github.com/alanyoungcy/tokenflow/internal/server/handler"
	"github.com/alanyoungcy/tokenflow/internal/server/ws"
)

// archiveSweepInterval is how often full/run modes check for aged history.
const archiveSweepInterval = 6 * time.Hour

// RunMode drives the engine with pattern rotation and no HTTP surface.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	g.Go(func() error { return deps.Orchestrator.Rotate(ctx) })
	a.startArchiveLoop(ctx, g, deps)

	err := g.Wait()
	a.drainEngine(deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServerMode runs the engine with runs driven only through the HTTP API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	a.startServer(ctx, g, deps, deps.Orchestrator, nil)

	err := g.Wait()
	a.drainEngine(deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// MonitorMode observes without generating: it feeds the scorer from
// confirmation events on the bus and serves the read-only API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scoreFromBus(ctx, deps) })
	a.startServer(ctx, g, deps, nil, &flagCacheSource{cache: deps.FlagCache, logger: a.logger})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// FullMode runs everything: rotation, the HTTP API, and archival sweeps.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	g.Go(func() error { return deps.Orchestrator.Rotate(ctx) })
	a.startServer(ctx, g, deps, deps.Orchestrator, nil)
	a.startArchiveLoop(ctx, g, deps)

	err := g.Wait()
	a.drainEngine(deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drainEngine ends the active run, if any, and waits out the confirmation
// pollers. Runs are not bound to the mode context, so shutdown has to stop
// them explicitly.
func (a *App) drainEngine(deps *Dependencies) {
	deps.Runner.Close()
	if n := deps.Tracker.Pending(); n > 0 {
		a.logger.Info("waiting for pending confirmations", slog.Int("pending", n))
	}
	deps.Tracker.Wait()
}

// startEngine launches the dispatcher and orchestrator loops after a wallet
// funding check.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	a.checkFunding(ctx, deps)
	g.Go(func() error { return deps.Dispatcher.Run(ctx) })
	g.Go(func() error { return deps.Orchestrator.Run(ctx) })
}

// checkFunding warns about unfunded wallets up front so a run does not burn
// its retry budget on insufficient-balance errors.
func (a *App) checkFunding(ctx context.Context, deps *Dependencies) {
	for _, w := range deps.Wallets.All() {
		balance, err := deps.Ledger.Balance(ctx, w.Address)
		if err != nil {
			a.logger.Warn("balance check failed",
				slog.String("address", w.Address),
				slog.String("error", err.Error()),
			)
			continue
		}
		if balance == 0 {
			a.logger.Warn("wallet holds no tokens",
				slog.String("address", w.Address),
				slog.String("role", string(w.Role)),
			)
		}
	}
}

// startServer launches the HTTP API and the WebSocket hub when the server is
// enabled in configuration.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engine handler.Engine, flagged handler.FlaggedSource) {
	if !a.cfg.Server.Enabled {
		return
	}

	hub := ws.NewHub(deps.EventBus, a.cfg.Mode, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Deps{
		Engine:     engine,
		Flagged:    flagged,
		RunStore:   deps.RunStore,
		Operations: deps.OperationStore,
		Archives:   deps.ArchiveReader,
		Limiter:    deps.RateLimiter,
		Hub:        hub,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiveLoop sweeps aged history to blob storage on a fixed cadence,
// under a lock so concurrent deployments do not double-archive.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := a.cfg.S3.RetentionDays

	g.Go(func() error {
		ticker := time.NewTicker(archiveSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.archiveOnce(ctx, deps, retention)
			}
		}
	})
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, retention int) {
	unlock, err := deps.Locks.Acquire(ctx, "archive", 10*time.Minute)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			a.logger.Warn("archive lock failed", slog.String("error", err.Error()))
		}
		return
	}
	defer unlock()

	count, err := deps.Archiver.Archive(ctx, retention)
	if err != nil {
		a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		a.logger.Info("archived history", slog.Int("records", count))
	}
}

// confirmationEvent is the bus payload monitor mode scores from.
type confirmationEvent struct {
	Status string `json:"status"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// scoreFromBus feeds the scorer from finalized confirmations published by an
// engine instance sharing the same Redis.
func (a *App) scoreFromBus(ctx context.Context, deps *Dependencies) error {
	events, err := deps.EventBus.Subscribe(ctx, "ch:confirmation")
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev confirmationEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			if ev.Status != string(domain.StatusFinalized) || ev.From == "" {
				continue
			}

			now := time.Now().UTC()
			for _, addr := range []string{ev.From, ev.To} {
				if addr == "" {
					continue
				}
				deps.Scorer.Observe(addr, now)
				if deps.Scorer.Classify(addr) {
					if err := deps.FlagCache.Flag(ctx, addr, a.cfg.Scorer.FlagTTL.Duration); err != nil {
						a.logger.Warn("flag cache update failed", slog.String("error", err.Error()))
					}
				}
			}
		}
	}
}
