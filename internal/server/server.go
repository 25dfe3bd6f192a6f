// Package server exposes the HTTP + WebSocket control API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/server/handler"
	"github.com/alanyoungcy/tokenflow/internal/server/middleware"
	"github.com/alanyoungcy/tokenflow/internal/server/ws"
)

// apiRateLimit bounds each client IP when a rate limiter is configured.
const (
	apiRateLimit  = 30
	apiRateWindow = time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey empty disables authentication.
	APIKey string
}

// Deps carries everything the server routes against. Every field is
// optional; routes are registered only for what is wired. Monitor mode runs
// without an Engine and serves Flagged from the flag cache.
type Deps struct {
	Engine     handler.Engine
	Flagged    handler.FlaggedSource
	RunStore   domain.RunStore
	Operations domain.OperationStore
	Archives   domain.BlobReader
	Limiter    domain.RateLimiter
	Hub        *ws.Hub
}

// Server is the headless control API for the trading engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check stays unauthenticated so probes work without the key.
	health := handler.NewHealthHandler()
	mux.HandleFunc("GET /api/health", health.HealthCheck)

	if deps.Engine != nil {
		run := handler.NewRunHandler(deps.Engine, logger)
		queue := handler.NewQueueHandler(deps.Engine)
		mux.HandleFunc("POST /api/run/start", run.StartRun)
		mux.HandleFunc("POST /api/run/stop", run.StopRun)
		mux.HandleFunc("GET /api/run/status", run.GetStatus)
		mux.HandleFunc("GET /api/patterns", run.ListPatterns)
		mux.HandleFunc("GET /api/queue/status", queue.GetStatus)
	}

	flagged := deps.Flagged
	if flagged == nil && deps.Engine != nil {
		flagged = deps.Engine
	}
	if flagged != nil {
		participants := handler.NewParticipantHandler(flagged)
		mux.HandleFunc("GET /api/participants/flagged", participants.ListFlagged)
	}

	if deps.RunStore != nil {
		reports := handler.NewReportHandler(deps.RunStore, deps.Operations, logger)
		mux.HandleFunc("GET /api/runs/recent", reports.ListRecent)
		mux.HandleFunc("GET /api/runs/{id}", reports.GetRun)
		if deps.Operations != nil {
			mux.HandleFunc("GET /api/runs/{id}/operations", reports.ListOperations)
		}
	}

	if deps.Archives != nil {
		archives := handler.NewArchiveHandler(deps.Archives, logger)
		mux.HandleFunc("GET /api/archives", archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{key...}", archives.GetArchive)
	}

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	authed := middleware.Auth(cfg.APIKey)(mux)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			mux.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
	if deps.Limiter != nil {
		h = middleware.RateLimit(deps.Limiter, apiRateLimit, apiRateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until an error or Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
