package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tokenflow/internal/blob/s3"
	"github.com/alanyoungcy/tokenflow/internal/cache/redis"
	"github.com/alanyoungcy/tokenflow/internal/config"
	"github.com/alanyoungcy/tokenflow/internal/dispatch"
	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/fees"
	"github.com/alanyoungcy/tokenflow/internal/notify"
	"github.com/alanyoungcy/tokenflow/internal/orchestrator"
	"github.com/alanyoungcy/tokenflow/internal/pattern"
	"github.com/alanyoungcy/tokenflow/internal/platform/ledger"
	"github.com/alanyoungcy/tokenflow/internal/score"
	"github.com/alanyoungcy/tokenflow/internal/store/postgres"
	"github.com/alanyoungcy/tokenflow/internal/track"
	"github.com/alanyoungcy/tokenflow/internal/wallet"
)

// Dependencies bundles everything the application modes operate on. Wire
// constructs it; the returned cleanup tears it down in reverse order.
type Dependencies struct {
	Ledger  domain.LedgerClient
	Wallets domain.WalletRegistry

	Estimator    *fees.Estimator
	Tracker      *track.Tracker
	Dispatcher   *dispatch.Dispatcher
	Runner       *pattern.Runner
	Scorer       *score.Scorer
	Orchestrator *orchestrator.Orchestrator

	OperationStore domain.OperationStore
	RunStore       domain.RunStore

	RateLimiter domain.RateLimiter
	EventBus    domain.EventBus
	FlagCache   domain.FlagCache
	Locks       *redis.LockManager

	Archiver      domain.Archiver
	ArchiveReader domain.BlobReader
	Notifier      *notify.Notifier
}

// needsEngine reports whether the mode generates and dispatches operations.
// Monitor mode only observes.
func needsEngine(mode string) bool {
	switch mode {
	case "run", "server", "full":
		return true
	default:
		return false
	}
}

// Wire builds all concrete implementations from cfg.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.OperationStore = postgres.NewOperationStore(pgClient)
	deps.RunStore = postgres.NewRunStore(pgClient)

	// Redis.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)
	deps.FlagCache = redis.NewFlagCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// S3 archival.
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), deps.OperationStore, deps.RunStore, logger)
		deps.ArchiveReader = s3blob.NewReader(s3Client)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Ledger RPC client and confirmation tracker are common to every mode.
	deps.Ledger = ledger.NewClient(cfg.Ledger.RPCURL, cfg.Token.Mint, cfg.Ledger.RequestTimeout.Duration)
	deps.Tracker = track.NewTracker(deps.Ledger,
		cfg.Tracker.PollInterval.Duration, cfg.Tracker.MaxWindow.Duration, logger)
	deps.Scorer = score.NewScorer(score.Config{
		Window:          cfg.Scorer.Window.Duration,
		MinOperations:   cfg.Scorer.MinOperations,
		MaxMeanInterval: cfg.Scorer.MaxMeanInterval.Duration,
		MinPatternScore: cfg.Scorer.MinPatternScore,
		MinVolumeScore:  cfg.Scorer.MinVolumeScore,
	}, logger)

	if !needsEngine(cfg.Mode) {
		return deps, cleanup, nil
	}

	// Wallet pool, fee estimation, dispatch, and pattern generation.
	registry, err := wallet.Load(cfg.Wallets.Path, cfg.Wallets.KeyPassword)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallets: %w", err)
	}
	deps.Wallets = registry

	token := domain.TokenInfo{
		Mint:     cfg.Token.Mint,
		Symbol:   cfg.Token.Symbol,
		Decimals: cfg.Token.Decimals,
	}

	deps.Estimator = fees.NewEstimator(deps.Ledger,
		cfg.Fees.RefreshInterval.Duration, cfg.Fees.MinimumFee, logger)

	deps.Dispatcher = dispatch.NewDispatcher(
		deps.Ledger, deps.Estimator, deps.Tracker, deps.RateLimiter,
		registry, token,
		dispatch.Config{
			Concurrency:      cfg.Dispatcher.Concurrency,
			RetryLimit:       cfg.Dispatcher.RetryLimit,
			BaseBackoff:      cfg.Dispatcher.BaseBackoff.Duration,
			MaxBackoff:       cfg.Dispatcher.MaxBackoff.Duration,
			Commitment:       domain.Commitment(cfg.Ledger.Commitment),
			SubmitsPerSecond: cfg.Ledger.SubmitsPerSecond,
		},
		logger,
	)

	deps.Runner = pattern.NewRunner(pattern.NewRegistry(), registry, token,
		pattern.RunnerConfig{
			TickInterval:       cfg.Pattern.TickInterval.Duration,
			BasePrice:          cfg.Pattern.BasePrice,
			BaseSize:           cfg.Pattern.BaseTradeSize,
			WhaleAllocationPct: cfg.Pattern.WhaleAllocationPct,
		}, logger)

	orch := orchestrator.New(
		deps.Runner, deps.Dispatcher, deps.Tracker, deps.Scorer,
		orchestrator.NewFixedFractionPolicy(cfg.Pattern.BaseTradeSize),
		registry, token,
		orchestrator.Config{
			CounterTrades:   cfg.Pattern.CounterTrades,
			FlagTTL:         cfg.Scorer.FlagTTL.Duration,
			Rotation:        cfg.Pattern.Rotation,
			DefaultDuration: cfg.Pattern.DefaultDuration.Duration,
			Intensity:       cfg.Pattern.Intensity,
		},
		logger,
	)
	orch.SetStores(deps.OperationStore, deps.RunStore)
	orch.SetFlagCache(deps.FlagCache)
	orch.SetEventBus(deps.EventBus)
	orch.SetNotifier(deps.Notifier)
	deps.Orchestrator = orch

	return deps, cleanup, nil
}
