package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TOKENFLOW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TOKENFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "TOKENFLOW_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.Commitment, "TOKENFLOW_LEDGER_COMMITMENT")
	setDuration(&cfg.Ledger.RequestTimeout, "TOKENFLOW_LEDGER_REQUEST_TIMEOUT")
	setInt(&cfg.Ledger.SubmitsPerSecond, "TOKENFLOW_LEDGER_SUBMITS_PER_SECOND")

	// ── Token ──
	setStr(&cfg.Token.Mint, "TOKENFLOW_TOKEN_MINT")
	setStr(&cfg.Token.Symbol, "TOKENFLOW_TOKEN_SYMBOL")
	setInt(&cfg.Token.Decimals, "TOKENFLOW_TOKEN_DECIMALS")

	// ── Wallets ──
	setStr(&cfg.Wallets.Path, "TOKENFLOW_WALLETS_PATH")
	setStr(&cfg.Wallets.KeyPassword, "TOKENFLOW_WALLETS_KEY_PASSWORD")

	// ── Dispatcher ──
	setInt(&cfg.Dispatcher.Concurrency, "TOKENFLOW_DISPATCHER_CONCURRENCY")
	setInt(&cfg.Dispatcher.RetryLimit, "TOKENFLOW_DISPATCHER_RETRY_LIMIT")
	setDuration(&cfg.Dispatcher.BaseBackoff, "TOKENFLOW_DISPATCHER_BASE_BACKOFF")
	setDuration(&cfg.Dispatcher.MaxBackoff, "TOKENFLOW_DISPATCHER_MAX_BACKOFF")

	// ── Tracker ──
	setDuration(&cfg.Tracker.PollInterval, "TOKENFLOW_TRACKER_POLL_INTERVAL")
	setDuration(&cfg.Tracker.MaxWindow, "TOKENFLOW_TRACKER_MAX_WINDOW")

	// ── Fees ──
	setDuration(&cfg.Fees.RefreshInterval, "TOKENFLOW_FEES_REFRESH_INTERVAL")
	setUint64(&cfg.Fees.MinimumFee, "TOKENFLOW_FEES_MINIMUM_FEE")

	// ── Pattern ──
	setDuration(&cfg.Pattern.TickInterval, "TOKENFLOW_PATTERN_TICK_INTERVAL")
	setDuration(&cfg.Pattern.DefaultDuration, "TOKENFLOW_PATTERN_DEFAULT_DURATION")
	setInt(&cfg.Pattern.Intensity, "TOKENFLOW_PATTERN_INTENSITY")
	setStringSlice(&cfg.Pattern.Rotation, "TOKENFLOW_PATTERN_ROTATION")
	setFloat64(&cfg.Pattern.BasePrice, "TOKENFLOW_PATTERN_BASE_PRICE")
	setFloat64(&cfg.Pattern.BaseTradeSize, "TOKENFLOW_PATTERN_BASE_TRADE_SIZE")
	setFloat64(&cfg.Pattern.WhaleAllocationPct, "TOKENFLOW_PATTERN_WHALE_ALLOCATION_PCT")
	setBool(&cfg.Pattern.CounterTrades, "TOKENFLOW_PATTERN_COUNTER_TRADES")

	// ── Scorer ──
	setDuration(&cfg.Scorer.Window, "TOKENFLOW_SCORER_WINDOW")
	setInt(&cfg.Scorer.MinOperations, "TOKENFLOW_SCORER_MIN_OPERATIONS")
	setDuration(&cfg.Scorer.MaxMeanInterval, "TOKENFLOW_SCORER_MAX_MEAN_INTERVAL")
	setFloat64(&cfg.Scorer.MinPatternScore, "TOKENFLOW_SCORER_MIN_PATTERN_SCORE")
	setFloat64(&cfg.Scorer.MinVolumeScore, "TOKENFLOW_SCORER_MIN_VOLUME_SCORE")
	setDuration(&cfg.Scorer.FlagTTL, "TOKENFLOW_SCORER_FLAG_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TOKENFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TOKENFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TOKENFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TOKENFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TOKENFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TOKENFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TOKENFLOW_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TOKENFLOW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TOKENFLOW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TOKENFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TOKENFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TOKENFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TOKENFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TOKENFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TOKENFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TOKENFLOW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TOKENFLOW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TOKENFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TOKENFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "TOKENFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TOKENFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TOKENFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TOKENFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TOKENFLOW_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "TOKENFLOW_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TOKENFLOW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TOKENFLOW_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TOKENFLOW_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TOKENFLOW_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TOKENFLOW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TOKENFLOW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TOKENFLOW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TOKENFLOW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TOKENFLOW_MODE")
	setStr(&cfg.LogLevel, "TOKENFLOW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
