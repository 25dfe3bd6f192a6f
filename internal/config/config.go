// Package config defines the top-level configuration for the tokenflow
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TOKENFLOW_* environment variables.
type Config struct {
	Ledger     LedgerConfig     `toml:"ledger"`
	Token      TokenConfig      `toml:"token"`
	Wallets    WalletsConfig    `toml:"wallets"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Fees       FeesConfig       `toml:"fees"`
	Pattern    PatternConfig    `toml:"pattern"`
	Scorer     ScorerConfig     `toml:"scorer"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// LedgerConfig holds RPC endpoint parameters for the token ledger.
type LedgerConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	Commitment     string   `toml:"commitment"`
	RequestTimeout duration `toml:"request_timeout"`
	// SubmitsPerSecond caps ledger submissions through the shared rate limiter.
	SubmitsPerSecond int `toml:"submits_per_second"`
}

// TokenConfig identifies the traded token.
type TokenConfig struct {
	Mint     string `toml:"mint"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
}

// WalletsConfig points at the wallet pool file. The file is either plain JSON
// or an encrypted blob produced by the keystore; key_password decrypts the
// latter.
type WalletsConfig struct {
	Path        string `toml:"path"`
	KeyPassword string `toml:"key_password"`
}

// DispatcherConfig holds the execution queue parameters.
type DispatcherConfig struct {
	Concurrency int      `toml:"concurrency"`
	RetryLimit  int      `toml:"retry_limit"`
	BaseBackoff duration `toml:"base_backoff"`
	MaxBackoff  duration `toml:"max_backoff"`
}

// TrackerConfig holds confirmation polling parameters.
type TrackerConfig struct {
	PollInterval duration `toml:"poll_interval"`
	MaxWindow    duration `toml:"max_window"`
}

// FeesConfig holds fee estimation parameters.
type FeesConfig struct {
	RefreshInterval duration `toml:"refresh_interval"`
	MinimumFee      uint64   `toml:"minimum_fee"`
}

// PatternConfig holds pattern generation parameters.
type PatternConfig struct {
	TickInterval    duration `toml:"tick_interval"`
	DefaultDuration duration `toml:"default_duration"`
	Intensity       int      `toml:"intensity"`
	// Rotation lists pattern names the full mode cycles through. Empty means
	// every registered pattern in sorted order.
	Rotation []string `toml:"rotation"`
	// BasePrice seeds each pattern's simulated price in display units.
	BasePrice float64 `toml:"base_price"`
	// BaseTradeSize is the nominal per-tick trade size in display units,
	// scaled by intensity and the active phase.
	BaseTradeSize float64 `toml:"base_trade_size"`
	// WhaleAllocationPct bounds the aggregate share assigned to large-role
	// wallets during distribution phases.
	WhaleAllocationPct float64 `toml:"whale_allocation_pct"`
	// CounterTrades enables scorer-driven counter-trades during a run.
	CounterTrades bool `toml:"counter_trades"`
}

// ScorerConfig holds activity-scoring thresholds.
type ScorerConfig struct {
	Window          duration `toml:"window"`
	MinOperations   int      `toml:"min_operations"`
	MaxMeanInterval duration `toml:"max_mean_interval"`
	MinPatternScore float64  `toml:"min_pattern_score"`
	MinVolumeScore  float64  `toml:"min_volume_score"`
	FlagTTL         duration `toml:"flag_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for history archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:           "http://localhost:8899",
			Commitment:       "confirmed",
			RequestTimeout:   duration{15 * time.Second},
			SubmitsPerSecond: 10,
		},
		Token: TokenConfig{
			Symbol:   "TOK",
			Decimals: 9,
		},
		Wallets: WalletsConfig{
			Path: "wallets.json",
		},
		Dispatcher: DispatcherConfig{
			Concurrency: 5,
			RetryLimit:  3,
			BaseBackoff: duration{500 * time.Millisecond},
			MaxBackoff:  duration{8 * time.Second},
		},
		Tracker: TrackerConfig{
			PollInterval: duration{2 * time.Second},
			MaxWindow:    duration{90 * time.Second},
		},
		Fees: FeesConfig{
			RefreshInterval: duration{60 * time.Second},
			MinimumFee:      5000,
		},
		Pattern: PatternConfig{
			TickInterval:       duration{3 * time.Second},
			DefaultDuration:    duration{10 * time.Minute},
			Intensity:          5,
			BasePrice:          1.0,
			BaseTradeSize:      100,
			WhaleAllocationPct: 0.40,
			CounterTrades:      true,
		},
		Scorer: ScorerConfig{
			Window:          duration{30 * time.Minute},
			MinOperations:   10,
			MaxMeanInterval: duration{5 * time.Second},
			MinPatternScore: 0.7,
			MinVolumeScore:  0.5,
			FlagTTL:         duration{time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tokenflow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tokenflow-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"run_started", "run_completed", "operation_dropped", "participant_flagged", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"server":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCommitments enumerates the accepted ledger commitment levels.
var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, server, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if !validCommitments[strings.ToLower(c.Ledger.Commitment)] {
		errs = append(errs, fmt.Sprintf("ledger: unknown commitment %q (valid: processed, confirmed, finalized)", c.Ledger.Commitment))
	}
	if c.Ledger.SubmitsPerSecond < 1 {
		errs = append(errs, "ledger: submits_per_second must be >= 1")
	}

	// Token
	if c.Token.Decimals < 0 || c.Token.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("token: decimals must be 0-18, got %d", c.Token.Decimals))
	}
	needsMint := c.Mode == "run" || c.Mode == "server" || c.Mode == "full"
	if needsMint && c.Token.Mint == "" {
		errs = append(errs, "token: mint must be set for mode "+c.Mode)
	}

	// Wallets
	if needsMint && c.Wallets.Path == "" {
		errs = append(errs, "wallets: path must be set for mode "+c.Mode)
	}

	// Dispatcher
	if c.Dispatcher.Concurrency < 1 {
		errs = append(errs, "dispatcher: concurrency must be >= 1")
	}
	if c.Dispatcher.RetryLimit < 0 {
		errs = append(errs, "dispatcher: retry_limit must be >= 0")
	}
	if c.Dispatcher.BaseBackoff.Duration <= 0 {
		errs = append(errs, "dispatcher: base_backoff must be > 0")
	}
	if c.Dispatcher.MaxBackoff.Duration < c.Dispatcher.BaseBackoff.Duration {
		errs = append(errs, "dispatcher: max_backoff must be >= base_backoff")
	}

	// Tracker
	if c.Tracker.PollInterval.Duration <= 0 {
		errs = append(errs, "tracker: poll_interval must be > 0")
	}
	if c.Tracker.MaxWindow.Duration < c.Tracker.PollInterval.Duration {
		errs = append(errs, "tracker: max_window must be >= poll_interval")
	}

	// Fees
	if c.Fees.RefreshInterval.Duration <= 0 {
		errs = append(errs, "fees: refresh_interval must be > 0")
	}
	if c.Fees.MinimumFee == 0 {
		errs = append(errs, "fees: minimum_fee must be > 0")
	}

	// Pattern
	if c.Pattern.TickInterval.Duration <= 0 {
		errs = append(errs, "pattern: tick_interval must be > 0")
	}
	if c.Pattern.Intensity < 1 || c.Pattern.Intensity > 10 {
		errs = append(errs, fmt.Sprintf("pattern: intensity must be 1-10, got %d", c.Pattern.Intensity))
	}
	if c.Pattern.BasePrice <= 0 {
		errs = append(errs, "pattern: base_price must be > 0")
	}
	if c.Pattern.BaseTradeSize <= 0 {
		errs = append(errs, "pattern: base_trade_size must be > 0")
	}
	if c.Pattern.WhaleAllocationPct <= 0 || c.Pattern.WhaleAllocationPct > 1 {
		errs = append(errs, "pattern: whale_allocation_pct must be in (0, 1]")
	}

	// Scorer
	if c.Scorer.Window.Duration <= 0 {
		errs = append(errs, "scorer: window must be > 0")
	}
	if c.Scorer.MinOperations < 1 {
		errs = append(errs, "scorer: min_operations must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
