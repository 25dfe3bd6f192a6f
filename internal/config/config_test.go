package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidatePerMode(t *testing.T) {
	for _, mode := range []string{"run", "server", "full"} {
		t.Run(mode, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = mode
			cfg.Token.Mint = "mint-1"
			if err := cfg.Validate(); err != nil {
				t.Fatalf("defaults with a mint must validate for %s: %v", mode, err)
			}
		})
	}

	t.Run("monitor", func(t *testing.T) {
		// Monitor mode never signs, so no mint or wallet pool is needed.
		cfg := Defaults()
		cfg.Mode = "monitor"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("monitor defaults must validate without a mint: %v", err)
		}
	})
}

func TestValidateRequiresMintForEngineModes(t *testing.T) {
	for _, mode := range []string{"run", "server", "full"} {
		cfg := Defaults()
		cfg.Mode = mode
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("mode %s without a mint must fail validation", mode)
		}
		if !strings.Contains(err.Error(), "mint") {
			t.Fatalf("mode %s: expected a mint error, got %v", mode, err)
		}
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "warp"
	cfg.LogLevel = "loud"
	cfg.Ledger.Commitment = "hopeful"
	cfg.Dispatcher.Concurrency = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	for _, fragment := range []string{"mode", "log_level", "commitment", "concurrency", "redis"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("combined error is missing %q: %v", fragment, err)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backoff inversion", func(c *Config) {
			c.Dispatcher.BaseBackoff = duration{time.Second}
			c.Dispatcher.MaxBackoff = duration{time.Millisecond}
		}},
		{"tracker window shorter than poll", func(c *Config) {
			c.Tracker.PollInterval = duration{10 * time.Second}
			c.Tracker.MaxWindow = duration{time.Second}
		}},
		{"zero minimum fee", func(c *Config) { c.Fees.MinimumFee = 0 }},
		{"intensity out of range", func(c *Config) { c.Pattern.Intensity = 11 }},
		{"whale pct out of range", func(c *Config) { c.Pattern.WhaleAllocationPct = 1.5 }},
		{"token decimals out of range", func(c *Config) { c.Token.Decimals = 19 }},
		{"pool min above max", func(c *Config) {
			c.Postgres.PoolMinConns = 20
			c.Postgres.PoolMaxConns = 10
		}},
		{"s3 enabled without bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}},
		{"server port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "monitor"
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "run"
log_level = "debug"

[ledger]
rpc_url = "http://ledger.internal:8899"
request_timeout = "5s"

[token]
mint = "mint-from-file"

[dispatcher]
concurrency = 8
base_backoff = "250ms"

[pattern]
rotation = ["accumulation", "distribution"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Mode != "run" || cfg.LogLevel != "debug" {
		t.Fatalf("top-level fields not applied: %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Ledger.RPCURL != "http://ledger.internal:8899" {
		t.Fatalf("unexpected rpc_url %q", cfg.Ledger.RPCURL)
	}
	if cfg.Ledger.RequestTimeout.Duration != 5*time.Second {
		t.Fatalf("duration strings must parse, got %s", cfg.Ledger.RequestTimeout.Duration)
	}
	if cfg.Dispatcher.Concurrency != 8 || cfg.Dispatcher.BaseBackoff.Duration != 250*time.Millisecond {
		t.Fatalf("dispatcher section not applied: %+v", cfg.Dispatcher)
	}
	if len(cfg.Pattern.Rotation) != 2 || cfg.Pattern.Rotation[0] != "accumulation" {
		t.Fatalf("rotation not applied: %v", cfg.Pattern.Rotation)
	}

	// Untouched sections keep their defaults.
	if cfg.Tracker.PollInterval.Duration != 2*time.Second {
		t.Fatalf("defaults lost during merge: %+v", cfg.Tracker)
	}
	if cfg.Fees.MinimumFee != 5000 {
		t.Fatalf("defaults lost during merge: %+v", cfg.Fees)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTOML(t, `
mode = "run"

[token]
mint = "mint-from-file"

[redis]
addr = "redis-file:6379"
`)

	t.Setenv("TOKENFLOW_TOKEN_MINT", "mint-from-env")
	t.Setenv("TOKENFLOW_REDIS_ADDR", "redis-env:6379")
	t.Setenv("TOKENFLOW_MODE", "monitor")
	t.Setenv("TOKENFLOW_TRACKER_POLL_INTERVAL", "750ms")
	t.Setenv("TOKENFLOW_PATTERN_ROTATION", "macd, rsi_divergence")
	t.Setenv("TOKENFLOW_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Token.Mint != "mint-from-env" {
		t.Fatalf("env must beat the file, got %q", cfg.Token.Mint)
	}
	if cfg.Redis.Addr != "redis-env:6379" {
		t.Fatalf("env must beat the file, got %q", cfg.Redis.Addr)
	}
	if cfg.Mode != "monitor" {
		t.Fatalf("env must beat the file, got %q", cfg.Mode)
	}
	if cfg.Tracker.PollInterval.Duration != 750*time.Millisecond {
		t.Fatalf("duration overrides must parse, got %s", cfg.Tracker.PollInterval.Duration)
	}
	if len(cfg.Pattern.Rotation) != 2 || cfg.Pattern.Rotation[1] != "rsi_divergence" {
		t.Fatalf("list overrides must split and trim, got %v", cfg.Pattern.Rotation)
	}
	if cfg.Server.Enabled {
		t.Fatal("boolean overrides must apply")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "1m30s" {
		t.Fatalf("unexpected round-trip text %q", text)
	}
}
