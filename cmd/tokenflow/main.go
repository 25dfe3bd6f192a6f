// Command tokenflow runs the synthetic token trading engine. It loads and
// validates configuration, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/tokenflow/internal/app"
	"github.com/alanyoungcy/tokenflow/internal/config"
	"github.com/alanyoungcy/tokenflow/internal/wallet"
)

// encryptedPoolSuffix is appended to the plaintext path by -encrypt-wallets.
const encryptedPoolSuffix = ".enc"

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (run, server, monitor, full)")
	encryptWallets := flag.String("encrypt-wallets", "",
		"encrypt the plaintext wallet pool at the given path with the configured key password, write <path>.enc, and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if *encryptWallets != "" {
		if err := encryptPoolFile(*encryptWallets, cfg.Wallets.KeyPassword); err != nil {
			logger.Error("failed to encrypt wallet pool", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted wallet pool written",
			slog.String("path", *encryptWallets+encryptedPoolSuffix))
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("tokenflow starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("tokenflow stopped")
}

// encryptPoolFile encrypts the plaintext wallet pool at path and writes the
// blob next to the original, leaving the plaintext for the operator to shred.
func encryptPoolFile(path, password string) error {
	plain, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	blob, err := wallet.EncryptPool(plain, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path+encryptedPoolSuffix, blob, 0o600)
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
