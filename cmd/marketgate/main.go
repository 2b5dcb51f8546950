package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/agromarket/marketgate/config"
	"github.com/agromarket/marketgate/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	bootstrap.SetLogLevel(cfg.LogLevel)

	logStartupInfo(ctx, logger, &cfg)

	return bootstrap.Run(ctx, &cfg, logger)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting marketgate",
		"addr", cfg.HTTP.Addr,
		"auth_mode", cfg.Auth.Mode,
		"upstream_configured", cfg.Upstream.Enabled(),
		"redis_configured", cfg.Redis.Enabled(),
		"guard_mode", cfg.Auth.GuardMode,
		"strict_anonymous", cfg.Auth.StrictAnonymous,
		"dev", cfg.IsDev)
}
