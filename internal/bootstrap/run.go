package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agromarket/marketgate/config"
)

// Serve runs the server until ctx is done or the listener fails, then shuts
// it down gracefully.
func Serve(ctx context.Context, cfg ServeConfig) error {
	if cfg.Server == nil {
		return errors.New("serve: server is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.OnShutdown != nil {
		cfg.Server.RegisterOnShutdown(cfg.OnShutdown)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Listener != nil {
			logger.Info("starting HTTP server", "addr", cfg.Listener.Addr().String())
			err = cfg.Server.Serve(cfg.Listener)
		} else {
			logger.Info("starting HTTP server", "addr", cfg.Server.Addr)
			err = cfg.Server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return ShutdownHTTPServer(context.WithoutCancel(ctx), ShutdownConfig{
			Server:  cfg.Server,
			Auth:    cfg.Auth,
			Timeout: cfg.ShutdownTimeout,
			Logger:  logger,
		})
	})
	return g.Wait()
}

// Run wires every component from cfg and serves until SIGINT or SIGTERM.
func Run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("run: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := connectOptionalRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("close redis failed", "error", err)
			}
		}()
	}

	obs, err := BuildObservability(logger, cfg.Observability)
	if err != nil {
		return fmt.Errorf("build observability: %w", err)
	}
	defer func() {
		if err := obs.Close(); err != nil {
			logger.Warn("close statsd failed", "error", err)
		}
	}()

	auth, err := BuildAuth(AuthDeps{
		Config:      cfg,
		RedisClient: redisClient,
		Metrics:     obs.Recorder,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	streams, closeStreams := context.WithCancel(context.WithoutCancel(ctx))
	defer closeStreams()

	handler, err := BuildHTTPHandler(HTTPHandlerConfig{
		Config:        cfg,
		Auth:          auth,
		Observability: obs,
		Streams:       streams,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	return Serve(ctx, ServeConfig{
		Server:          NewServer(cfg.HTTP, handler),
		Auth:            auth.Service,
		OnShutdown:      closeStreams,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          logger,
	})
}

// connectOptionalRedis returns nil when Redis is not configured or not
// reachable; the role cache then lives in process.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectOptionalRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) redis.UniversalClient {
	if !cfg.Enabled() {
		logger.InfoContext(ctx, "redis not configured, caching roles in process")
		return nil
	}
	client, err := ConnectRedis(ctx, RedisConnectConfig{Redis: cfg, Logger: logger})
	if err != nil {
		logger.WarnContext(ctx, "redis unavailable, caching roles in process", "error", err)
		return nil
	}
	return client
}
