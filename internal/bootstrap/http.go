package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/agromarket/marketgate/config"
	"github.com/agromarket/marketgate/internal/domain/access"
	"github.com/agromarket/marketgate/internal/guard"
	httpx "github.com/agromarket/marketgate/internal/http"
	"github.com/agromarket/marketgate/internal/service"
)

// HTTPHandlerConfig contains what BuildHTTPHandler needs.
type HTTPHandlerConfig struct {
	Config        *config.AppConfig
	Auth          AuthComponents
	Observability ObservabilityContainer
	// UpstreamTransport overrides the /api/ proxy transport.
	UpstreamTransport http.RoundTripper
	// Streams is cancelled on shutdown to close open /auth/watch streams.
	Streams context.Context
	Logger  *slog.Logger
}

// BuildHTTPHandler builds the router and wraps it in the middleware chain.
// Order: RequestID -> Recover -> Logging -> Instrument -> Compression -> Router.
func BuildHTTPHandler(cfg HTTPHandlerConfig) (http.Handler, error) {
	if cfg.Config == nil {
		return nil, errors.New("http: config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	router, err := httpx.NewRouter(httpx.RouterServices{
		Sessions: cfg.Auth.Sessions,
		Auth:     cfg.Auth.Service,
		Policy: access.Policy{
			StrictAnonymous:    appCfg.Auth.StrictAnonymous,
			ConfineRolesToHome: appCfg.Auth.ConfineRolesToHome,
		},
		GuardMode:         guard.ParseMode(appCfg.Auth.GuardMode),
		GuardInterval:     appCfg.Auth.GuardInterval,
		Heartbeat:         appCfg.Auth.WatchHeartbeat,
		Streams:           cfg.Streams,
		Upstream:          cfg.Auth.Upstream,
		UpstreamTransport: cfg.UpstreamTransport,
		Metrics:           cfg.Observability.Recorder,
		HideMetrics:       !appCfg.Observability.Prometheus.Enabled,
		HealthChecks:      cfg.Auth.HealthChecks,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	// Compression sits innermost so logging and metrics see the final status.
	h := router
	if appCfg.HTTP.CompressionEnabled {
		logger.Info("HTTP compression enabled", "level", appCfg.HTTP.CompressionLevel)
		h = httpx.Compression(httpx.CompressionConfig{Level: appCfg.HTTP.CompressionLevel, Logger: logger})(h)
	}
	h = httpx.Instrument(cfg.Observability.Recorder)(h)
	h = httpx.Logging(logger)(h)
	h = httpx.Recover(logger)(h)
	h = httpx.RequestID()(h)

	return h, nil
}

// NewServer creates the HTTP server.
func NewServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Server *http.Server
	// Auth, when set, is drained of background role refreshes.
	Auth    *service.AuthService
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server and waits for
// in-flight role refreshes. ctx should not already be cancelled.
func ShutdownHTTPServer(ctx context.Context, cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if cfg.Auth != nil {
		// Refreshes get their own deadline; a slow drain must not eat it.
		waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
		defer cancelWait()
		if err := cfg.Auth.Wait(waitCtx); err != nil {
			errs = append(errs, fmt.Errorf("wait for role refreshes: %w", err))
		}
	}
	if len(errs) == 0 {
		logger.Info("HTTP server stopped")
	}
	return errors.Join(errs...)
}

// ServeConfig contains what Serve needs.
type ServeConfig struct {
	Server *http.Server
	// Listener is optional; when nil the server listens on Server.Addr.
	Listener net.Listener
	Auth     *service.AuthService
	// OnShutdown runs when shutdown starts, before waiting on active
	// connections. Use it to end long-lived streams.
	OnShutdown      func()
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}
