package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/agromarket/marketgate/config"
	"github.com/agromarket/marketgate/internal/adapters/authroles"
	"github.com/agromarket/marketgate/internal/adapters/devauth"
	"github.com/agromarket/marketgate/internal/adapters/identityapi"
	"github.com/agromarket/marketgate/internal/adapters/memory"
	redisadapter "github.com/agromarket/marketgate/internal/adapters/redis"
	httpx "github.com/agromarket/marketgate/internal/http"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/ports"
	"github.com/agromarket/marketgate/internal/service"
	"github.com/agromarket/marketgate/internal/session"
)

// AuthDeps contains what BuildAuth needs.
type AuthDeps struct {
	Config *config.AppConfig
	// RedisClient is optional; without it roles are cached in process.
	RedisClient redis.UniversalClient
	Metrics     *metrics.AccessRecorder
	// HTTPClient overrides the identity API client; tests point it at httptest.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AuthComponents is the wired session and sign-in stack.
type AuthComponents struct {
	Service  *service.AuthService
	Sessions *session.Manager
	Cache    ports.RoleCache
	// Upstream is the API behind /api/, nil when none is configured.
	Upstream     *url.URL
	HealthChecks map[string]httpx.HealthCheck
}

// BuildAuth creates the role cache, the authenticator for the configured
// mode, the session manager and the auth service.
func BuildAuth(deps AuthDeps) (AuthComponents, error) {
	if deps.Config == nil {
		return AuthComponents{}, errors.New("auth: config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	roles, err := authroles.NewStaticRoleMapper(cfg.Auth.RoleAliases)
	if err != nil {
		return AuthComponents{}, fmt.Errorf("role aliases: %w", err)
	}

	out := AuthComponents{HealthChecks: map[string]httpx.HealthCheck{}}
	out.Cache = buildRoleCache(deps.RedisClient, cfg.RoleCache)
	if deps.RedisClient != nil {
		client := deps.RedisClient
		out.HealthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	if cfg.Upstream.Enabled() {
		u, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil {
			return AuthComponents{}, fmt.Errorf("parse API_BASE_URL: %w", err)
		}
		out.Upstream = u
	}

	var (
		authn  ports.Authenticator
		lookup ports.RoleLookup
	)
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		role := roles.Map(cfg.Auth.DevAuth.Role)
		if !role.Known() {
			return AuthComponents{}, fmt.Errorf("dev auth: unknown role %q", cfg.Auth.DevAuth.Role)
		}
		issuer, err := devauth.NewIssuer(devauth.Config{
			UserID:          cfg.Auth.DevAuth.UserID,
			Email:           cfg.Auth.DevAuth.Email,
			Role:            string(role),
			Password:        cfg.Auth.DevAuth.Password,
			SigningKey:      []byte(cfg.Auth.DevAuth.SigningKey),
			SessionDuration: cfg.Auth.DevAuth.SessionDuration,
		})
		if err != nil {
			return AuthComponents{}, fmt.Errorf("dev auth: %w", err)
		}
		logger.Warn("mock sign-in enabled; every sign-in becomes the dev identity",
			"user_id", cfg.Auth.DevAuth.UserID,
			"role", string(role))
		authn = issuer

	case config.AuthModeRemote:
		if !cfg.Upstream.Enabled() {
			return AuthComponents{}, errors.New("AUTH_MODE=remote requires API_BASE_URL")
		}
		client, err := identityapi.NewClient(identityapi.Config{
			BaseURL:        cfg.Upstream.BaseURL,
			UsersMePath:    cfg.Upstream.UsersMePath,
			SignInPath:     cfg.Upstream.SignInPath,
			RoleExpression: cfg.Upstream.RoleExpression,
			Timeout:        cfg.Upstream.Timeout,
			Client:         deps.HTTPClient,
			Roles:          roles,
		})
		if err != nil {
			return AuthComponents{}, fmt.Errorf("identity api: %w", err)
		}
		authn = client
		lookup = client

	default:
		return AuthComponents{}, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}

	out.Sessions = session.NewManager(session.Options{
		CookieDomain:  cfg.HTTP.CookieDomain,
		SecureCookies: cfg.HTTP.SecureCookies,
		Lifetime:      cfg.Auth.SessionLifetime,
		Roles:         roles,
		Cache:         out.Cache,
		Logger:        logger,
	})

	svcOpts := service.AuthServiceOptions{
		Authenticator: authn,
		Cache:         out.Cache,
		Roles:         roles,
		LookupTimeout: cfg.Upstream.RoleLookupTimeout,
		Logger:        logger,
	}
	if lookup != nil {
		svcOpts.Lookup = lookup
	}
	if deps.Metrics != nil {
		svcOpts.Metrics = deps.Metrics
	}
	out.Service = service.NewAuthService(svcOpts)

	return out, nil
}

//nolint:ireturn // the cache backend is picked at runtime.
func buildRoleCache(client redis.UniversalClient, cfg config.RoleCacheConfig) ports.RoleCache {
	if client == nil {
		return memory.NewRoleCache(memory.RoleCacheOptions{MaxTTL: cfg.MaxTTL, MaxEntries: cfg.MaxEntries})
	}
	return redisadapter.NewRoleCacheWithPrefix(client, cfg.Prefix, cfg.MaxTTL)
}
