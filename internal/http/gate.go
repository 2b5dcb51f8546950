package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/agromarket/marketgate/internal/domain/access"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/guard"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/service"
	"github.com/agromarket/marketgate/internal/session"
)

// GateOptions configures the enforcement middleware.
type GateOptions struct {
	Sessions *session.Manager
	// Auth is optional; without it roles are never refreshed from the API.
	Auth    *service.AuthService
	Policy  access.Policy
	Metrics *metrics.AccessRecorder
	Logger  *slog.Logger
}

// Gate holds the three enforcement adapters. Each of them feeds the same
// access.Decide; they differ only in what session view they can see.
type Gate struct {
	sessions *session.Manager
	auth     *service.AuthService
	policy   access.Policy
	metrics  *metrics.AccessRecorder
	logger   *slog.Logger
}

// NewGate creates a Gate.
func NewGate(opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions: opts.Sessions,
		auth:     opts.Auth,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// EdgeGate runs before anything else on every request. It sees only cookies:
// the role comes from the token claims or, when they name none, the user_type
// cookie. An expired token is purged and treated as anonymous. Redirects use
// 307. The bound store travels in the request context so later checkpoints
// observe the purge.
func (g *Gate) EdgeGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category := access.Classify(r.URL.Path)
		if category == access.CategoryAsset {
			next.ServeHTTP(w, r)
			return
		}

		store := g.sessions.Bind(w, r)
		ctx := withStore(r.Context(), store)
		v := guard.Check(g.sessions.Now(), domainauth.Session{
			Token:     store.Token(),
			ExpiresAt: store.Expiry(),
			Role:      store.CookieRole(),
		})
		if v.Expired {
			g.forceLogout(ctx, store, metrics.PointEdge)
		}

		d := access.Decide(access.Input{
			Path:          r.URL.Path,
			Category:      category,
			Authenticated: v.Authenticated,
			Role:          v.Role,
		}, g.policy)
		g.metrics.Decision(metrics.PointEdge, category, d)

		if !d.Allowed() {
			g.logger.DebugContext(ctx, "edge redirect",
				slog.String("path", r.URL.Path),
				slog.String("target", d.Target),
				slog.String("reason", string(d.Reason)))
			http.Redirect(w, r, d.Target, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PageGuard wraps page handlers. It sees the full session, including the
// role cache, re-validates it for the requested path and places the
// resulting validity in the request context. A role found only in the role
// cache is copied into the user_type cookie before deciding, so the edge sees
// the same role on the next request. A session with no role anywhere gets it
// refreshed from the API in the background.
func (g *Gate) PageGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		store := g.bind(w, r)
		g.adoptCachedRole(ctx, store)

		gd, err := guard.New(guard.Options{
			Store:     store,
			Policy:    g.policy,
			Now:       g.sessions.Now,
			Logger:    g.logger,
			OnExpired: func() { g.metrics.ForcedLogout(metrics.PointPage) },
		})
		if err != nil {
			WriteAppError(w, err)
			return
		}

		d := gd.Navigate(ctx, r.URL.Path)
		g.metrics.Decision(metrics.PointPage, access.Classify(r.URL.Path), d)
		if !d.Allowed() {
			http.Redirect(w, r, d.Target, http.StatusSeeOther)
			return
		}

		v := gd.Check(ctx)
		if v.Authenticated && !v.Role.Known() && g.auth != nil {
			g.auth.RefreshRoleAsync(ctx, store.Detached())
		}
		next.ServeHTTP(w, r.WithContext(SetValidityInContext(ctx, v)))
	})
}

// SessionContext is the hook: it computes validity and exposes it to the
// handler without redirecting or writing anything.
func (g *Gate) SessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		v := guard.Check(g.sessions.Now(), g.sessions.Bind(nil, r).Session(ctx))
		next.ServeHTTP(w, r.WithContext(SetValidityInContext(ctx, v)))
	})
}

// bind reuses the store EdgeGate bound for this request, so its writes stay
// visible; handlers mounted without the edge get a fresh one.
func (g *Gate) bind(w http.ResponseWriter, r *http.Request) *session.Store {
	if store, ok := storeFromContext(r.Context()); ok {
		return store
	}
	return g.sessions.Bind(w, r)
}

// adoptCachedRole copies a role held only by the role cache into the
// user_type cookie. Tokens that name a known role are left alone.
func (g *Gate) adoptCachedRole(ctx context.Context, store *session.Store) {
	if store.Token() == "" || store.CookieRole().Known() {
		return
	}
	cache := g.sessions.Cache()
	if cache == nil {
		return
	}
	role, ok, err := cache.Get(ctx, store.Token())
	if err != nil || !ok || !role.Known() {
		return
	}
	if err := store.CacheRole(ctx, role); err != nil {
		g.logger.DebugContext(ctx, "persist cached role", "error", err)
	}
}

func (g *Gate) forceLogout(ctx context.Context, store *session.Store, point string) {
	if err := store.ClearSession(ctx); err != nil {
		g.logger.WarnContext(ctx, "clear expired session", "point", point, "error", err)
	}
	g.metrics.ForcedLogout(point)
}

// expiresInSeconds rounds a remaining lifetime down to whole seconds.
func expiresInSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
