package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agromarket/marketgate/internal/domain/access"
	"github.com/agromarket/marketgate/internal/guard"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/service"
	"github.com/agromarket/marketgate/internal/session"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Sessions *session.Manager
	Auth     *service.AuthService
	Policy   access.Policy

	GuardMode     guard.Mode
	GuardInterval time.Duration
	Heartbeat     time.Duration
	// Streams, when done, closes every open /auth/watch stream.
	Streams context.Context

	// Upstream is the marketplace API behind /api/. Nil disables the proxy.
	Upstream          *url.URL
	UpstreamTransport http.RoundTripper

	Metrics *metrics.AccessRecorder
	// HideMetrics keeps /metrics off the mux while the recorder still counts.
	HideMetrics  bool
	HealthChecks map[string]HealthCheck
	// Renderer defaults to the embedded templates.
	Renderer *TemplateRenderer
	Logger   *slog.Logger
}

// NewRouter builds the mux and wraps it in the edge gate.
func NewRouter(s RouterServices) (http.Handler, error) {
	if s.Sessions == nil {
		return nil, errors.New("router: session manager is required")
	}
	if s.Auth == nil {
		return nil, errors.New("router: auth service is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := s.Renderer
	if renderer == nil {
		r, err := NewTemplateRenderer(TemplateRendererConfig{Logger: logger})
		if err != nil {
			return nil, err
		}
		renderer = r
	}

	gate := NewGate(GateOptions{
		Sessions: s.Sessions,
		Auth:     s.Auth,
		Policy:   s.Policy,
		Metrics:  s.Metrics,
		Logger:   logger,
	})
	authHandlers := &AuthHandlers{
		Svc:      s.Auth,
		Sessions: s.Sessions,
		Renderer: renderer,
		Policy:   s.Policy,
		Logger:   logger,
	}
	pages := &PageHandlers{Renderer: renderer}
	watch := &WatchHandler{
		Streams:   s.Streams,
		Sessions:  s.Sessions,
		Mode:      s.GuardMode,
		Interval:  s.GuardInterval,
		Heartbeat: s.Heartbeat,
		Policy:    s.Policy,
		Metrics:   s.Metrics,
		Logger:    logger,
	}

	mux := http.NewServeMux()

	health := healthHandler(s.HealthChecks)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)
	if !s.HideMetrics {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	mux.Handle("GET /static/", StaticHandler())
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := registerAPIRoutes(mux, s, logger); err != nil {
		return nil, err
	}
	registerAuthRoutes(mux, gate, authHandlers, watch)
	registerPageRoutes(mux, gate, pages)

	return gate.EdgeGate(mux), nil
}

func registerAPIRoutes(mux *http.ServeMux, s RouterServices, logger *slog.Logger) error {
	if s.Upstream == nil {
		mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
			WriteError(w, ErrorParams{
				Code:    http.StatusServiceUnavailable,
				ErrCode: "upstream_not_configured",
				Err:     errors.New("marketplace API is not configured"),
			})
		})
		return nil
	}
	proxy, err := NewAPIProxy(APIProxyOptions{
		Target:    s.Upstream,
		Sessions:  s.Sessions,
		Transport: s.UpstreamTransport,
		Metrics:   s.Metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	mux.Handle("/api/", proxy)
	return nil
}

func registerAuthRoutes(mux *http.ServeMux, gate *Gate, h *AuthHandlers, watch *WatchHandler) {
	mux.Handle("GET /signin", gate.PageGuard(http.HandlerFunc(h.SignInPage)))
	mux.HandleFunc("POST /signin", h.SignIn)
	mux.Handle("GET /signup", gate.PageGuard(http.HandlerFunc(h.SignUpPage)))
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/logout", h.Logout)
	mux.Handle("GET /auth/session", gate.SessionContext(http.HandlerFunc(h.Session)))
	mux.Handle("GET /auth/watch", watch)
}

func registerPageRoutes(mux *http.ServeMux, gate *Gate, h *PageHandlers) {
	mux.Handle("GET /404", gate.PageGuard(h.Error(http.StatusNotFound)))
	mux.Handle("GET /500", gate.PageGuard(h.Error(http.StatusInternalServerError)))
	mux.Handle("GET /error", gate.PageGuard(h.Error(http.StatusInternalServerError)))
	// Everything else is a dashboard area: admin by default, role areas by
	// prefix. No method in the pattern so it stays less specific than "/api/".
	mux.Handle("/", readOnly(gate.PageGuard(http.HandlerFunc(h.Area))))
}

// readOnly rejects anything but GET and HEAD.
func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			WriteError(w, ErrorParams{Code: http.StatusMethodNotAllowed, ErrCode: "method_not_allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
