package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/session"
)

// APIProxyOptions configures NewAPIProxy.
type APIProxyOptions struct {
	Target    *url.URL
	Sessions  *session.Manager
	Transport http.RoundTripper
	Metrics   *metrics.AccessRecorder
	Logger    *slog.Logger
}

// APIProxy forwards /api/ to the marketplace API. The browser's cookie
// session becomes an Authorization header; cookies never travel upstream
// and upstream Set-Cookie headers never reach the browser.
type APIProxy struct {
	sessions *session.Manager
	proxy    *httputil.ReverseProxy
}

type authHeaderKey struct{}

// NewAPIProxy creates the proxy.
func NewAPIProxy(opts APIProxyOptions) (*APIProxy, error) {
	if opts.Target == nil || opts.Target.Host == "" {
		return nil, errors.New("api proxy: upstream URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	target := opts.Target
	rec := opts.Metrics

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
			if h, _ := pr.In.Context().Value(authHeaderKey{}).(string); h != "" {
				pr.Out.Header.Set("Authorization", h)
			}
			if id := RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(RequestIDHeader, id)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			rec.UpstreamError("proxy", err)
			logger.WarnContext(r.Context(), "api proxy failed",
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			WriteError(w, ErrorParams{
				Code:    http.StatusBadGateway,
				ErrCode: "upstream_unavailable",
				Err:     errors.New("marketplace API is unavailable"),
			})
		},
		Transport: opts.Transport,
	}

	return &APIProxy{sessions: opts.Sessions, proxy: rp}, nil
}

// ServeHTTP proxies one request. Expired sessions are forwarded without credentials.
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	store := p.sessions.Bind(nil, r)
	sess := domainauth.Session{
		Token:     store.Token(),
		TokenType: store.TokenType(),
		ExpiresAt: store.Expiry(),
	}
	ctx := r.Context()
	if sess.Authenticated(p.sessions.Now()) {
		ctx = context.WithValue(ctx, authHeaderKey{}, sess.AuthorizationHeader())
	}
	p.proxy.ServeHTTP(w, r.WithContext(ctx))
}
