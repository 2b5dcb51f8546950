package httpx

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agromarket/marketgate/internal/adapters/devauth"
	"github.com/agromarket/marketgate/internal/adapters/memory"
	"github.com/agromarket/marketgate/internal/domain/access"
	"github.com/agromarket/marketgate/internal/observability/metrics"
	"github.com/agromarket/marketgate/internal/ports"
	"github.com/agromarket/marketgate/internal/service"
	"github.com/agromarket/marketgate/internal/session"
	"github.com/agromarket/marketgate/internal/testutil"
)

const testPassword = "correct horse"

type testEnv struct {
	sessions *session.Manager
	cache    *memory.RoleCache
	auth     *service.AuthService
	metrics  *metrics.AccessRecorder
	renderer *TemplateRenderer
	gate     *Gate
}

type envOptions struct {
	Policy access.Policy
	Lookup ports.RoleLookup
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	cache := memory.NewRoleCache(memory.RoleCacheOptions{})
	sessions := session.NewManager(session.Options{Cache: cache})

	issuer, err := devauth.NewIssuer(devauth.Config{
		UserID:     "dev-farmer",
		Email:      "farmer@example.com",
		Role:       "farmer",
		Password:   testPassword,
		SigningKey: testutil.TestSigningKey,
	})
	require.NoError(t, err)

	rec, err := metrics.NewAccessRecorder(metrics.Options{})
	require.NoError(t, err)

	auth := service.NewAuthService(service.AuthServiceOptions{
		Authenticator: issuer,
		Lookup:        opts.Lookup,
		Cache:         cache,
		LookupTimeout: time.Second,
		Metrics:       rec,
	})

	renderer, err := NewTemplateRenderer(TemplateRendererConfig{})
	require.NoError(t, err)

	return &testEnv{
		sessions: sessions,
		cache:    cache,
		auth:     auth,
		metrics:  rec,
		renderer: renderer,
		gate: NewGate(GateOptions{
			Sessions: sessions,
			Auth:     auth,
			Policy:   opts.Policy,
			Metrics:  rec,
		}),
	}
}

func (e *testEnv) router(t *testing.T, mutate func(*RouterServices)) http.Handler {
	t.Helper()
	s := RouterServices{
		Sessions:      e.sessions,
		Auth:          e.auth,
		GuardInterval: 10 * time.Millisecond,
		Heartbeat:     time.Hour,
		Metrics:       e.metrics,
		Renderer:      e.renderer,
	}
	if mutate != nil {
		mutate(&s)
	}
	h, err := NewRouter(s)
	require.NoError(t, err)
	return h
}

// sessionCookies builds the cookies a signed-in browser sends.
func sessionCookies(token string, expiresAt time.Time) []*http.Cookie {
	cookies := []*http.Cookie{
		{Name: session.CookieAccessToken, Value: token},
		{Name: session.CookieTokenType, Value: "Bearer"},
	}
	if !expiresAt.IsZero() {
		cookies = append(cookies, &http.Cookie{
			Name:  session.CookieExpiresAt,
			Value: strconv.FormatInt(expiresAt.UnixMilli(), 10),
		})
	}
	return cookies
}

func newRequest(method, target string, cookies ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func farmerToken(t *testing.T) string {
	t.Helper()
	return testutil.NewToken().WithUserType("FARMER").Build(t)
}

func responseCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

// cookieJar replays Set-Cookie headers across requests the way a browser does.
type cookieJar map[string]string

func newCookieJar(initial []*http.Cookie) cookieJar {
	j := cookieJar{}
	for _, c := range initial {
		j[c.Name] = c.Value
	}
	return j
}

func (j cookieJar) update(rec *httptest.ResponseRecorder) {
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(j, c.Name)
			continue
		}
		j[c.Name] = c.Value
	}
}

func (j cookieJar) cookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(j))
	for name, value := range j {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsAuthenticated(r.Context()) {
			w.Header().Set("X-Authenticated", "true")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func scrape(t *testing.T, e *testEnv) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
