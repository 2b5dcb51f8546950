// Package session is the single owner of persisted session state.
//
// State lives in cookies on the browsing context, one cookie per field, and
// resolved roles may additionally be remembered in a ports.RoleCache keyed by
// access token. Only this package writes either of them.
package session

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/ports"
	"github.com/agromarket/marketgate/internal/token"
)

// Cookie names. They match the field names the marketplace API uses.
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieTokenType    = "token_type"
	CookieExpiresAt    = "expires_at"
	CookieUserType     = "user_type"
)

// AllCookies lists every cookie the store owns.
var AllCookies = []string{CookieAccessToken, CookieRefreshToken, CookieTokenType, CookieExpiresAt, CookieUserType}

var (
	// ErrStorageUnavailable is returned by writes on a store with no browsing context.
	ErrStorageUnavailable = errors.New("session: storage unavailable")
	// ErrInvalidTokenSet is returned when SetSession rejects its input.
	ErrInvalidTokenSet = errors.New("session: invalid token set")
	// ErrNoSession is returned by CacheRole when there is no token to key it by.
	ErrNoSession = errors.New("session: no session")
)

// Options configures a Manager.
type Options struct {
	CookieDomain string
	// SecureCookies forces the Secure attribute; otherwise it follows the request scheme.
	SecureCookies bool
	// Lifetime applies when a token set carries no expiry. Defaults to domainauth.DefaultSessionLifetime.
	Lifetime time.Duration
	Roles    ports.RoleMapper
	Cache    ports.RoleCache
	Now      func() time.Time
	Logger   *slog.Logger
}

// Manager holds the settings shared by every Store. It is safe for concurrent use.
type Manager struct {
	cookieDomain  string
	secureCookies bool
	lifetime      time.Duration
	roles         ports.RoleMapper
	cache         ports.RoleCache
	codec         token.Codec
	now           func() time.Time
	logger        *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	lifetime := opts.Lifetime
	if lifetime <= 0 {
		lifetime = domainauth.DefaultSessionLifetime
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cookieDomain:  opts.CookieDomain,
		secureCookies: opts.SecureCookies,
		lifetime:      lifetime,
		roles:         opts.Roles,
		cache:         opts.Cache,
		codec:         token.Codec{Logger: logger},
		now:           now,
		logger:        logger,
	}
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.now() }

// Cache returns the configured role cache, which may be nil.
func (m *Manager) Cache() ports.RoleCache { return m.cache }

// Bind returns the store for the browsing context behind r, writing through w.
// Bind(nil, nil) yields a store with no context: reads are absent and writes
// fail with ErrStorageUnavailable.
func (m *Manager) Bind(w http.ResponseWriter, r *http.Request) *Store {
	s := &Store{m: m, w: w, r: r, overlay: make(map[string]*string)}
	s.available = r != nil
	return s
}

func (m *Manager) mapRole(raw string) domainauth.Role {
	if m.roles != nil {
		return m.roles.Map(raw)
	}
	return domainauth.NormalizeRole(raw)
}
