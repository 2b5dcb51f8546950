package ports

// Package ports defines interfaces (hexagonal ports) for session and role behaviour.
// Implementations live in internal/adapters and internal/session; orchestration in internal/service.

import (
	"context"
	"time"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// SessionStore is the single owner of a browsing context's persisted session.
// Reads never fail: an unavailable backing store reads as absent.
type SessionStore interface {
	// Token returns the access token, or "" when absent.
	Token() string
	// TokenType returns the stored scheme, defaulting to Bearer.
	TokenType() string
	// Role returns the canonical role: the token claims when they carry a known
	// role, otherwise the cached value, then the role cache.
	Role(ctx context.Context) domainauth.Role
	// TokenRole decodes the role from the token claims only.
	TokenRole() domainauth.Role
	// Expiry returns when the session stops being valid; zero when unknown.
	Expiry() time.Time
	// Session assembles the full session view.
	Session(ctx context.Context) domainauth.Session
	// SetSession persists a new token set atomically.
	SetSession(ctx context.Context, tokens domainauth.TokenSet) error
	// ClearSession removes every persisted field including the cached role.
	ClearSession(ctx context.Context) error
	// CacheRole records a role resolved out of band for the current token.
	CacheRole(ctx context.Context, role domainauth.Role) error
}

// RoleCache remembers resolved roles per access token.
type RoleCache interface {
	Get(ctx context.Context, token string) (domainauth.Role, bool, error)
	Set(ctx context.Context, token string, role domainauth.Role, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// RoleLookup asks the marketplace API which role a session belongs to.
type RoleLookup interface {
	LookupRole(ctx context.Context, sess domainauth.Session) (domainauth.Role, error)
}

// Authenticator exchanges credentials for a token set.
type Authenticator interface {
	SignIn(ctx context.Context, creds domainauth.Credentials) (domainauth.TokenSet, error)
}

// RoleMapper maps raw role spellings to canonical roles.
type RoleMapper interface {
	Map(raw string) domainauth.Role
}
