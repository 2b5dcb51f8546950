package auth

// Package auth contains domain-level types for roles, sessions and token sets.
// It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Role is the marketplace audience a user belongs to.
// Only canonical values leave the session store; use NormalizeRole on anything
// read from tokens, cookies or the remote API.
type Role string

const (
	RoleWholesaler      Role = "WHOLESALER"
	RoleFarmer          Role = "FARMER"
	RoleCommercialBuyer Role = "COMMERCIAL_BUYER"
	RoleBaseUser        Role = "BASE_USER"
	// RoleUnknown covers absent, undecodable and unrecognised roles.
	RoleUnknown Role = ""
)

// KnownRoles lists every canonical role in a stable order.
var KnownRoles = []Role{RoleWholesaler, RoleFarmer, RoleCommercialBuyer, RoleBaseUser}

const (
	// DefaultTokenType is used when the API does not send a token_type.
	DefaultTokenType = "Bearer"
	// DefaultSessionLifetime applies when a token set carries no expires_at.
	DefaultSessionLifetime = 24 * time.Hour
)

// Known reports whether r is one of the canonical roles.
func (r Role) Known() bool {
	switch r {
	case RoleWholesaler, RoleFarmer, RoleCommercialBuyer, RoleBaseUser:
		return true
	default:
		return false
	}
}

// HomePath returns the landing route for the role. Unknown roles land on "/".
func (r Role) HomePath() string {
	switch r {
	case RoleWholesaler:
		return "/wholesaler"
	case RoleFarmer:
		return "/farmer"
	case RoleCommercialBuyer:
		return "/commercial-buyer"
	case RoleBaseUser:
		return "/base-user"
	default:
		return "/"
	}
}

// String returns the canonical name, or "unknown".
func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// NormalizeRole maps the spellings produced by upstream systems onto the
// canonical enumeration. "commercialBuyer", "commercial-buyer",
// "Commercial Buyer" and "COMMERCIAL_BUYER" all yield RoleCommercialBuyer.
func NormalizeRole(raw string) Role {
	key := canonicalKey(raw)
	if key == "" {
		return RoleUnknown
	}
	candidate := Role(key)
	if candidate.Known() {
		return candidate
	}
	return RoleUnknown
}

// canonicalKey folds camelCase, kebab-case, spaces and dots into UPPER_SNAKE.
func canonicalKey(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s) + 4)
	prevLower := false
	for _, c := range s {
		switch {
		case c == '-' || c == ' ' || c == '.' || c == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		case c >= 'A' && c <= 'Z':
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(c)
			prevLower = false
		case c >= 'a' && c <= 'z':
			b.WriteRune(c - 'a' + 'A')
			prevLower = true
		default:
			b.WriteRune(c)
			prevLower = c >= '0' && c <= '9'
		}
	}
	return strings.Trim(b.String(), "_")
}

// Session is the authentication state of one browsing context.
type Session struct {
	Token        string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Role         Role      `json:"user_type"`
}

// HasToken reports whether a token is present at all.
func (s Session) HasToken() bool { return strings.TrimSpace(s.Token) != "" }

// Expired reports whether now is at or past ExpiresAt.
// A zero ExpiresAt never expires on its own; the token claims still apply upstream.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Authenticated is true only for a present, unexpired token.
// A cached role without a token never authenticates.
func (s Session) Authenticated(now time.Time) bool {
	return s.HasToken() && !s.Expired(now)
}

// Type returns the token scheme, defaulting to Bearer.
func (s Session) Type() string {
	if t := strings.TrimSpace(s.TokenType); t != "" {
		return t
	}
	return DefaultTokenType
}

// AuthorizationHeader renders "<TokenType> <token>", or "" without a token.
func (s Session) AuthorizationHeader() string {
	if !s.HasToken() {
		return ""
	}
	return s.Type() + " " + s.Token
}

// TokenSet is what a successful sign-in hands to the session store.
// ExpiresAt is epoch milliseconds; nil means "now + DefaultSessionLifetime".
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    *int64 `json:"expires_at,omitempty"`
}

// Credentials are the sign-in form fields forwarded to the marketplace API.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
