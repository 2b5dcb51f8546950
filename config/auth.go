package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents how the gateway exchanges credentials for tokens.
type AuthMode string

const (
	// AuthModeRemote signs in against the marketplace API.
	AuthModeRemote AuthMode = "remote"
	// AuthModeMock mints local tokens for a fixed identity (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "remote", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: remote, mock)", v)
	}
}

// DevAuthConfig controls the mock identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Email  string `env:"EMAIL"   envDefault:"dev@example.com"`
	Role   string `env:"ROLE"    envDefault:"BASE_USER"`
	// Password, when set, must be supplied at sign-in.
	Password string `env:"PASSWORD"`
	// SigningKey signs dev tokens. A random key is generated when empty, which
	// invalidates dev sessions on restart.
	SigningKey      string        `env:"SIGNING_KEY"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"8h"`
}

// AuthConfig groups sign-in, role and enforcement configuration.
type AuthConfig struct {
	// Mode determines which authenticator is used.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"remote"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// RoleAliases maps extra role spellings onto canonical roles,
	// e.g. "grower=FARMER;buyer=COMMERCIAL_BUYER".
	RoleAliases map[string]string `env:"ROLE_ALIASES" envSeparator:";" envKeyValSeparator:"="`

	// SessionLifetime applies when the API returns no expiry.
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`

	// StrictAnonymous redirects anonymous visitors of protected areas at the
	// edge instead of letting the page checkpoint do it.
	StrictAnonymous bool `env:"AUTH_STRICT_ANONYMOUS" envDefault:"false"`

	// ConfineRolesToHome keeps users with a known role out of the admin area.
	ConfineRolesToHome bool `env:"AUTH_CONFINE_ROLES_TO_HOME" envDefault:"false"`

	// GuardMode is "poll" or "scheduled".
	GuardMode     string        `env:"GUARD_MODE"     envDefault:"poll"`
	GuardInterval time.Duration `env:"GUARD_INTERVAL" envDefault:"1m"`

	// WatchHeartbeat is the comment interval on /auth/watch streams.
	WatchHeartbeat time.Duration `env:"WATCH_HEARTBEAT" envDefault:"30s"`
}

// Sanitize normalises enforcement settings.
func (a *AuthConfig) Sanitize() {
	if a.Mode == "" {
		a.Mode = AuthModeRemote
	}
	a.GuardMode = strings.ToLower(strings.TrimSpace(a.GuardMode))
	if a.GuardMode != "scheduled" {
		a.GuardMode = "poll"
	}
	if a.GuardInterval <= 0 {
		a.GuardInterval = time.Minute
	}
	if a.GuardInterval < time.Second {
		a.GuardInterval = time.Second
	}
	if a.WatchHeartbeat <= 0 {
		a.WatchHeartbeat = 30 * time.Second
	}
	if a.SessionLifetime <= 0 {
		a.SessionLifetime = 24 * time.Hour
	}
	if a.DevAuth.SessionDuration <= 0 {
		a.DevAuth.SessionDuration = 8 * time.Hour
	}
	a.DevAuth.Role = strings.TrimSpace(a.DevAuth.Role)
}
