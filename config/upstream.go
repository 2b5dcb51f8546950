package config

import (
	"strings"
	"time"
)

// UpstreamConfig points at the marketplace API. Loaded with the API_ prefix.
type UpstreamConfig struct {
	// BaseURL of the API, e.g. "https://api.market.example.com". Empty
	// disables remote sign-in, role lookup and the /api/ proxy.
	BaseURL     string `env:"BASE_URL"`
	UsersMePath string `env:"USERS_ME_PATH" envDefault:"/api/v1/users/me"`
	SignInPath  string `env:"SIGNIN_PATH"   envDefault:"/api/v1/auth/signin"`
	// RoleExpression is a JMESPath expression that finds the role in the
	// users/me response. Empty uses the client's default.
	RoleExpression string        `env:"ROLE_EXPRESSION"`
	Timeout        time.Duration `env:"TIMEOUT"         envDefault:"5s"`
	// RoleLookupTimeout bounds a background role refresh.
	RoleLookupTimeout time.Duration `env:"ROLE_LOOKUP_TIMEOUT" envDefault:"5s"`
}

// Sanitize trims values and restores defaults.
func (u *UpstreamConfig) Sanitize() {
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	u.RoleExpression = strings.TrimSpace(u.RoleExpression)
	if u.Timeout <= 0 {
		u.Timeout = 5 * time.Second
	}
	if u.RoleLookupTimeout <= 0 {
		u.RoleLookupTimeout = u.Timeout
	}
}

// Enabled reports whether an API is configured.
func (u *UpstreamConfig) Enabled() bool {
	return u.BaseURL != ""
}
