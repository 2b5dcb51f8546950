package devauth

// Package devauth provides a config-driven ports.Authenticator for local development.

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/ports"
)

// ErrInvalidCredentials is returned when a password is configured and does not match.
var ErrInvalidCredentials = errors.New("dev auth: invalid credentials")

// Config controls the dev issuer.
// UserID and Role are required; Password is optional and, when set, must match.
type Config struct {
	UserID          string
	Email           string
	Role            string
	Password        string
	SigningKey      []byte
	SessionDuration time.Duration // default 8h when zero
	Now             func() time.Time
}

// Issuer implements ports.Authenticator for local development.
// It skips the marketplace API and mints HS256 tokens carrying the configured
// role in the user_type claim. Nothing in marketgate verifies the signature.
type Issuer struct {
	userID          string
	email           string
	role            domainauth.Role
	password        string
	key             []byte
	sessionDuration time.Duration
	now             func() time.Time
}

var _ ports.Authenticator = (*Issuer)(nil)

// NewIssuer constructs a dev issuer from Config.
func NewIssuer(cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	role := domainauth.NormalizeRole(cfg.Role)
	if !role.Known() {
		return nil, fmt.Errorf("dev auth: unknown role %q", cfg.Role)
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	key := cfg.SigningKey
	if len(key) == 0 {
		generated, err := randomString(32)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		key = []byte(generated)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		userID:          cfg.UserID,
		email:           cfg.Email,
		role:            role,
		password:        cfg.Password,
		key:             key,
		sessionDuration: dur,
		now:             now,
	}, nil
}

// SignIn ignores the email and returns a fresh token set for the dev identity.
func (p *Issuer) SignIn(_ context.Context, creds domainauth.Credentials) (domainauth.TokenSet, error) {
	if p.password != "" && subtle.ConstantTimeCompare([]byte(p.password), []byte(creds.Password)) != 1 {
		return domainauth.TokenSet{}, ErrInvalidCredentials
	}
	return p.Mint(p.role, p.sessionDuration)
}

// Mint issues a token set for role that expires after ttl.
func (p *Issuer) Mint(role domainauth.Role, ttl time.Duration) (domainauth.TokenSet, error) {
	now := p.now()
	exp := now.Add(ttl)

	jti, err := randomString(16)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("generate token id: %w", err)
	}
	claims := jwt.MapClaims{
		"sub":       p.userID,
		"user_type": string(role),
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
		"jti":       jti,
	}
	if p.email != "" {
		claims["email"] = p.email
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("sign dev token: %w", err)
	}

	refresh, err := randomString(32)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("generate refresh token: %w", err)
	}
	expMillis := exp.UnixMilli()
	return domainauth.TokenSet{
		AccessToken:  signed,
		RefreshToken: refresh,
		TokenType:    domainauth.DefaultTokenType,
		ExpiresAt:    &expMillis,
	}, nil
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	return s[:n], nil
}
