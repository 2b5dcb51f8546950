// Package identityapi talks to the marketplace REST API on behalf of a session:
// who am I (role lookup) and sign-in.
package identityapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/ports"
)

const (
	DefaultUsersMePath = "/api/v1/users/me"
	DefaultSignInPath  = "/api/v1/auth/signin"
	// DefaultRoleExpression finds the role wherever the API nests it.
	DefaultRoleExpression = "data.user_type.name || data.user_type || data.userType || user_type.name || user_type || userType || role"

	maxBodyBytes = 1 << 20
)

var (
	// ErrRoleUnavailable means the API did not yield a role. Callers fall back
	// to the token claims.
	ErrRoleUnavailable = errors.New("identity api: role unavailable")
	// ErrInvalidCredentials is returned when sign-in is rejected with 400/401/403.
	ErrInvalidCredentials = errors.New("identity api: invalid credentials")
	// ErrUpstream covers transport failures and unexpected statuses.
	ErrUpstream = errors.New("identity api: upstream error")
)

// Config configures the client.
type Config struct {
	BaseURL        string
	UsersMePath    string
	SignInPath     string
	RoleExpression string
	Timeout        time.Duration
	Client         *http.Client
	Roles          ports.RoleMapper
}

// Client implements ports.RoleLookup and ports.Authenticator.
type Client struct {
	baseURL  *url.URL
	usersMe  string
	signIn   string
	roleExpr string
	client   *http.Client
	roles    ports.RoleMapper
}

var (
	_ ports.RoleLookup    = (*Client)(nil)
	_ ports.Authenticator = (*Client)(nil)
)

// NewClient builds a client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("identity api base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse identity api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("identity api base url must be http(s), got %q", base.Scheme)
	}

	exprText := fallbackString(strings.TrimSpace(cfg.RoleExpression), DefaultRoleExpression)
	if _, err := jmespath.Compile(exprText); err != nil {
		return nil, fmt.Errorf("compile role expression %q: %w", exprText, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  base,
		usersMe:  fallbackString(strings.TrimSpace(cfg.UsersMePath), DefaultUsersMePath),
		signIn:   fallbackString(strings.TrimSpace(cfg.SignInPath), DefaultSignInPath),
		roleExpr: exprText,
		client:   hc,
		roles:    cfg.Roles,
	}, nil
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *Client) endpoint(p string) string {
	ref, err := url.Parse(p)
	if err != nil {
		return c.baseURL.String() + p
	}
	return c.baseURL.ResolveReference(ref).String()
}

// LookupRole fetches the session's user record and extracts its role.
// Any failure, including an unrecognised role, wraps ErrRoleUnavailable.
func (c *Client) LookupRole(ctx context.Context, sess domainauth.Session) (domainauth.Role, error) {
	if !sess.HasToken() {
		return domainauth.RoleUnknown, fmt.Errorf("%w: no token", ErrRoleUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.usersMe), nil)
	if err != nil {
		return domainauth.RoleUnknown, fmt.Errorf("create users/me request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	tok := &oauth2.Token{AccessToken: sess.Token, TokenType: sess.Type()}
	tok.SetAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return domainauth.RoleUnknown, fmt.Errorf("%w: %w", ErrRoleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return domainauth.RoleUnknown, fmt.Errorf("%w: users/me status %d", ErrRoleUnavailable, resp.StatusCode)
	}

	var body any
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); decodeErr != nil {
		return domainauth.RoleUnknown, fmt.Errorf("%w: decode users/me: %w", ErrRoleUnavailable, decodeErr)
	}

	raw, err := jmespath.Search(c.roleExpr, body)
	if err != nil {
		return domainauth.RoleUnknown, fmt.Errorf("%w: evaluate role expression: %w", ErrRoleUnavailable, err)
	}
	s, _ := raw.(string)
	role := c.mapRole(s)
	if !role.Known() {
		return domainauth.RoleUnknown, fmt.Errorf("%w: unrecognised role %q", ErrRoleUnavailable, s)
	}
	return role, nil
}

func (c *Client) mapRole(raw string) domainauth.Role {
	if c.roles != nil {
		return c.roles.Map(raw)
	}
	return domainauth.NormalizeRole(raw)
}

// signInResponse accepts both a bare token set and one wrapped in "data".
type signInResponse struct {
	domainauth.TokenSet
	Data *domainauth.TokenSet `json:"data,omitempty"`
}

// SignIn posts credentials and returns the issued token set.
func (c *Client) SignIn(ctx context.Context, creds domainauth.Credentials) (domainauth.TokenSet, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("encode sign-in payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.signIn), bytes.NewReader(body))
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("create sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		drain(resp.Body)
		return domainauth.TokenSet{}, ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		drain(resp.Body)
		return domainauth.TokenSet{}, fmt.Errorf("%w: sign-in status %d", ErrUpstream, resp.StatusCode)
	}

	var out signInResponse
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); decodeErr != nil {
		return domainauth.TokenSet{}, fmt.Errorf("%w: decode sign-in response: %w", ErrUpstream, decodeErr)
	}
	tokens := out.TokenSet
	if out.Data != nil {
		tokens = *out.Data
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return domainauth.TokenSet{}, fmt.Errorf("%w: sign-in response has no access_token", ErrUpstream)
	}
	return tokens, nil
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxBodyBytes))
}
