package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agromarket/marketgate/internal/adapters/devauth"
	"github.com/agromarket/marketgate/internal/adapters/identityapi"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	apperrors "github.com/agromarket/marketgate/internal/errors"
	"github.com/agromarket/marketgate/internal/ports"
	"github.com/agromarket/marketgate/internal/token"
)

// Role lookup outcomes reported to RoleLookupRecorder.
const (
	LookupToken    = "token"
	LookupCacheHit = "cache_hit"
	LookupRemote   = "remote"
	LookupFallback = "fallback"
)

// RoleLookupRecorder receives one outcome per ResolveRole call.
type RoleLookupRecorder interface {
	RoleLookup(outcome string)
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Authenticator ports.Authenticator
	// Lookup and Cache are optional; without them roles come from the token alone.
	Lookup        ports.RoleLookup
	Cache         ports.RoleCache
	Roles         ports.RoleMapper
	LookupTimeout time.Duration
	Metrics       RoleLookupRecorder
	Logger        *slog.Logger
}

// AuthService orchestrates sign-in and role resolution.
// Role resolution never fails: a broken lookup falls back to the token claims.
type AuthService struct {
	authn         ports.Authenticator
	lookup        ports.RoleLookup
	cache         ports.RoleCache
	roles         ports.RoleMapper
	lookupTimeout time.Duration
	metrics       RoleLookupRecorder
	logger        *slog.Logger

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		authn:         opts.Authenticator,
		lookup:        opts.Lookup,
		cache:         opts.Cache,
		roles:         opts.Roles,
		lookupTimeout: timeout,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// SignIn validates credentials and exchanges them for a token set.
func (s *AuthService) SignIn(ctx context.Context, creds domainauth.Credentials) (domainauth.TokenSet, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" {
		return domainauth.TokenSet{}, apperrors.ValidationField("email", "email is required")
	}
	if _, err := mail.ParseAddress(creds.Email); err != nil {
		return domainauth.TokenSet{}, apperrors.ValidationField("email", "email is not valid")
	}
	if creds.Password == "" {
		return domainauth.TokenSet{}, apperrors.ValidationField("password", "password is required")
	}
	if s.authn == nil {
		return domainauth.TokenSet{}, apperrors.Unavailable("sign-in is not configured")
	}

	tokens, err := s.authn.SignIn(ctx, creds)
	if err != nil {
		if errors.Is(err, identityapi.ErrInvalidCredentials) || errors.Is(err, devauth.ErrInvalidCredentials) {
			return domainauth.TokenSet{}, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid email or password")
		}
		return domainauth.TokenSet{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "sign-in failed")
	}
	return tokens, nil
}

// ResolveRole returns the session's role. A known role in the token claims
// is authoritative; otherwise the role cache, then a remote lookup shared by
// concurrent callers for the same token, then the session's own role.
func (s *AuthService) ResolveRole(ctx context.Context, sess domainauth.Session) domainauth.Role {
	if !sess.HasToken() {
		return domainauth.RoleUnknown
	}
	if role := s.tokenRole(sess.Token); role.Known() {
		s.record(LookupToken)
		return role
	}

	if s.cache != nil {
		role, ok, err := s.cache.Get(ctx, sess.Token)
		if err != nil {
			s.logger.WarnContext(ctx, "role cache read failed", "error", err)
		} else if ok && role.Known() {
			s.record(LookupCacheHit)
			return role
		}
	}

	if s.lookup != nil {
		role, err := s.lookupShared(ctx, sess)
		if err == nil && role.Known() {
			s.record(LookupRemote)
			return role
		}
		s.logger.DebugContext(ctx, "remote role lookup failed, using token role", "error", err)
	}

	s.record(LookupFallback)
	return sess.Role
}

func (s *AuthService) lookupShared(ctx context.Context, sess domainauth.Session) (domainauth.Role, error) {
	ch := s.group.DoChan(sess.Token, func() (any, error) {
		// The shared call outlives any single caller's cancellation.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookupTimeout)
		defer cancel()

		role, err := s.lookup.LookupRole(lookupCtx, sess)
		if err != nil {
			return domainauth.RoleUnknown, err
		}
		if s.cache != nil && role.Known() {
			if setErr := s.cache.Set(lookupCtx, sess.Token, role, ttlUntil(sess.ExpiresAt)); setErr != nil {
				s.logger.WarnContext(lookupCtx, "role cache write failed", "error", setErr)
			}
		}
		return role, nil
	})

	select {
	case <-ctx.Done():
		return domainauth.RoleUnknown, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domainauth.RoleUnknown, res.Err
		}
		role, _ := res.Val.(domainauth.Role)
		return role, nil
	}
}

// RefreshRoleAsync resolves the role in the background and records it through
// store.CacheRole. Sessions whose token already names a known role are left
// alone. It never blocks the caller; pass a detached store when the request
// may finish first.
func (s *AuthService) RefreshRoleAsync(ctx context.Context, store ports.SessionStore) {
	if s.lookup == nil || store == nil {
		return
	}
	sess := store.Session(ctx)
	if !sess.HasToken() || s.tokenRole(sess.Token).Known() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookupTimeout)
		defer cancel()

		role, err := s.lookupShared(bg, sess)
		if err != nil || !role.Known() {
			s.logger.DebugContext(bg, "background role refresh failed", "error", err)
			return
		}
		if err := store.CacheRole(bg, role); err != nil {
			s.logger.WarnContext(bg, "cache refreshed role failed", "error", err)
		}
	}()
}

// Wait blocks until background refreshes finish or ctx ends.
func (s *AuthService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout clears the persisted session.
func (s *AuthService) Logout(ctx context.Context, store ports.SessionStore) error {
	if store == nil {
		return nil
	}
	if err := store.ClearSession(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *AuthService) tokenRole(raw string) domainauth.Role {
	claims := token.Decode(raw)
	if claims == nil {
		return domainauth.RoleUnknown
	}
	if s.roles != nil {
		return s.roles.Map(claims.Role())
	}
	return domainauth.NormalizeRole(claims.Role())
}

func (s *AuthService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RoleLookup(outcome)
	}
}

func ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return -1
	}
	return ttl
}
