package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/ports"
)

var _ ports.SessionStore = (*Store)(nil)

// Store is the session of one browsing context for the duration of one request.
// Writes are overlaid on the request cookies so later reads observe them.
// A Store is not safe for concurrent use; use Detached to hand a snapshot to
// another goroutine.
type Store struct {
	m         *Manager
	w         http.ResponseWriter
	r         *http.Request
	available bool
	// overlay holds values written during this request; a nil entry is a deletion.
	overlay map[string]*string
}

func (s *Store) get(name string) string {
	if !s.available {
		return ""
	}
	if v, ok := s.overlay[name]; ok {
		if v == nil {
			return ""
		}
		return *v
	}
	if s.r == nil {
		return ""
	}
	c, err := s.r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// Token returns the access token, or "".
func (s *Store) Token() string { return s.get(CookieAccessToken) }

// RefreshToken returns the refresh token, or "".
func (s *Store) RefreshToken() string { return s.get(CookieRefreshToken) }

// TokenType returns the stored scheme, defaulting to Bearer.
func (s *Store) TokenType() string {
	if t := s.get(CookieTokenType); t != "" {
		return t
	}
	return domainauth.DefaultTokenType
}

// CachedRole returns the role recorded in the user_type cookie.
func (s *Store) CachedRole() domainauth.Role {
	return s.m.mapRole(s.get(CookieUserType))
}

// TokenRole decodes the role from the token claims only. Undecodable tokens
// yield RoleUnknown.
func (s *Store) TokenRole() domainauth.Role {
	raw := s.Token()
	if raw == "" {
		return domainauth.RoleUnknown
	}
	claims := s.m.codec.Decode(raw)
	if claims == nil {
		return domainauth.RoleUnknown
	}
	return s.m.mapRole(claims.Role())
}

// CookieRole is the role visible from cookies alone: the token claims when
// they name a known role, otherwise the user_type cookie. It never reads the
// role cache.
func (s *Store) CookieRole() domainauth.Role {
	if role := s.TokenRole(); role.Known() {
		return role
	}
	return s.CachedRole()
}

// Role returns the token role when the claims carry a known one. Otherwise it
// falls back to the user_type cookie, then to the role cache entry for the
// token. Only canonical roles are returned.
func (s *Store) Role(ctx context.Context) domainauth.Role {
	if role := s.CookieRole(); role.Known() {
		return role
	}
	if tok := s.Token(); tok != "" && s.m.cache != nil {
		role, ok, err := s.m.cache.Get(ctx, tok)
		if err != nil {
			s.m.logger.WarnContext(ctx, "role cache read failed", "error", err)
		} else if ok && role.Known() {
			return role
		}
	}
	return domainauth.RoleUnknown
}

// Expiry returns the stored expires_at, or the token exp claim when nothing is
// stored. A token exp already in the past overrides a later stored value.
// The zero time means no expiry is known.
func (s *Store) Expiry() time.Time {
	stored, hasStored := s.storedExpiry()

	var tokenExp time.Time
	hasTokenExp := false
	if raw := s.Token(); raw != "" {
		if claims := s.m.codec.Decode(raw); claims != nil {
			tokenExp, hasTokenExp = claims.ExpiresAt()
		}
	}

	switch {
	case hasStored && hasTokenExp && !s.m.now().Before(tokenExp) && tokenExp.Before(stored):
		return tokenExp
	case hasStored:
		return stored
	case hasTokenExp:
		return tokenExp
	default:
		return time.Time{}
	}
}

func (s *Store) storedExpiry() (time.Time, bool) {
	raw := s.get(CookieExpiresAt)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Session assembles the full session view.
func (s *Store) Session(ctx context.Context) domainauth.Session {
	return domainauth.Session{
		Token:        s.Token(),
		RefreshToken: s.RefreshToken(),
		TokenType:    s.TokenType(),
		ExpiresAt:    s.Expiry(),
		Role:         s.Role(ctx),
	}
}

// SetSession validates every field first and only then writes all cookies, so
// a rejected token set leaves the previous session untouched. A stale
// user_type from an earlier session is cleared.
func (s *Store) SetSession(ctx context.Context, tokens domainauth.TokenSet) error {
	if !s.writable() {
		return ErrStorageUnavailable
	}

	access := strings.TrimSpace(tokens.AccessToken)
	if access == "" {
		return fmt.Errorf("%w: access token is required", ErrInvalidTokenSet)
	}
	refresh := strings.TrimSpace(tokens.RefreshToken)
	tokenType := strings.TrimSpace(tokens.TokenType)
	if tokenType == "" {
		tokenType = domainauth.DefaultTokenType
	}
	for name, v := range map[string]string{CookieAccessToken: access, CookieRefreshToken: refresh, CookieTokenType: tokenType} {
		if !validCookieValue(v) {
			return fmt.Errorf("%w: %s contains characters not allowed in a cookie", ErrInvalidTokenSet, name)
		}
	}

	now := s.m.now()
	expiresAt := now.Add(s.m.lifetime)
	if tokens.ExpiresAt != nil {
		if *tokens.ExpiresAt <= 0 {
			return fmt.Errorf("%w: expires_at must be positive epoch milliseconds", ErrInvalidTokenSet)
		}
		expiresAt = time.UnixMilli(*tokens.ExpiresAt)
	}

	previous := s.Token()

	s.setCookie(CookieAccessToken, access, expiresAt)
	if refresh != "" {
		s.setCookie(CookieRefreshToken, refresh, expiresAt)
	} else {
		s.deleteCookie(CookieRefreshToken)
	}
	s.setCookie(CookieTokenType, tokenType, expiresAt)
	s.setCookie(CookieExpiresAt, strconv.FormatInt(expiresAt.UnixMilli(), 10), expiresAt)
	s.deleteCookie(CookieUserType)

	if previous != "" && previous != access && s.m.cache != nil {
		if err := s.m.cache.Delete(ctx, previous); err != nil {
			s.m.logger.WarnContext(ctx, "role cache delete failed", "error", err)
		}
	}
	return nil
}

// ClearSession expires every session cookie, including the cached role, and
// drops the role cache entry for the current token.
func (s *Store) ClearSession(ctx context.Context) error {
	if !s.writable() {
		return ErrStorageUnavailable
	}

	previous := s.Token()
	for _, name := range AllCookies {
		s.deleteCookie(name)
	}

	if previous != "" && s.m.cache != nil {
		if err := s.m.cache.Delete(ctx, previous); err != nil {
			return fmt.Errorf("clear role cache: %w", err)
		}
	}
	return nil
}

// CacheRole records a role resolved out of band for the current token: in the
// role cache when configured and, while this store can still write cookies,
// in the user_type cookie. Unknown roles are ignored.
func (s *Store) CacheRole(ctx context.Context, role domainauth.Role) error {
	if !s.available {
		return ErrStorageUnavailable
	}
	if !role.Known() {
		return nil
	}
	tok := s.Token()
	if tok == "" {
		return ErrNoSession
	}

	expiresAt := s.Expiry()
	if expiresAt.IsZero() {
		expiresAt = s.m.now().Add(s.m.lifetime)
	}

	var errs []error
	if s.m.cache != nil {
		if err := s.m.cache.Set(ctx, tok, role, expiresAt.Sub(s.m.now())); err != nil {
			errs = append(errs, fmt.Errorf("role cache set: %w", err))
		}
	}
	if s.w != nil {
		s.setCookie(CookieUserType, string(role), expiresAt)
	} else if s.m.cache == nil {
		return ErrStorageUnavailable
	}
	return errors.Join(errs...)
}

// Detached returns a read-only snapshot of this store that may outlive the
// request. Its CacheRole writes only to the role cache.
func (s *Store) Detached() *Store {
	d := &Store{m: s.m, available: s.available, overlay: make(map[string]*string, len(AllCookies))}
	if !s.available {
		return d
	}
	maps.Copy(d.overlay, s.overlay)
	for _, name := range AllCookies {
		if _, ok := d.overlay[name]; ok {
			continue
		}
		if v := s.get(name); v != "" {
			d.overlay[name] = &v
		} else {
			d.overlay[name] = nil
		}
	}
	return d
}

func (s *Store) writable() bool {
	return s.available && s.w != nil
}

func (s *Store) secure() bool {
	if s.m.secureCookies {
		return true
	}
	return s.r != nil && (s.r.TLS != nil || strings.EqualFold(s.r.Header.Get("X-Forwarded-Proto"), "https"))
}

func (s *Store) setCookie(name, value string, expiresAt time.Time) {
	v := value
	s.overlay[name] = &v
	maxAge := int(expiresAt.Sub(s.m.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.m.cookieDomain,
		HttpOnly: true,
		Secure:   s.secure(),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
	})
}

// deleteCookie mirrors the attributes used when setting so browsers match it.
func (s *Store) deleteCookie(name string) {
	s.overlay[name] = nil
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.m.cookieDomain,
		HttpOnly: true,
		Secure:   s.secure(),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

func validCookieValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b <= 0x20 || b >= 0x7f || b == '"' || b == ';' || b == ',' || b == '\\' {
			return false
		}
	}
	return true
}
