// Package token decodes the claims embedded in marketplace bearer tokens.
//
// Signatures are not verified: the marketplace API is the authority for every
// data call, and this package only reads the role and expiry hints it needs
// for navigation decisions.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// Role claim names in lookup order: the current key, then legacy aliases.
const (
	ClaimUserType       = "user_type"
	ClaimUserTypeLegacy = "userType"
	ClaimRoleLegacy     = "role"
)

var roleClaimKeys = []string{ClaimUserType, ClaimUserTypeLegacy, ClaimRoleLegacy}

// Decode stages reported by Parse.
var (
	ErrMalformed = errors.New("token: missing payload segment")
	ErrEncoding  = errors.New("token: payload is not base64url")
	ErrUTF8      = errors.New("token: payload is not valid UTF-8")
	ErrJSON      = errors.New("token: payload is not a JSON object")
)

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// toURLAlphabet accepts payloads written with the standard base64 alphabet.
var toURLAlphabet = strings.NewReplacer("+", "-", "/", "_")

// Claims is the decoded payload of a token.
type Claims jwt.MapClaims

// Decode returns the token's claims, or nil when the token is malformed at any
// stage. It never panics and has no side effects.
func Decode(raw string) Claims {
	c, err := Parse(raw)
	if err != nil {
		return nil
	}
	return c
}

// Parse is Decode with the failing stage reported as an error.
func Parse(raw string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil, ErrMalformed
	}

	payload, err := segmentParser.DecodeSegment(toURLAlphabet.Replace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	if !utf8.Valid(payload) {
		return nil, ErrUTF8
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJSON, err)
	}
	if claims == nil {
		return nil, ErrJSON
	}
	return Claims(claims), nil
}

// Role returns the first non-empty role claim, checking user_type, userType
// and role in that order. Objects of the form {"name": "..."} are accepted.
// The value is returned as written; callers normalise it.
func (c Claims) Role() string {
	for _, key := range roleClaimKeys {
		if v := roleValue(c[key]); v != "" {
			return v
		}
	}
	return ""
}

func roleValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// ExpiresAt returns the exp claim, if present and numeric.
func (c Claims) ExpiresAt() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	exp, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the exp claim is at or before now.
// Tokens without exp are not considered expired here.
func (c Claims) Expired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	return ok && !now.Before(exp)
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	if c == nil {
		return ""
	}
	sub, err := jwt.MapClaims(c).GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Codec decodes tokens and logs failures. The zero value logs to slog.Default.
type Codec struct {
	Logger *slog.Logger
}

// Decode behaves like the package-level Decode and logs the failing stage at
// debug level. The token itself is never logged.
func (c Codec) Decode(raw string) Claims {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	claims, err := Parse(raw)
	if err != nil {
		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("token decode failed", "error", err, "length", len(raw))
		return nil
	}
	return claims
}
