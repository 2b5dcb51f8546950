// Package testutil provides testing utilities and helpers for marketgate.
package testutil

import (
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestSigningKey signs tokens minted by TokenBuilder. Nothing verifies it.
var TestSigningKey = []byte("marketgate-test-signing-key")

// TokenBuilder provides a fluent interface for minting bearer tokens in tests.
type TokenBuilder struct {
	claims jwt.MapClaims
}

// NewToken creates a TokenBuilder with a subject and a one hour expiry.
func NewToken() *TokenBuilder {
	return &TokenBuilder{
		claims: jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		},
	}
}

// WithUserType sets the primary role claim.
func (b *TokenBuilder) WithUserType(role string) *TokenBuilder {
	b.claims["user_type"] = role
	return b
}

// WithClaim sets an arbitrary claim.
func (b *TokenBuilder) WithClaim(key string, value any) *TokenBuilder {
	b.claims[key] = value
	return b
}

// WithoutClaim removes a claim.
func (b *TokenBuilder) WithoutClaim(key string) *TokenBuilder {
	delete(b.claims, key)
	return b
}

// ExpiresAt sets the exp claim.
func (b *TokenBuilder) ExpiresAt(t time.Time) *TokenBuilder {
	b.claims["exp"] = t.Unix()
	return b
}

// ExpiresIn sets the exp claim relative to now.
func (b *TokenBuilder) ExpiresIn(d time.Duration) *TokenBuilder {
	return b.ExpiresAt(time.Now().Add(d))
}

// Build signs the token with TestSigningKey.
func (b *TokenBuilder) Build(t TestingTB) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, b.claims).SignedString(TestSigningKey)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

// RawToken assembles header.payload.signature around an arbitrary payload,
// for exercising malformed-payload handling.
func RawToken(payload []byte) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." +
		enc.EncodeToString(payload) + ".sig"
}
