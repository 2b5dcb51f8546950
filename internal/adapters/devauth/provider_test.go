package devauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/testutil"
	"github.com/agromarket/marketgate/internal/token"
)

func TestIssuer_SignInMintsDecodableToken(t *testing.T) {
	now := testutil.TestTime()
	iss, err := NewIssuer(Config{
		UserID:          "dev-user",
		Email:           "dev@example.com",
		Role:            "farmer",
		SessionDuration: time.Hour,
		Now:             testutil.FixedTimeFunc(now),
	})
	require.NoError(t, err)

	tokens, err := iss.SignIn(context.Background(), domainauth.Credentials{Email: "anyone@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domainauth.DefaultTokenType, tokens.TokenType)
	assert.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, tokens.ExpiresAt)
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), *tokens.ExpiresAt)

	claims := token.Decode(tokens.AccessToken)
	require.NotNil(t, claims)
	assert.Equal(t, "FARMER", claims.Role())
	assert.Equal(t, "dev-user", claims.Subject())
	exp, ok := claims.ExpiresAt()
	require.True(t, ok)
	assert.True(t, exp.Equal(now.Add(time.Hour)))
}

func TestIssuer_Password(t *testing.T) {
	iss, err := NewIssuer(Config{UserID: "u", Role: "WHOLESALER", Password: "pw"})
	require.NoError(t, err)

	_, err = iss.SignIn(context.Background(), domainauth.Credentials{Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = iss.SignIn(context.Background(), domainauth.Credentials{Password: "pw"})
	require.NoError(t, err)
}

func TestIssuer_MintEachRole(t *testing.T) {
	iss, err := NewIssuer(Config{UserID: "u", Role: "BASE_USER", SigningKey: []byte("k")})
	require.NoError(t, err)

	for _, role := range domainauth.KnownRoles {
		tokens, err := iss.Mint(role, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, string(role), token.Decode(tokens.AccessToken).Role())
	}
}

func TestNewIssuer_Validation(t *testing.T) {
	_, err := NewIssuer(Config{Role: "FARMER"})
	require.Error(t, err)

	_, err = NewIssuer(Config{UserID: "u", Role: "ADMIN"})
	require.Error(t, err)
}
