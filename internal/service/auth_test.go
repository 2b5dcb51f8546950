package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/agromarket/marketgate/internal/adapters/identityapi"
	"github.com/agromarket/marketgate/internal/adapters/memory"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	apperrors "github.com/agromarket/marketgate/internal/errors"
	"github.com/agromarket/marketgate/internal/mocks"
	"github.com/agromarket/marketgate/internal/session"
	"github.com/agromarket/marketgate/internal/testutil"
)

type lookupCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *lookupCounter) RoleLookup(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func (c *lookupCounter) count(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[outcome]
}

func TestAuthService_SignIn_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	authn := mocks.NewMockAuthenticator(ctrl)
	svc := NewAuthService(AuthServiceOptions{Authenticator: authn})

	tests := []struct {
		name  string
		creds domainauth.Credentials
		field string
	}{
		{"missing email", domainauth.Credentials{Password: "x"}, "email"},
		{"invalid email", domainauth.Credentials{Email: "not-an-email", Password: "x"}, "email"},
		{"missing password", domainauth.Credentials{Email: "a@b.co"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignIn(context.Background(), tt.creds)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.field, apperrors.GetField(err))
		})
	}
}

func TestAuthService_SignIn(t *testing.T) {
	ctrl := gomock.NewController(t)
	authn := mocks.NewMockAuthenticator(ctrl)
	svc := NewAuthService(AuthServiceOptions{Authenticator: authn})
	ctx := context.Background()

	want := domainauth.TokenSet{AccessToken: "tok"}
	authn.EXPECT().
		SignIn(gomock.Any(), domainauth.Credentials{Email: "farmer@example.com", Password: "pw"}).
		Return(want, nil)
	got, err := svc.SignIn(ctx, domainauth.Credentials{Email: "  farmer@example.com ", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	authn.EXPECT().SignIn(gomock.Any(), gomock.Any()).Return(domainauth.TokenSet{}, identityapi.ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, domainauth.Credentials{Email: "a@b.co", Password: "bad"})
	assert.True(t, apperrors.IsUnauthorized(err))

	authn.EXPECT().SignIn(gomock.Any(), gomock.Any()).Return(domainauth.TokenSet{}, identityapi.ErrUpstream)
	_, err = svc.SignIn(ctx, domainauth.Credentials{Email: "a@b.co", Password: "pw"})
	assert.True(t, apperrors.IsUnavailable(err))
	assert.ErrorIs(t, err, identityapi.ErrUpstream)
}

func TestAuthService_SignIn_NotConfigured(t *testing.T) {
	svc := NewAuthService(AuthServiceOptions{})
	_, err := svc.SignIn(context.Background(), domainauth.Credentials{Email: "a@b.co", Password: "pw"})
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestAuthService_ResolveRole_CacheHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockRoleCache(ctrl)
	lookup := mocks.NewMockRoleLookup(ctrl)
	metrics := &lookupCounter{}
	svc := NewAuthService(AuthServiceOptions{Cache: cache, Lookup: lookup, Metrics: metrics})

	cache.EXPECT().Get(gomock.Any(), "tok").Return(domainauth.RoleWholesaler, true, nil)

	role := svc.ResolveRole(context.Background(), domainauth.Session{Token: "tok"})
	assert.Equal(t, domainauth.RoleWholesaler, role)
	assert.Equal(t, 1, metrics.count(LookupCacheHit))
}

func TestAuthService_ResolveRole_RemoteLookupIsCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockRoleCache(ctrl)
	lookup := mocks.NewMockRoleLookup(ctrl)
	svc := NewAuthService(AuthServiceOptions{Cache: cache, Lookup: lookup})

	sess := domainauth.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	cache.EXPECT().Get(gomock.Any(), "tok").Return(domainauth.RoleUnknown, false, nil)
	lookup.EXPECT().LookupRole(gomock.Any(), sess).Return(domainauth.RoleFarmer, nil)
	cache.EXPECT().Set(gomock.Any(), "tok", domainauth.RoleFarmer, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ domainauth.Role, ttl time.Duration) error {
			assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)
			return nil
		})

	assert.Equal(t, domainauth.RoleFarmer, svc.ResolveRole(context.Background(), sess))
}

func TestAuthService_ResolveRole_TokenRoleIsAuthoritative(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockRoleCache(ctrl)
	lookup := mocks.NewMockRoleLookup(ctrl)
	metrics := &lookupCounter{}
	svc := NewAuthService(AuthServiceOptions{Cache: cache, Lookup: lookup, Metrics: metrics})

	// No cache or lookup expectations: a token that names its role is never second-guessed.
	tok := testutil.NewToken().WithUserType("commercial-buyer").Build(t)
	sess := domainauth.Session{Token: tok, Role: domainauth.RoleWholesaler}
	assert.Equal(t, domainauth.RoleCommercialBuyer, svc.ResolveRole(context.Background(), sess))
	assert.Equal(t, 1, metrics.count(LookupToken))
}

func TestAuthService_ResolveRole_FallsBackToSessionRole(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockRoleLookup(ctrl)
	metrics := &lookupCounter{}
	svc := NewAuthService(AuthServiceOptions{Lookup: lookup, Metrics: metrics})

	tok := testutil.NewToken().Build(t)
	lookup.EXPECT().LookupRole(gomock.Any(), gomock.Any()).
		Return(domainauth.RoleUnknown, identityapi.ErrRoleUnavailable).Times(2)

	assert.Equal(t, domainauth.RoleBaseUser,
		svc.ResolveRole(context.Background(), domainauth.Session{Token: tok, Role: domainauth.RoleBaseUser}))
	assert.Equal(t, domainauth.RoleUnknown, svc.ResolveRole(context.Background(), domainauth.Session{Token: tok}))
	assert.Equal(t, 2, metrics.count(LookupFallback))

	assert.Equal(t, domainauth.RoleUnknown, svc.ResolveRole(context.Background(), domainauth.Session{}))
}

func TestAuthService_ResolveRole_DedupesConcurrentLookups(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockRoleLookup(ctrl)
	svc := NewAuthService(AuthServiceOptions{Lookup: lookup})

	release := make(chan struct{})
	var calls atomic.Int32
	lookup.EXPECT().LookupRole(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domainauth.Session) (domainauth.Role, error) {
			calls.Add(1)
			<-release
			return domainauth.RoleFarmer, nil
		}).MinTimes(1).MaxTimes(2)

	var wg sync.WaitGroup
	results := make([]domainauth.Role, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = svc.ResolveRole(context.Background(), domainauth.Session{Token: "same"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, domainauth.RoleFarmer, r)
	}
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestAuthService_ResolveRole_CallerCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockRoleLookup(ctrl)
	svc := NewAuthService(AuthServiceOptions{Lookup: lookup, LookupTimeout: time.Second})

	tok := testutil.NewToken().Build(t)
	lookup.EXPECT().LookupRole(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domainauth.Session) (domainauth.Role, error) {
			<-ctx.Done()
			return domainauth.RoleUnknown, ctx.Err()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	sess := domainauth.Session{Token: tok, Role: domainauth.RoleFarmer}
	assert.Equal(t, domainauth.RoleFarmer, svc.ResolveRole(ctx, sess))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "navigation never waits on the lookup")
}

func TestAuthService_RefreshRoleAsync(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockRoleLookup(ctrl)
	cache := memory.NewRoleCache(memory.RoleCacheOptions{})
	svc := NewAuthService(AuthServiceOptions{Lookup: lookup})
	mgr := session.NewManager(session.Options{Cache: cache})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: "tok"})
	store := mgr.Bind(httptest.NewRecorder(), r).Detached()

	lookup.EXPECT().LookupRole(gomock.Any(), gomock.Any()).Return(domainauth.RoleBaseUser, nil)
	svc.RefreshRoleAsync(context.Background(), store)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	role, ok, err := cache.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domainauth.RoleBaseUser, role)
}

func TestAuthService_RefreshRoleAsync_SkipsWithoutToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockRoleLookup(ctrl)
	svc := NewAuthService(AuthServiceOptions{Lookup: lookup})
	mgr := session.NewManager(session.Options{})

	svc.RefreshRoleAsync(context.Background(), mgr.Bind(nil, nil))
	svc.RefreshRoleAsync(context.Background(), nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: testutil.NewToken().WithUserType("FARMER").Build(t)})
	svc.RefreshRoleAsync(context.Background(), mgr.Bind(nil, r))
	require.NoError(t, svc.Wait(context.Background()))
}

func TestAuthService_Logout(t *testing.T) {
	svc := NewAuthService(AuthServiceOptions{})
	mgr := session.NewManager(session.Options{})

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: "tok"})
	store := mgr.Bind(rec, r)

	require.NoError(t, svc.Logout(context.Background(), store))
	assert.Empty(t, store.Token())

	err := svc.Logout(context.Background(), mgr.Bind(nil, nil))
	require.ErrorIs(t, err, session.ErrStorageUnavailable)
	assert.True(t, errors.Is(err, session.ErrStorageUnavailable))
	require.NoError(t, svc.Logout(context.Background(), nil))
}
