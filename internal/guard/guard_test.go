package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agromarket/marketgate/internal/domain/access"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/session"
	"github.com/agromarket/marketgate/internal/testutil"
)

// fakeStore is a concurrency-safe in-memory session for guard tests.
type fakeStore struct {
	mu      sync.Mutex
	sess    domainauth.Session
	cleared int
}

func (f *fakeStore) set(sess domainauth.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess = sess
}

func (f *fakeStore) Token() string     { f.mu.Lock(); defer f.mu.Unlock(); return f.sess.Token }
func (f *fakeStore) TokenType() string { return domainauth.DefaultTokenType }
func (f *fakeStore) Role(context.Context) domainauth.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess.Role
}
func (f *fakeStore) TokenRole() domainauth.Role { return domainauth.RoleUnknown }
func (f *fakeStore) Expiry() time.Time          { f.mu.Lock(); defer f.mu.Unlock(); return f.sess.ExpiresAt }
func (f *fakeStore) Session(context.Context) domainauth.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess
}

func (f *fakeStore) SetSession(context.Context, domainauth.TokenSet) error {
	return errors.New("not supported")
}

func (f *fakeStore) ClearSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess = domainauth.Session{}
	f.cleared++
	return nil
}

func (f *fakeStore) CacheRole(context.Context, domainauth.Role) error { return nil }

func (f *fakeStore) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func TestCheck(t *testing.T) {
	now := testutil.TestTime()

	v := Check(now, domainauth.Session{})
	assert.False(t, v.Authenticated)
	assert.False(t, v.Expired)

	v = Check(now, domainauth.Session{Token: "t", Role: domainauth.RoleFarmer, ExpiresAt: now.Add(time.Minute)})
	assert.True(t, v.Authenticated)
	assert.Equal(t, domainauth.RoleFarmer, v.Role)
	assert.Equal(t, time.Minute, v.ExpiresIn)

	v = Check(now, domainauth.Session{Token: "t", Role: domainauth.RoleFarmer, ExpiresAt: now})
	assert.False(t, v.Authenticated)
	assert.True(t, v.Expired)
	assert.Equal(t, domainauth.RoleUnknown, v.Role)

	v = Check(now, domainauth.Session{Role: domainauth.RoleFarmer})
	assert.False(t, v.Authenticated, "cached role without a token is anonymous")

	v = Check(now, domainauth.Session{Token: "t"})
	assert.True(t, v.Authenticated)
	assert.Zero(t, v.ExpiresIn)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeScheduled, ParseMode("scheduled"))
	assert.Equal(t, ModePoll, ParseMode("poll"))
	assert.Equal(t, ModePoll, ParseMode(""))
	assert.Equal(t, ModePoll, ParseMode("bogus"))
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestGuard_Navigate(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := &fakeStore{}
	store.set(domainauth.Session{Token: "t", Role: domainauth.RoleFarmer, ExpiresAt: clock.Now().Add(time.Hour)})

	var fired atomic.Int32
	g, err := New(Options{Store: store, Now: clock.Now, OnExpired: func() { fired.Add(1) }})
	require.NoError(t, err)
	ctx := context.Background()

	d := g.Navigate(ctx, "/wholesaler/auctions")
	assert.Equal(t, access.ActionRedirect, d.Action)
	assert.Equal(t, "/farmer", d.Target)

	assert.True(t, g.Navigate(ctx, "/farmer/products").Allowed())
	assert.Equal(t, "/farmer", g.Navigate(ctx, "/signin").Target)

	clock.AddTime(2 * time.Hour)
	d = g.Navigate(ctx, "/wholesaler")
	assert.True(t, d.Allowed(), "expired session is anonymous")
	assert.Equal(t, access.ReasonAnonymous, d.Reason)
	assert.Equal(t, 1, store.clearCount())
	assert.Equal(t, int32(1), fired.Load())

	select {
	case <-g.Expired():
	default:
		t.Fatal("expired channel should be closed")
	}
}

func TestGuard_NavigateStrictPolicy(t *testing.T) {
	store := &fakeStore{}
	g, err := New(Options{Store: store, Policy: access.Policy{StrictAnonymous: true}})
	require.NoError(t, err)

	d := g.Navigate(context.Background(), "/wholesaler")
	assert.Equal(t, access.SignInPath, d.Target)
}

func TestGuard_PollDetectsExpiry(t *testing.T) {
	clock := testutil.NewTestTimeProvider(time.Now())
	store := &fakeStore{}
	store.set(domainauth.Session{Token: "t", ExpiresAt: clock.Now().Add(time.Minute)})

	var fired atomic.Int32
	g, err := New(Options{
		Store:     store,
		Interval:  10 * time.Millisecond,
		Now:       clock.Now,
		OnExpired: func() { fired.Add(1) },
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, fired.Load(), "still valid")

	clock.AddTime(time.Minute)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll guard did not notice expiry")
	}
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 1, store.clearCount())
}

func TestGuard_PollDetectsLogoutElsewhere(t *testing.T) {
	store := &fakeStore{}
	store.set(domainauth.Session{Token: "t"})

	g, err := New(Options{Store: store, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	store.set(domainauth.Session{})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll guard did not notice missing session")
	}
}

func TestGuard_RunStopsOnCancel(t *testing.T) {
	for _, mode := range []Mode{ModePoll, ModeScheduled} {
		t.Run(string(mode), func(t *testing.T) {
			store := &fakeStore{}
			store.set(domainauth.Session{Token: "t", ExpiresAt: time.Now().Add(time.Hour)})

			var fired atomic.Int32
			g, err := New(Options{Store: store, Mode: mode, Interval: 5 * time.Millisecond, OnExpired: func() { fired.Add(1) }})
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- g.Run(ctx) }()

			time.Sleep(20 * time.Millisecond)
			cancel()
			select {
			case err := <-done:
				require.ErrorIs(t, err, context.Canceled)
			case <-time.After(time.Second):
				t.Fatal("Run did not return after cancel")
			}
			assert.Zero(t, fired.Load())
			assert.Zero(t, store.clearCount())
		})
	}
}

func TestGuard_ScheduledFiresAtExpiry(t *testing.T) {
	store := &fakeStore{}
	store.set(domainauth.Session{Token: "t", ExpiresAt: time.Now().Add(30 * time.Millisecond)})

	var fired atomic.Int32
	g, err := New(Options{Store: store, Mode: ModeScheduled, OnExpired: func() { fired.Add(1) }})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, g.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestGuard_ScheduledResetRearms(t *testing.T) {
	store := &fakeStore{}
	store.set(domainauth.Session{Token: "t", ExpiresAt: time.Now().Add(40 * time.Millisecond)})

	var fired atomic.Int32
	g, err := New(Options{Store: store, Mode: ModeScheduled, OnExpired: func() { fired.Add(1) }})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	store.set(domainauth.Session{Token: "t2", ExpiresAt: time.Now().Add(time.Hour)})
	g.Reset()

	select {
	case <-done:
		t.Fatal("replaced session must not expire on the old schedule")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, fired.Load())

	store.set(domainauth.Session{Token: "t3", ExpiresAt: time.Now().Add(10 * time.Millisecond)})
	g.Reset()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("rearmed schedule did not fire")
	}
	assert.Equal(t, int32(1), fired.Load())
}

func TestGuard_ScheduledWithoutSessionFiresImmediately(t *testing.T) {
	var fired atomic.Int32
	g, err := New(Options{Store: &fakeStore{}, Mode: ModeScheduled, OnExpired: func() { fired.Add(1) }})
	require.NoError(t, err)

	require.NoError(t, g.Run(context.Background()))
	require.NoError(t, g.Run(context.Background()))
	assert.Equal(t, int32(1), fired.Load(), "OnExpired runs once per guard")
}

func TestGuard_WithDetachedSessionStore(t *testing.T) {
	mgr := session.NewManager(session.Options{})
	r := httptest.NewRequest(http.MethodGet, "/auth/watch", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieAccessToken, Value: "opaque"})
	r.AddCookie(&http.Cookie{
		Name:  session.CookieExpiresAt,
		Value: strconv.FormatInt(time.Now().Add(20*time.Millisecond).UnixMilli(), 10),
	})
	store := mgr.Bind(httptest.NewRecorder(), r).Detached()

	var fired atomic.Int32
	g, err := New(Options{Store: store, Mode: ModeScheduled, OnExpired: func() { fired.Add(1) }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Run(ctx))
	assert.Equal(t, int32(1), fired.Load())
}
