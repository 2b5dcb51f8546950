// Package guard re-validates a browsing context's session over time: on every
// navigation, on a fixed polling interval, or at the moment the session is
// scheduled to expire.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agromarket/marketgate/internal/domain/access"
	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
	"github.com/agromarket/marketgate/internal/ports"
)

// Mode selects how Run detects expiry.
type Mode string

const (
	// ModePoll re-checks validity every Interval.
	ModePoll Mode = "poll"
	// ModeScheduled arms a single timer at the session's expiry.
	ModeScheduled Mode = "scheduled"
)

// DefaultInterval is the polling period.
const DefaultInterval = time.Minute

// ParseMode maps a config value onto a Mode, defaulting to ModePoll.
func ParseMode(s string) Mode {
	if Mode(s) == ModeScheduled {
		return ModeScheduled
	}
	return ModePoll
}

// Validity is the hook's view of a session. It carries no redirect decision.
type Validity struct {
	Authenticated bool            `json:"authenticated"`
	Expired       bool            `json:"expired"`
	Role          domainauth.Role `json:"user_type"`
	ExpiresAt     time.Time       `json:"expires_at,omitzero"`
	ExpiresIn     time.Duration   `json:"-"`
}

// Check evaluates sess at now. A present token past its expiry is reported as
// Expired; a missing token is simply not Authenticated.
func Check(now time.Time, sess domainauth.Session) Validity {
	v := Validity{ExpiresAt: sess.ExpiresAt}
	if !sess.HasToken() {
		return v
	}
	if sess.Expired(now) {
		v.Expired = true
		return v
	}
	v.Authenticated = true
	v.Role = sess.Role
	if !sess.ExpiresAt.IsZero() {
		v.ExpiresIn = sess.ExpiresAt.Sub(now)
	}
	return v
}

// Options configures a Guard.
type Options struct {
	Store    ports.SessionStore
	Mode     Mode
	Interval time.Duration
	Policy   access.Policy
	// OnExpired is called at most once, when the session is found invalid.
	OnExpired func()
	Now       func() time.Time
	Logger    *slog.Logger
}

// Guard owns the session checks for one browsing context.
type Guard struct {
	store     ports.SessionStore
	mode      Mode
	interval  time.Duration
	policy    access.Policy
	onExpired func()
	now       func() time.Time
	logger    *slog.Logger

	once  sync.Once
	fired chan struct{}
	reset chan struct{}
}

// New creates a Guard.
func New(opts Options) (*Guard, error) {
	if opts.Store == nil {
		return nil, errors.New("guard: session store is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModePoll
	}
	return &Guard{
		store:     opts.Store,
		mode:      mode,
		interval:  interval,
		policy:    opts.Policy,
		onExpired: opts.OnExpired,
		now:       now,
		logger:    logger,
		fired:     make(chan struct{}),
		reset:     make(chan struct{}, 1),
	}, nil
}

// Check reads the store and returns the current validity.
func (g *Guard) Check(ctx context.Context) Validity {
	return Check(g.now(), g.store.Session(ctx))
}

// Navigate re-validates the session for a path change and returns the
// decision. An expired session is cleared and treated as anonymous.
func (g *Guard) Navigate(ctx context.Context, path string) access.Decision {
	v := g.Check(ctx)
	if v.Expired {
		g.expire(ctx)
	}
	return access.Decide(access.NewInput(path, v.Authenticated, v.Role), g.policy)
}

// Reset tells a running scheduled guard that the session was replaced.
func (g *Guard) Reset() {
	select {
	case g.reset <- struct{}{}:
	default:
	}
}

// Expired is closed once the guard has forced a logout.
func (g *Guard) Expired() <-chan struct{} { return g.fired }

// Run watches the session until it becomes invalid or ctx is done. It returns
// nil after a forced logout and ctx.Err() on cancellation; no timers survive it.
func (g *Guard) Run(ctx context.Context) error {
	if g.mode == ModeScheduled {
		return g.runScheduled(ctx)
	}
	return g.runPoll(ctx)
}

func (g *Guard) runPoll(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.fired:
			return nil
		case <-g.reset:
		case <-ticker.C:
			if !g.Check(ctx).Authenticated {
				g.expire(ctx)
				return nil
			}
		}
	}
}

func (g *Guard) runScheduled(ctx context.Context) error {
	for {
		v := g.Check(ctx)
		if !v.Authenticated {
			g.expire(ctx)
			return nil
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if !v.ExpiresAt.IsZero() {
			timer = time.NewTimer(v.ExpiresIn)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-g.fired:
			stopTimer(timer)
			return nil
		case <-g.reset:
			stopTimer(timer)
		case <-timerC:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (g *Guard) expire(ctx context.Context) {
	g.once.Do(func() {
		// Detached stores cannot write; their owner clears the cookies on the next request.
		if err := g.store.ClearSession(ctx); err != nil {
			g.logger.DebugContext(ctx, "clear expired session", "error", err)
		}
		if g.onExpired != nil {
			g.onExpired()
		}
		close(g.fired)
	})
}
