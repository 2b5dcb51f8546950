// Package memory provides in-process adapters used when Redis is not configured.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// DefaultMaxEntries bounds the cache when RoleCacheOptions.MaxEntries is zero.
const DefaultMaxEntries = 10_000

type entry struct {
	role      domainauth.Role
	expiresAt time.Time
}

// RoleCache is a size-bounded, expiring ports.RoleCache for a single process.
// Tokens are stored as sha256 digests. The least recently used entry is
// evicted once MaxEntries is reached, and nothing outlives MaxTTL (or the
// default session lifetime when MaxTTL is zero).
type RoleCache struct {
	lru    *expirable.LRU[string, entry]
	maxTTL time.Duration
	now    func() time.Time
}

// RoleCacheOptions configures NewRoleCache.
type RoleCacheOptions struct {
	MaxTTL     time.Duration
	MaxEntries int
	Now        func() time.Time
}

// NewRoleCache creates an empty cache.
func NewRoleCache(opts RoleCacheOptions) *RoleCache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	size := opts.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	sweep := opts.MaxTTL
	if sweep <= 0 {
		sweep = domainauth.DefaultSessionLifetime
	}
	return &RoleCache{
		lru:    expirable.NewLRU[string, entry](size, nil, sweep),
		maxTTL: opts.MaxTTL,
		now:    now,
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *RoleCache) Get(_ context.Context, token string) (domainauth.Role, bool, error) {
	if token == "" {
		return domainauth.RoleUnknown, false, nil
	}

	key := tokenKey(token)
	e, ok := c.lru.Get(key)
	if !ok {
		return domainauth.RoleUnknown, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return domainauth.RoleUnknown, false, nil
	}
	return e.role, true, nil
}

func (c *RoleCache) Set(ctx context.Context, token string, role domainauth.Role, ttl time.Duration) error {
	if token == "" || ttl < 0 {
		return nil
	}
	if !role.Known() {
		return c.Delete(ctx, token)
	}
	if c.maxTTL > 0 && (ttl == 0 || ttl > c.maxTTL) {
		ttl = c.maxTTL
	}

	e := entry{role: role}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.lru.Add(tokenKey(token), e)
	return nil
}

func (c *RoleCache) Delete(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	c.lru.Remove(tokenKey(token))
	return nil
}

// Len reports the number of entries still held.
func (c *RoleCache) Len() int {
	return c.lru.Len()
}
