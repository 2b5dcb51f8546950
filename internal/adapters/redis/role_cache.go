package redis

// Package redis provides Redis-based adapters for marketgate.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// DefaultPrefix namespaces role cache keys.
const DefaultPrefix = "role:"

// RoleCache is a Redis-backed ports.RoleCache.
// Keys are a hash of the access token so raw tokens never reach Redis.
type RoleCache struct {
	client redis.UniversalClient
	prefix string
	maxTTL time.Duration
}

type roleRecord struct {
	Role     domainauth.Role `json:"user_type"`
	CachedAt time.Time       `json:"cached_at"`
}

// NewRoleCache creates a Redis role cache. maxTTL caps every entry and is
// used when the caller passes no TTL; zero leaves the caller's TTL untouched.
func NewRoleCache(client redis.UniversalClient, maxTTL time.Duration) *RoleCache {
	return NewRoleCacheWithPrefix(client, DefaultPrefix, maxTTL)
}

// NewRoleCacheWithPrefix creates a Redis role cache with a custom key prefix.
func NewRoleCacheWithPrefix(client redis.UniversalClient, prefix string, maxTTL time.Duration) *RoleCache {
	return &RoleCache{
		client: client,
		prefix: prefix,
		maxTTL: maxTTL,
	}
}

// Key returns the Redis key used for token.
func (c *RoleCache) Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RoleCache) Get(ctx context.Context, token string) (domainauth.Role, bool, error) {
	if token == "" {
		return domainauth.RoleUnknown, false, nil
	}

	data, err := c.client.Get(ctx, c.Key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.RoleUnknown, false, nil
		}
		return domainauth.RoleUnknown, false, fmt.Errorf("redis get: %w", err)
	}

	var rec roleRecord
	if unmarshalErr := json.Unmarshal([]byte(data), &rec); unmarshalErr != nil {
		// Unreadable entries are dropped so the next lookup repopulates them.
		if delErr := c.Delete(ctx, token); delErr != nil {
			return domainauth.RoleUnknown, false, errors.Join(
				fmt.Errorf("unmarshal role record: %w", unmarshalErr), delErr)
		}
		return domainauth.RoleUnknown, false, fmt.Errorf("unmarshal role record: %w", unmarshalErr)
	}

	role := domainauth.NormalizeRole(string(rec.Role))
	if !role.Known() {
		return domainauth.RoleUnknown, false, nil
	}
	return role, true, nil
}

func (c *RoleCache) Set(ctx context.Context, token string, role domainauth.Role, ttl time.Duration) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if !role.Known() {
		return c.Delete(ctx, token)
	}
	if ttl < 0 {
		// The session is already over; nothing worth caching.
		return nil
	}
	if c.maxTTL > 0 && (ttl == 0 || ttl > c.maxTTL) {
		ttl = c.maxTTL
	}

	data, err := json.Marshal(roleRecord{Role: role, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal role record: %w", err)
	}
	return c.client.Set(ctx, c.Key(token), data, ttl).Err()
}

func (c *RoleCache) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return c.client.Del(ctx, c.Key(token)).Err()
}

// Purge removes every role entry under the cache prefix and returns how many
// keys were deleted.
func (c *RoleCache) Purge(ctx context.Context) (int, error) {
	var deleted int
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("redis del %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	return deleted, nil
}
