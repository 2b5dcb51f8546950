package config

import (
	"strings"
	"time"
)

// RedisConfig contains Redis configuration. Redis is optional: without it
// roles are cached in process.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:""`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// Sanitize drops empty node entries.
func (r *RedisConfig) Sanitize() {
	r.URI = strings.TrimSpace(r.URI)
	r.SentinelNodes = compact(r.SentinelNodes)
	r.ClusterNodes = compact(r.ClusterNodes)
	if r.UseSentinel && len(r.SentinelNodes) == 0 {
		r.UseSentinel = false
	}
	if r.UseCluster && len(r.ClusterNodes) == 0 {
		r.UseCluster = false
	}
}

// Enabled reports whether any Redis topology is configured.
func (r *RedisConfig) Enabled() bool {
	return r.URI != "" || r.UseSentinel || r.UseCluster
}

// RoleCacheConfig controls how long resolved roles are remembered.
type RoleCacheConfig struct {
	Prefix string        `env:"ROLE_CACHE_PREFIX"  envDefault:"role:"`
	MaxTTL time.Duration `env:"ROLE_CACHE_MAX_TTL" envDefault:"1h"`
	// MaxEntries bounds the in-process cache used without Redis.
	MaxEntries int `env:"ROLE_CACHE_MAX_ENTRIES" envDefault:"10000"`
}

// Sanitize restores defaults.
func (c *RoleCacheConfig) Sanitize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "role:"
	}
	if c.MaxTTL < 0 {
		c.MaxTTL = 0
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
