package condition

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
)

// ResultCache memoizes whole-rule evaluation results for a short TTL,
// replacing the teacher's hand-rolled map[string]*CacheEntry + sync.Mutex +
// TTL with patrickmn/go-cache for the local (L1) tier and an optional
// go-redis L2 tier shared across instances. Keys are opaque strings the
// caller builds (typically ruleID + event fingerprint).
type ResultCache struct {
	logger *slog.Logger
	l1     *cache.Cache
	l2     *redis.Client
	ttl    time.Duration
}

// NewResultCache constructs a cache with the given default TTL and cleanup
// interval. redisClient may be nil to run L1-only.
func NewResultCache(logger *slog.Logger, ttl, cleanupInterval time.Duration, redisClient *redis.Client) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		logger: logger,
		l1:     cache.New(ttl, cleanupInterval),
		l2:     redisClient,
		ttl:    ttl,
	}
}

// Get returns the cached bool result for key, if present and unexpired in
// either tier.
func (c *ResultCache) Get(key string) (bool, bool) {
	if v, ok := c.l1.Get(key); ok {
		return v.(bool), true
	}
	if c.l2 == nil {
		return false, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	raw, err := c.l2.Get(ctx, key).Result()
	if err != nil {
		return false, false
	}
	var val bool
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return false, false
	}
	c.l1.Set(key, val, cache.DefaultExpiration)
	return val, true
}

// Set stores result under key in both tiers.
func (c *ResultCache) Set(key string, result bool) {
	c.l1.Set(key, result, cache.DefaultExpiration)
	if c.l2 == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := c.l2.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("condition cache: redis set failed", "error", err)
	}
}

// Flush clears the L1 tier (used by hot-reload on rule change).
func (c *ResultCache) Flush() {
	c.l1.Flush()
}
