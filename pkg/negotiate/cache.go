package negotiate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores negotiation results keyed by
// "<businessProfileVersion>:<platformProfileHash>". Results are pure
// functions of immutable inputs, so entries never go stale within a
// process lifetime; backends may still expire them to bound memory.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Put(ctx context.Context, key string, result *Result)
}

// MemoryCache is the default in-process cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Result
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Result)}
}

// Get returns a cached result.
func (c *MemoryCache) Get(_ context.Context, key string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok
}

// Put stores a result.
func (c *MemoryCache) Put(_ context.Context, key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

// RedisCache shares negotiation results across engine replicas. Cache
// errors degrade to recomputation, never to request failure.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed cache. Entries expire after ttl
// to self-clean; zero ttl means no expiry.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "negotiate_cache"),
	}
}

func (c *RedisCache) cacheKey(key string) string {
	return "ucp:negotiation:" + key
}

// Get returns a cached result, treating any Redis error as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool) {
	raw, err := c.client.Get(ctx, c.cacheKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("negotiation cache read failed", "error", err)
		}
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("negotiation cache entry corrupt", "error", err)
		return nil, false
	}
	return &result, true
}

// Put stores a result, logging and moving on if Redis is unavailable.
func (c *RedisCache) Put(ctx context.Context, key string, result *Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("negotiation cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.cacheKey(key), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("negotiation cache write failed", "error", err)
	}
}
