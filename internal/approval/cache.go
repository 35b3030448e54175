package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved configurations per organization.
type Cache interface {
	Get(ctx context.Context, orgID int64) (Configuration, bool, error)
	Set(ctx context.Context, cfg Configuration) error
	Invalidate(ctx context.Context, orgID int64) error
}

type cacheEntry struct {
	cfg     Configuration
	expires time.Time
}

// MemoryCache keeps configurations in process for a bounded TTL.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]cacheEntry
}

// NewMemoryCache constructs a MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[int64]cacheEntry)}
}

// WithNow overrides the clock.
func (c *MemoryCache) WithNow(now func() time.Time) *MemoryCache {
	if now != nil {
		c.now = now
	}
	return c
}

// Get returns the cached configuration when it has not expired.
func (c *MemoryCache) Get(_ context.Context, orgID int64) (Configuration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[orgID]
	if !ok {
		return Configuration{}, false, nil
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, orgID)
		return Configuration{}, false, nil
	}
	return entry.cfg, true, nil
}

// Set stores cfg until the TTL elapses.
func (c *MemoryCache) Set(_ context.Context, cfg Configuration) error {
	c.mu.Lock()
	c.entries[cfg.OrganizationID] = cacheEntry{cfg: cfg, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Invalidate drops the organization's entry.
func (c *MemoryCache) Invalidate(_ context.Context, orgID int64) error {
	c.mu.Lock()
	delete(c.entries, orgID)
	c.mu.Unlock()
	return nil
}

// RedisCache shares configurations between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(orgID int64) string {
	return fmt.Sprintf("approval:config:%d", orgID)
}

// Get loads the configuration JSON.
func (c *RedisCache) Get(ctx context.Context, orgID int64) (Configuration, bool, error) {
	payload, err := c.client.Get(ctx, redisKey(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Configuration{}, false, nil
	}
	if err != nil {
		return Configuration{}, false, err
	}
	var cfg Configuration
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return Configuration{}, false, err
	}
	return cfg, true, nil
}

// Set writes the configuration JSON with the TTL.
func (c *RedisCache) Set(ctx context.Context, cfg Configuration) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(cfg.OrganizationID), raw, c.ttl).Err()
}

// Invalidate deletes the key.
func (c *RedisCache) Invalidate(ctx context.Context, orgID int64) error {
	return c.client.Del(ctx, redisKey(orgID)).Err()
}
