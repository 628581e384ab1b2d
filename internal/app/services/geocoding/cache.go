package geocoding

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores encoded geocoding results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with one of the prefixes.
	DeletePrefix(ctx context.Context, prefixes ...string) (int, error)
	Ping(ctx context.Context) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) DeletePrefix(ctx context.Context, prefixes ...string) (int, error) {
	deleted := 0
	for _, prefix := range prefixes {
		iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 100 {
				n, err := c.client.Del(ctx, batch...).Result()
				if err != nil {
					return deleted, err
				}
				deleted += int(n)
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return deleted, err
		}
		if len(batch) > 0 {
			n, err := c.client.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
	}
	return deleted, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local Cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryCache) DeletePrefix(_ context.Context, prefixes ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for key := range c.entries {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				delete(c.entries, key)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
