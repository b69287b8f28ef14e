package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const idempotencyNamespace = "ledger:idem:"

// IdempotencyCache is the fast path in front of the idempotency log. It
// only ever holds results that are already committed, so the first stored
// result for a key wins and later writes are ignored.
type IdempotencyCache struct {
	client goredis.UniversalClient
}

func NewIdempotencyCache(client goredis.UniversalClient) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

func cacheKey(key string) string {
	return idempotencyNamespace + key
}

// Get returns the cached result, or nil when the key is unknown or expired.
func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get cached result %q: %w", key, err)
	}
	return body, nil
}

// Set caches a committed result for ttl unless one is already cached.
func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.client.SetArgs(ctx, cacheKey(key), value, goredis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("cache result %q: %w", key, err)
	}
	return nil
}
