package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries the caller's token,
// so an expired holder cannot release a lock taken over by someone else.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CardLock implements ports.CardLock with SET NX and a per-holder token.
type CardLock struct {
	client goredis.UniversalClient
	prefix string
}

// NewCardLock creates a new Redis-backed card lock.
func NewCardLock(client goredis.UniversalClient) *CardLock {
	return &CardLock{
		client: client,
		prefix: "cardlock:",
	}
}

// Acquire takes the lock for cardUID. It returns false when another request
// already holds it.
func (l *CardLock) Acquire(ctx context.Context, cardUID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	_, err := l.client.SetArgs(ctx, l.prefix+cardUID, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis card lock acquire: %w", err)
	}
	return token, true, nil
}

// Release drops the lock if token still owns it.
func (l *CardLock) Release(ctx context.Context, cardUID string, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + cardUID}, token).Err(); err != nil {
		return fmt.Errorf("redis card lock release: %w", err)
	}
	return nil
}
