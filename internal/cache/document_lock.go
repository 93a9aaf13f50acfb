package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token, so a holder whose
// TTL expired cannot release a lock taken over by someone else.
var releaseScript = redisv9.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockClient is the subset of the redis client the lock needs.
type LockClient interface {
	redisv9.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redisv9.BoolCmd
}

// DocumentLock serialises ingestion runs of the same document across processes.
type DocumentLock struct {
	client LockClient
	ttl    time.Duration
}

func NewDocumentLock(client LockClient, ttl time.Duration) *DocumentLock {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &DocumentLock{client: client, ttl: ttl}
}

// Acquire takes the lock for documentID. ok is false when another run holds it. The
// returned release func is a no-op when ok is false.
func (l *DocumentLock) Acquire(ctx context.Context, documentID uint) (release func(context.Context) error, ok bool, err error) {
	key := lockKey(documentID)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return noopRelease, false, fmt.Errorf("redis acquire document lock failed: %w", err)
	}
	if !ok {
		return noopRelease, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis release document lock failed: %w", err)
		}
		return nil
	}, true, nil
}

func noopRelease(context.Context) error { return nil }

func lockKey(documentID uint) string {
	return fmt.Sprintf("brain:ingest:lock:%d", documentID)
}
