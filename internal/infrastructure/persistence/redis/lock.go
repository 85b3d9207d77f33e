package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a SET NX PX lock. The TTL bounds how long a crashed holder can
// block a practitioner.
type Locker struct {
	client   *redis.Client
	ttl      time.Duration
	interval time.Duration
}

var _ progression.Locker = (*Locker)(nil)

// NewLocker creates a Locker. A zero ttl uses TTLDistributedLock.
func NewLocker(cache *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	return &Locker{client: cache.Client(), ttl: ttl, interval: 25 * time.Millisecond}
}

// Acquire polls until the key is free or timeout elapses.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock %s: %v", shared.ErrServiceUnavailable, key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		if !time.Now().Before(deadline) {
			return nil, shared.ErrBusy
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, shared.ErrBusy
			}
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	return func() {
		// Detached so a cancelled request still frees the lock.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
}
