// Package redis implements session.Locker as a Redis-backed advisory lock:
// SET key value NX PX ttl to acquire, a compare-and-delete Lua script to
// release only the holder's own lock. Same CAS-via-Lua-script shape as
// internal/sessionstore/redis's lease swap.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "kato:lock:"

// unlockScript deletes the lock key only if it still holds the token this
// client set, so a lock whose TTL expired and was re-acquired by someone
// else is never clobbered by a late release.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	lockTTL    = 10 * time.Second
	retryEvery = 20 * time.Millisecond
)

// Locker is the Redis-backed session.Locker implementation.
type Locker struct {
	client *goredis.Client
}

// New wraps an already-configured go-redis client.
func New(client *goredis.Client) *Locker {
	return &Locker{client: client}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Lock implements session.Locker, spin-polling SET NX until it succeeds or
// ctx is done.
func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	token := uuid.New().String()
	k := key(sessionID)

	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, k, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("sessionlock/redis: acquire: %w", err)
		}
		if ok {
			release := func() {
				unlockCtx, cancel := context.WithTimeout(context.Background(), lockTTL)
				defer cancel()
				_ = unlockScript.Run(unlockCtx, l.client, []string{k}, token).Err()
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
