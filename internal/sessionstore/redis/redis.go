// Package redis implements session.Store on top of a single Redis hash per
// session: fields "state" (JSON), "lease_token", and "lease_expires". A
// compare-and-swap Lua script makes Save atomic, the same token-bucket
// CAS shape used for rate limiting elsewhere in the pack.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sevakavakians/kato/pkg/session"
)

const keyPrefix = "kato:session:"

// saveScript performs the lease compare-and-swap: it refuses to write if
// the session already carries a different lease token than the one the
// caller last observed, and otherwise writes the new state, mints the next
// lease token, and refreshes the key's TTL in one atomic step.
var saveScript = goredis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "lease_token")
if cur and cur ~= ARGV[1] then
    return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[2], "lease_token", ARGV[3], "lease_expires", ARGV[4])
redis.call("EXPIRE", KEYS[1], ARGV[5])
return 1
`)

const leaseWindow = 30 * time.Second

// Store is the Redis-backed session.Store implementation.
type Store struct {
	client *goredis.Client
}

// New wraps an already-configured go-redis client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (session.State, session.Lease, error) {
	res, err := s.client.HGetAll(ctx, key(sessionID)).Result()
	if err != nil {
		return session.State{}, session.Lease{}, fmt.Errorf("sessionstore/redis: load: %w", err)
	}
	if len(res) == 0 {
		return session.State{}, session.Lease{}, session.ErrNotFound
	}

	var st session.State
	if err := json.Unmarshal([]byte(res["state"]), &st); err != nil {
		return session.State{}, session.Lease{}, fmt.Errorf("sessionstore/redis: decode state: %w", err)
	}

	var expires time.Time
	if unix, ok := res["lease_expires"]; ok {
		var sec int64
		if _, err := fmt.Sscanf(unix, "%d", &sec); err == nil {
			expires = time.Unix(sec, 0)
		}
	}
	lease := session.Lease{Token: res["lease_token"], ExpiresAt: expires}
	return st, lease, nil
}

// Save implements session.Store. A fresh session (one not previously
// Loaded) must pass a zero-value Lease; the CAS script treats an absent
// lease_token field as always writable.
func (s *Store) Save(ctx context.Context, sessionID string, state session.State, lease session.Lease) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sessionstore/redis: encode state: %w", err)
	}

	newToken := uuid.New().String()
	newExpires := time.Now().Add(leaseWindow)

	ttl := int(leaseWindow.Seconds())
	if state.Config.SessionTTL > 0 {
		ttl = int(state.Config.SessionTTL.Seconds())
	}

	res, err := saveScript.Run(ctx, s.client, []string{key(sessionID)},
		lease.Token, string(stateJSON), newToken, newExpires.Unix(), ttl,
	).Int()
	if err != nil {
		return fmt.Errorf("sessionstore/redis: save: %w", err)
	}
	if res == 0 {
		return session.ErrLeaseExpired
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("sessionstore/redis: delete: %w", err)
	}
	return nil
}
