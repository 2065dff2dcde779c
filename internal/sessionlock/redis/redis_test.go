package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	lockredis "github.com/sevakavakians/kato/internal/sessionlock/redis"
)

func newTestLocker(t *testing.T) *lockredis.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lockredis.New(client)
}

func TestLockThenUnlockAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	unlock, err := locker.Lock(ctx, "s1")
	require.NoError(t, err)
	unlock()

	unlock2, err := locker.Lock(ctx, "s1")
	require.NoError(t, err)
	unlock2()
}

func TestLockBlocksConcurrentHolder(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	unlock, err := locker.Lock(ctx, "s1")
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(shortCtx, "s1")
	require.Error(t, err)

	unlock()
}

func TestLockIsPerSessionIndependent(t *testing.T) {
	ctx := context.Background()
	locker := newTestLocker(t)

	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}
