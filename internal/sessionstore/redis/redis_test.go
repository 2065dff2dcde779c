package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	sessionredis "github.com/sevakavakians/kato/internal/sessionstore/redis"
	"github.com/sevakavakians/kato/pkg/session"
)

func newTestStore(t *testing.T) *sessionredis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return sessionredis.New(client)
}

func TestLoadMissingSessionReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Load(context.Background(), "absent")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := session.DefaultConfig("kb1")
	st := session.NewState(cfg)
	st.Events = nil

	require.NoError(t, store.Save(ctx, "s1", st, session.Lease{}))

	got, lease, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "kb1", got.Config.KBID)
	require.NotEmpty(t, lease.Token)
}

func TestSaveRejectsStaleLease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := session.DefaultConfig("kb1")
	st := session.NewState(cfg)
	require.NoError(t, store.Save(ctx, "s1", st, session.Lease{}))

	_, validLease, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	err = store.Save(ctx, "s1", st, session.Lease{Token: "wrong-token"})
	require.ErrorIs(t, err, session.ErrLeaseExpired)

	require.NoError(t, store.Save(ctx, "s1", st, validLease))
}

func TestDeleteRemovesSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cfg := session.DefaultConfig("kb1")
	st := session.NewState(cfg)
	require.NoError(t, store.Save(ctx, "s1", st, session.Lease{}))

	require.NoError(t, store.Delete(ctx, "s1"))

	_, _, err := store.Load(ctx, "s1")
	require.ErrorIs(t, err, session.ErrNotFound)
}
