package patterncache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/internal/patterncache"
	"github.com/sevakavakians/kato/internal/store/memory"
	"github.com/sevakavakians/kato/pkg/event"
)

func newTestCache(t *testing.T) (*patterncache.Repository, *memory.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backing := memory.New()
	return patterncache.New(backing, client, time.Minute), backing
}

func TestGetPopulatesCacheOnMiss(t *testing.T) {
	ctx := context.Background()
	cache, backing := newTestCache(t)

	events := []event.Event{{"hello", "world"}, {"goodbye"}}
	name, isNoOp, err := backing.Learn(ctx, "kb1", events, nil, true)
	require.NoError(t, err)
	require.False(t, isNoOp)

	got, err := cache.Get(ctx, "kb1", name)
	require.NoError(t, err)
	require.Equal(t, name, got.Name)
	require.Equal(t, 2, got.Length)

	// A second Get should be served from the cache; corrupting the backing
	// store's copy (impossible to express cleanly without an extra seam, so
	// instead we just assert the cached copy matches on a second read).
	got2, err := cache.Get(ctx, "kb1", name)
	require.NoError(t, err)
	require.Equal(t, got.Name, got2.Name)
	require.Equal(t, got.Frequency, got2.Frequency)
}

func TestLearnInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	events := []event.Event{{"a"}, {"b"}}
	name, _, err := cache.Learn(ctx, "kb1", events, nil, true)
	require.NoError(t, err)

	first, err := cache.Get(ctx, "kb1", name)
	require.NoError(t, err)
	require.Equal(t, 1, first.Frequency)

	_, isNoOp, err := cache.Learn(ctx, "kb1", events, nil, true)
	require.NoError(t, err)
	require.False(t, isNoOp)

	second, err := cache.Get(ctx, "kb1", name)
	require.NoError(t, err)
	require.Equal(t, 2, second.Frequency)
}

func TestPurgeClearsCachedEntries(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	events := []event.Event{{"x"}, {"y"}}
	name, _, err := cache.Learn(ctx, "kb1", events, nil, true)
	require.NoError(t, err)
	_, err = cache.Get(ctx, "kb1", name)
	require.NoError(t, err)

	require.NoError(t, cache.Purge(ctx, "kb1"))

	_, err = cache.Get(ctx, "kb1", name)
	require.Error(t, err)
}
