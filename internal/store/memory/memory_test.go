package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/pkg/codec"
	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/pattern"
)

func ev(symbols ...string) event.Event {
	return codec.CanonicalizeEvent(symbols, true)
}

// TestS1SimpleRoundTrip mirrors spec scenario S1.
func TestS1SimpleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	events := []event.Event{ev("hello", "world"), ev("goodbye")}
	name, isNoOp, err := s.Learn(ctx, "k1", events, nil, false)
	require.NoError(t, err)
	require.False(t, isNoOp)

	p, err := s.Get(ctx, "k1", name)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Length)
	assert.Equal(t, 3, p.TokenCount)
	assert.True(t, p.TokenSet.Contains("hello"))
	assert.True(t, p.TokenSet.Contains("world"))
	assert.True(t, p.TokenSet.Contains("goodbye"))
	assert.Equal(t, 1, p.Frequency)
	assert.Contains(t, string(p.Name), codec.NamePrefix)
}

// TestS2SortInvariance mirrors spec scenario S2.
func TestS2SortInvariance(t *testing.T) {
	ctx := context.Background()
	s := New()

	events1 := []event.Event{ev("hello", "world"), ev("goodbye")}
	name1, _, err := s.Learn(ctx, "k1", events1, nil, true)
	require.NoError(t, err)

	events2 := []event.Event{ev("world", "hello"), ev("goodbye")}
	name2, isNoOp, err := s.Learn(ctx, "k1", events2, nil, true)
	require.NoError(t, err)
	assert.False(t, isNoOp)
	assert.Equal(t, name1, name2)

	p, err := s.Get(ctx, "k1", name1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Frequency)
}

// TestS5EmptyLearnIsNoOp mirrors spec scenario S5.
func TestS5EmptyLearnIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := New()

	name, isNoOp, err := s.Learn(ctx, "k1", nil, nil, false)
	require.NoError(t, err)
	assert.True(t, isNoOp)
	assert.Empty(t, name)
}

func TestLearnRejectsSingleEventSequence(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, isNoOp, err := s.Learn(ctx, "k1", []event.Event{ev("a")}, nil, false)
	require.NoError(t, err)
	assert.True(t, isNoOp)
}

// TestS6ConcurrentLearns mirrors spec scenario S6.
func TestS6ConcurrentLearns(t *testing.T) {
	ctx := context.Background()
	s := New()
	events := []event.Event{ev("a"), ev("b")}

	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := s.Learn(ctx, "k1", events, nil, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	name := pattern.Name(codec.Name(events))
	p, err := s.Get(ctx, "k1", name)
	require.NoError(t, err)
	assert.Equal(t, n, p.Frequency)
}

// TestS7PartitionIsolation mirrors spec scenario S7.
func TestS7PartitionIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	events := []event.Event{ev("a"), ev("b")}

	nameA, _, err := s.Learn(ctx, "a", events, nil, false)
	require.NoError(t, err)
	nameB, _, err := s.Learn(ctx, "b", events, nil, false)
	require.NoError(t, err)
	assert.Equal(t, nameA, nameB, "same event sequence => same content address")

	pa, err := s.Get(ctx, "a", nameA)
	require.NoError(t, err)
	assert.Equal(t, 1, pa.Frequency)

	// Learn again only in partition "a".
	_, _, err = s.Learn(ctx, "a", events, nil, true)
	require.NoError(t, err)

	pa, _ = s.Get(ctx, "a", nameA)
	pb, _ := s.Get(ctx, "b", nameB)
	assert.Equal(t, 2, pa.Frequency)
	assert.Equal(t, 1, pb.Frequency, "learning in partition a must not affect partition b")

	_, err = s.Get(ctx, "c", nameA)
	assert.ErrorIs(t, err, pattern.ErrNotFound)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "k1", "PATTERN|missing")
	assert.ErrorIs(t, err, pattern.ErrNotFound)
}

func TestPurgeDropsPartitionOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	events := []event.Event{ev("a"), ev("b")}
	nameA, _, _ := s.Learn(ctx, "a", events, nil, false)
	nameB, _, _ := s.Learn(ctx, "b", events, nil, false)

	require.NoError(t, s.Purge(ctx, "a"))

	_, err := s.Get(ctx, "a", nameA)
	assert.ErrorIs(t, err, pattern.ErrNotFound)

	_, err = s.Get(ctx, "b", nameB)
	assert.NoError(t, err)
}

func TestScanCandidatesMonotoneFilterChain(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Learn(ctx, "k1", []event.Event{ev("a", "b"), ev("c")}, nil, false)
	s.Learn(ctx, "k1", []event.Event{ev("x", "y"), ev("z")}, nil, false)

	all := collect(s.ScanCandidates(ctx, "k1", pattern.CandidateQuery{TokenSet: event.NewSet("a", "b", "c")}))
	assert.Len(t, all, 2, "with no gates enabled every pattern survives")

	narrowed := collect(s.ScanCandidates(ctx, "k1", pattern.CandidateQuery{
		TokenSet:   event.NewSet("a", "b", "c"),
		UseBloom:   true,
		MinOverlap: 1,
	}))
	assert.LessOrEqual(t, len(narrowed), len(all), "a filter stage must never add candidates")
}

func TestScanCandidatesUnknownPartitionIsEmpty(t *testing.T) {
	s := New()
	got := collect(s.ScanCandidates(context.Background(), "nope", pattern.CandidateQuery{}))
	assert.Empty(t, got)
}

func collect[T any](seq func(func(T) bool)) []T {
	var out []T
	seq(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}
