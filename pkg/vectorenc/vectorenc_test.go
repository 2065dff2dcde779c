package vectorenc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/vectorenc"
)

type fakeIndex struct {
	records map[event.Symbol]vectorenc.Vector
	bestHit *vectorenc.Match
	failing bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[event.Symbol]vectorenc.Vector)}
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, symbol event.Symbol, vector vectorenc.Vector) error {
	if f.failing {
		return errors.New("boom")
	}
	f.records[symbol] = vector
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, _ string, _ vectorenc.Vector, _ int, _ vectorenc.Metric) ([]vectorenc.Match, error) {
	if f.failing {
		// A failing index never answers; the caller's timeout ends the call.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.bestHit != nil {
		return []vectorenc.Match{*f.bestHit}, nil
	}
	return nil, nil
}

func TestEncodeMintsFreshSymbolWhenNoMatch(t *testing.T) {
	idx := newFakeIndex()
	enc := vectorenc.NewEncoder(idx)

	symbol, err := enc.Encode(context.Background(), "k1", vectorenc.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.Contains(t, string(symbol), vectorenc.SymbolPrefix)
	assert.Contains(t, idx.records, symbol)
}

func TestEncodeIsIdempotentForEqualVectors(t *testing.T) {
	idx := newFakeIndex()
	enc := vectorenc.NewEncoder(idx)

	s1, err := enc.Encode(context.Background(), "k1", vectorenc.Vector{1, 2, 3})
	require.NoError(t, err)
	s2, err := enc.Encode(context.Background(), "k1", vectorenc.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestEncodeReturnsExistingSymbolAboveThreshold(t *testing.T) {
	idx := newFakeIndex()
	idx.bestHit = &vectorenc.Match{Symbol: "VCTR|existing", Distance: 0.99}
	enc := vectorenc.NewEncoder(idx)

	symbol, err := enc.Encode(context.Background(), "k1", vectorenc.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, event.Symbol("VCTR|existing"), symbol)
}

func TestEncodeMintsWhenBelowThreshold(t *testing.T) {
	idx := newFakeIndex()
	idx.bestHit = &vectorenc.Match{Symbol: "VCTR|existing", Distance: 0.1}
	enc := vectorenc.NewEncoder(idx)

	symbol, err := enc.Encode(context.Background(), "k1", vectorenc.Vector{1, 2, 3})
	require.NoError(t, err)
	assert.NotEqual(t, event.Symbol("VCTR|existing"), symbol)
}

func TestEncodeFailsWithVectorIndexUnavailable(t *testing.T) {
	idx := newFakeIndex()
	idx.failing = true
	enc := vectorenc.NewEncoder(idx)
	enc.Timeout = 5 * time.Millisecond

	_, err := enc.Encode(context.Background(), "k1", vectorenc.Vector{1, 2, 3})
	require.ErrorIs(t, err, vectorenc.ErrVectorIndexUnavailable)
}
