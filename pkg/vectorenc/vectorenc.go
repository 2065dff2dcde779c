// Package vectorenc implements the engine's vector encoder (C2): it maps a
// raw vector either onto an existing vector-symbol within similarity
// threshold τ_v, or mints a fresh content-addressed one and inserts it into
// the external vector index. See §4.2.
package vectorenc

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sevakavakians/kato/pkg/event"
)

// SymbolPrefix is the content-address prefix for vector-minted symbols,
// mirroring codec.NamePrefix's role for pattern names.
const SymbolPrefix = "VCTR|"

// ErrVectorIndexUnavailable is returned when the external vector index does
// not respond within the configured timeout.
var ErrVectorIndexUnavailable = errors.New("vectorenc: vector index unavailable")

// Metric selects the similarity function the vector index applies.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// Vector is a raw embedding of known, fixed dimensionality.
type Vector []float64

// Match is one hit returned by a vector index search.
type Match struct {
	Symbol   event.Symbol
	Distance float64
}

// Index is the engine's required vector index contract (§6): upsert and
// approximate nearest-neighbor search, scoped by partition.
type Index interface {
	Upsert(ctx context.Context, kbID string, symbol event.Symbol, vector Vector) error
	Search(ctx context.Context, kbID string, vector Vector, k int, metric Metric) ([]Match, error)
}

// Encoder mints or resolves vector-symbols against an external Index.
type Encoder struct {
	Index   Index
	Metric  Metric
	Timeout time.Duration

	// SimilarityThreshold (τ_v) is the minimum similarity (in the
	// configured metric's terms, already normalized to "higher is closer")
	// for a search hit to be treated as the same vector-symbol rather than
	// minting a new one.
	SimilarityThreshold float64
}

// NewEncoder returns an Encoder with the given backing index and defaults
// matching the engine's baseline configuration (cosine metric, τ_v=0.95,
// 2s timeout).
func NewEncoder(idx Index) *Encoder {
	return &Encoder{
		Index:               idx,
		Metric:              MetricCosine,
		Timeout:             2 * time.Second,
		SimilarityThreshold: 0.95,
	}
}

// Encode resolves vector to an existing vector-symbol within the
// configured similarity threshold, or mints and inserts a fresh one. The
// content address guarantees Encode is idempotent for equal vectors
// regardless of what the index currently holds.
func (e *Encoder) Encode(ctx context.Context, kbID string, vector Vector) (event.Symbol, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	symbol := mintSymbol(vector)

	matches, err := e.Index.Search(ctx, kbID, vector, 1, e.Metric)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrVectorIndexUnavailable
		}
		return "", fmt.Errorf("vectorenc: search: %w", err)
	}
	if len(matches) > 0 && similarityOf(matches[0], e.Metric) >= e.SimilarityThreshold {
		return matches[0].Symbol, nil
	}

	if err := e.Index.Upsert(ctx, kbID, symbol, vector); err != nil {
		if ctx.Err() != nil {
			return "", ErrVectorIndexUnavailable
		}
		return "", fmt.Errorf("vectorenc: upsert: %w", err)
	}
	return symbol, nil
}

// similarityOf converts a match's distance into a "higher is closer"
// similarity score appropriate to metric, since cosine/dot are naturally
// similarities while euclidean is a distance.
func similarityOf(m Match, metric Metric) float64 {
	switch metric {
	case MetricEuclidean:
		return 1 / (1 + m.Distance)
	default:
		return m.Distance
	}
}

// mintSymbol computes the content-addressed vector-symbol for vector. The
// serialization is a fixed-width big-endian encoding of each component's
// bit pattern, length-prefixed, so no two distinct vectors can collide by
// concatenation ambiguity.
func mintSymbol(vector Vector) event.Symbol {
	var b strings.Builder
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(vector)))
	b.Write(lenBuf[:])
	for _, component := range vector {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(component))
		b.Write(buf[:])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return event.Symbol(SymbolPrefix + hex.EncodeToString(sum[:]))
}
