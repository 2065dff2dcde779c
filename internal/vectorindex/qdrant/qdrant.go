// Package qdrant adapts a Qdrant collection to pkg/vectorenc.Index: the
// nearest-neighbor search behind vector-symbol minting (C2) when an
// embedder wants persistent, ANN-backed similarity lookup instead of the
// brute-force default.
//
// One collection per kb_id keeps partitions isolated (I5) the same way
// every other backend does. Point IDs are a deterministic UUIDv5 of the
// minted symbol, so re-upserting the same vector is a no-op rather than a
// duplicate point, and the payload carries the symbol string back out on a
// search hit.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/vectorenc"
)

const symbolPayloadKey = "symbol"

// collectionNamespace seeds the deterministic per-symbol point UUIDs; any
// fixed value works as long as it never changes once patterns exist.
var collectionNamespace = uuid.MustParse("8f14e45f-ceea-467e-bd7a-56e9c0a5b834")

// Index wraps a qdrant.Client, lazily creating one collection per kb_id on
// first use.
type Index struct {
	client   *qdrant.Client
	vectorSz uint64

	ensured map[string]struct{}
}

// New connects to Qdrant's gRPC endpoint at host:port and returns an Index
// for vectors of the given dimensionality.
func New(ctx context.Context, host string, port int, vectorSize uint64, apiKey string) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial: %w", err)
	}
	return &Index{client: client, vectorSz: vectorSize, ensured: make(map[string]struct{})}, nil
}

func collectionName(kbID string) string {
	return "kato_" + kbID
}

func pointID(symbol event.Symbol) *qdrant.PointId {
	id := uuid.NewSHA1(collectionNamespace, []byte(symbol))
	return qdrant.NewID(id.String())
}

func (idx *Index) ensureCollection(ctx context.Context, kbID string) error {
	name := collectionName(kbID)
	if _, ok := idx.ensured[name]; ok {
		return nil
	}
	exists, err := idx.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: checking collection %s: %w", name, err)
	}
	if !exists {
		err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     idx.vectorSz,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: creating collection %s: %w", name, err)
		}
	}
	idx.ensured[name] = struct{}{}
	return nil
}

// Upsert implements vectorenc.Index.
func (idx *Index) Upsert(ctx context.Context, kbID string, symbol event.Symbol, vector vectorenc.Vector) error {
	if err := idx.ensureCollection(ctx, kbID); err != nil {
		return err
	}
	vec32 := make([]float32, len(vector))
	for i, v := range vector {
		vec32[i] = float32(v)
	}

	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(kbID),
		Points: []*qdrant.PointStruct{
			{
				Id:      pointID(symbol),
				Vectors: qdrant.NewVectors(vec32...),
				Payload: qdrant.NewValueMap(map[string]any{symbolPayloadKey: string(symbol)}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", vectorenc.ErrVectorIndexUnavailable, err)
	}
	return nil
}

// Search implements vectorenc.Index. metric is accepted for interface
// compatibility; the collection's distance metric is fixed at creation
// time (cosine), matching vectorenc's default encoder configuration.
func (idx *Index) Search(ctx context.Context, kbID string, vector vectorenc.Vector, k int, metric vectorenc.Metric) ([]vectorenc.Match, error) {
	if err := idx.ensureCollection(ctx, kbID); err != nil {
		return nil, err
	}
	vec32 := make([]float32, len(vector))
	for i, v := range vector {
		vec32[i] = float32(v)
	}
	limit := uint64(k)

	resp, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName(kbID),
		Query:          qdrant.NewQuery(vec32...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorenc.ErrVectorIndexUnavailable, err)
	}

	matches := make([]vectorenc.Match, 0, len(resp))
	for _, point := range resp {
		sym := event.Symbol("")
		if payload := point.GetPayload(); payload != nil {
			if v, ok := payload[symbolPayloadKey]; ok {
				sym = event.Symbol(v.GetStringValue())
			}
		}
		matches = append(matches, vectorenc.Match{
			Symbol:   sym,
			Distance: float64(point.GetScore()),
		})
	}
	return matches, nil
}
