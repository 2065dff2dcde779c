// Package patterncache implements a read-through cache in front of a
// pattern.Repository's Get method, backed by Redis. It is the "pattern
// metadata cache" collaborator named in spec §1 as external to the engine
// core: the engine never requires it, but wrapping a Repository in one
// turns repeated Get calls for hot pattern names (the common shape of
// candidate-pipeline survivors being re-fetched across sessions) into
// single round trips instead of however many queries the backing store
// would otherwise need.
package patterncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/minhash"
	"github.com/sevakavakians/kato/pkg/pattern"
)

const keyPrefix = "kato:pattern:"

// Repository wraps a pattern.Repository, caching Get results in Redis.
// Learn, ScanCandidates, and Purge pass straight through to the wrapped
// repository; Learn additionally invalidates the cache entry for the
// pattern it touched, since Frequency/Emotives are mutable (I2), and Purge
// additionally deletes every cached entry of the purged partition.
type Repository struct {
	next  pattern.Repository
	redis *goredis.Client
	ttl   time.Duration
}

// New wraps next with a Redis-backed cache. ttl bounds how long a cached
// record may go unrefreshed before the next Get re-reads the backing
// store; zero means entries never expire on their own (only explicit
// invalidation on Learn removes them).
func New(next pattern.Repository, client *goredis.Client, ttl time.Duration) *Repository {
	return &Repository{next: next, redis: client, ttl: ttl}
}

func cacheKey(kbID string, name pattern.Name) string {
	return keyPrefix + kbID + ":" + string(name)
}

// Learn delegates to the wrapped repository and drops any cached entry for
// the resulting name, since Learn may have bumped Frequency or folded in
// new emotives (I2: everything else about a stored pattern is immutable).
func (r *Repository) Learn(ctx context.Context, kbID string, events []event.Event, emotives map[string]float64, alwaysUpdateFrequencies bool) (pattern.Name, bool, error) {
	name, isNoOp, err := r.next.Learn(ctx, kbID, events, emotives, alwaysUpdateFrequencies)
	if err != nil || isNoOp || name == "" {
		return name, isNoOp, err
	}
	if delErr := r.redis.Del(ctx, cacheKey(kbID, name)).Err(); delErr != nil {
		return name, isNoOp, fmt.Errorf("patterncache: invalidate: %w", delErr)
	}
	return name, isNoOp, nil
}

// Get serves from the cache when present; on a miss it loads from the
// wrapped repository and populates the cache before returning.
func (r *Repository) Get(ctx context.Context, kbID string, name pattern.Name) (*pattern.Pattern, error) {
	key := cacheKey(kbID, name)

	raw, err := r.redis.Get(ctx, key).Result()
	if err == nil {
		var rec wireRecord
		if decErr := json.Unmarshal([]byte(raw), &rec); decErr == nil {
			return rec.toPattern(), nil
		}
		// A corrupt cache entry is treated as a miss rather than an error.
	} else if !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("patterncache: read: %w", err)
	}

	p, err := r.next.Get(ctx, kbID, name)
	if err != nil {
		return nil, err
	}

	if body, encErr := json.Marshal(fromPattern(p)); encErr == nil {
		r.redis.Set(ctx, key, body, r.ttl) // best-effort; a failed cache write never fails the read
	}
	return p, nil
}

// ScanCandidates passes straight through; the candidate pipeline's result
// set is query-shaped, not key-shaped, so there is nothing sensible to
// cache here.
func (r *Repository) ScanCandidates(ctx context.Context, kbID string, q pattern.CandidateQuery) iter.Seq[pattern.Name] {
	return r.next.ScanCandidates(ctx, kbID, q)
}

// Purge delegates and clears every cached entry for the partition.
func (r *Repository) Purge(ctx context.Context, kbID string) error {
	if err := r.next.Purge(ctx, kbID); err != nil {
		return err
	}
	iter := r.redis.Scan(ctx, 0, keyPrefix+kbID+":*", 0).Iterator()
	for iter.Next(ctx) {
		r.redis.Del(ctx, iter.Val())
	}
	return iter.Err()
}

// wireRecord is the JSON-stable encoding of a Pattern for the cache. It
// copies every Pattern field as is, except TokenSet, which is written as a
// sorted slice of symbols and rebuilt into an event.Set on decode.
type wireRecord struct {
	Name       pattern.Name
	Events     []event.Event
	Length     int
	TokenSet   []event.Symbol
	TokenCount int
	MinHashSig minhash.Signature
	LSHBands   []uint64
	FirstToken *event.Symbol
	LastToken  *event.Symbol
	KBID       string
	Frequency  int
	Emotives   map[string][]float64
}

func fromPattern(p *pattern.Pattern) wireRecord {
	return wireRecord{
		Name:       p.Name,
		Events:     p.Events,
		Length:     p.Length,
		TokenSet:   p.TokenSet.Slice(),
		TokenCount: p.TokenCount,
		MinHashSig: p.MinHashSig,
		LSHBands:   p.LSHBands,
		FirstToken: p.FirstToken,
		LastToken:  p.LastToken,
		KBID:       p.KBID,
		Frequency:  p.Frequency,
		Emotives:   p.Emotives,
	}
}

func (r wireRecord) toPattern() *pattern.Pattern {
	set := make(event.Set, len(r.TokenSet))
	for _, s := range r.TokenSet {
		set.Add(s)
	}
	return &pattern.Pattern{
		Name:       r.Name,
		Events:     r.Events,
		Length:     r.Length,
		TokenSet:   set,
		TokenCount: r.TokenCount,
		MinHashSig: r.MinHashSig,
		LSHBands:   r.LSHBands,
		FirstToken: r.FirstToken,
		LastToken:  r.LastToken,
		KBID:       r.KBID,
		Frequency:  r.Frequency,
		Emotives:   r.Emotives,
	}
}
