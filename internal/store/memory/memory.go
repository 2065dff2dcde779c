// Package memory implements an in-memory pattern.Repository (C4): the
// engine's dependency-free reference backend, used by unit tests and by
// embedders who do not want a Postgres dependency. Every partition (kb_id)
// gets its own set of secondary indices (length, token_count, bloom, LSH
// bands), exactly as the persistent backend does, so the candidate pipeline
// behaves identically against either backend (§4.4, §4.6).
//
// Concurrency: a single RWMutex guards the whole store. This keeps the
// Learn-is-atomic invariant (I2, P2, S6) trivially true at the cost of
// serializing writes across partitions; that tradeoff is appropriate for a
// reference/test backend and is documented rather than hidden (see
// DESIGN.md). The Postgres backend (internal/store/postgres) instead
// serializes writes per-key via a unique constraint + upsert, which scales
// across partitions.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/sevakavakians/kato/internal/bloom"
	"github.com/sevakavakians/kato/pkg/codec"
	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/minhash"
	"github.com/sevakavakians/kato/pkg/pattern"
)

// bloomFalsePositiveRate is the target false-positive rate for each
// pattern's per-record bloom filter over its token_set.
const bloomFalsePositiveRate = 0.01

type partition struct {
	patterns map[pattern.Name]*pattern.Pattern
	blooms   map[pattern.Name]*bloom.Filter

	// lengthIndex / tokenCountIndex map a value to the set of names at
	// exactly that value; range scans walk the sorted key list.
	lengthIndex     map[int]map[pattern.Name]struct{}
	tokenCountIndex map[int]map[pattern.Name]struct{}

	// lshIndex[bandPosition][bandHash] -> names. Mirrors the required
	// "(band_index, band_hash) -> name" inverted index from §4.4.
	lshIndex map[int]map[uint64]map[pattern.Name]struct{}
}

func newPartition() *partition {
	return &partition{
		patterns:        make(map[pattern.Name]*pattern.Pattern),
		blooms:          make(map[pattern.Name]*bloom.Filter),
		lengthIndex:     make(map[int]map[pattern.Name]struct{}),
		tokenCountIndex: make(map[int]map[pattern.Name]struct{}),
		lshIndex:        make(map[int]map[uint64]map[pattern.Name]struct{}),
	}
}

// Store is the in-memory pattern.Repository implementation.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*partition

	minhashN, minhashB, minhashR int
}

// New returns an empty in-memory store using the default MinHash/LSH
// configuration (N=100, B=20, R=5; see pkg/minhash).
func New() *Store {
	return &Store{
		partitions: make(map[string]*partition),
		minhashN:   minhash.DefaultN,
		minhashB:   minhash.DefaultB,
		minhashR:   minhash.DefaultR,
	}
}

func (s *Store) partitionFor(kbID string) *partition {
	p, ok := s.partitions[kbID]
	if !ok {
		p = newPartition()
		s.partitions[kbID] = p
	}
	return p
}

// Learn implements pattern.Repository.
func (s *Store) Learn(_ context.Context, kbID string, events []event.Event, emotives map[string]float64, alwaysUpdateFrequencies bool) (pattern.Name, bool, error) {
	if len(events) < pattern.MinPatternLength {
		return "", true, nil
	}

	name := pattern.Name(codec.Name(events))

	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.partitionFor(kbID)
	if existing, ok := part.patterns[name]; ok {
		if alwaysUpdateFrequencies {
			existing.Frequency++
		}
		foldEmotives(existing.Emotives, emotives)
		return name, false, nil
	}

	p := buildPattern(name, kbID, events, emotives, s.minhashN, s.minhashB, s.minhashR)
	part.patterns[name] = p
	part.blooms[name] = buildBloom(p.TokenSet)

	indexAdd(part.lengthIndex, p.Length, name)
	indexAdd(part.tokenCountIndex, p.TokenCount, name)
	for i, bh := range p.LSHBands {
		if part.lshIndex[i] == nil {
			part.lshIndex[i] = make(map[uint64]map[pattern.Name]struct{})
		}
		if part.lshIndex[i][bh] == nil {
			part.lshIndex[i][bh] = make(map[pattern.Name]struct{})
		}
		part.lshIndex[i][bh][name] = struct{}{}
	}

	return name, false, nil
}

// Get implements pattern.Repository.
func (s *Store) Get(_ context.Context, kbID string, name pattern.Name) (*pattern.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.partitions[kbID]
	if !ok {
		return nil, pattern.ErrNotFound
	}
	p, ok := part.patterns[name]
	if !ok {
		return nil, pattern.ErrNotFound
	}
	return p.Clone(), nil
}

// ScanCandidates implements pattern.Repository, applying §4.6 stages 1-4.
func (s *Store) ScanCandidates(_ context.Context, kbID string, q pattern.CandidateQuery) iter.Seq[pattern.Name] {
	s.mu.RLock()
	part, ok := s.partitions[kbID]
	if !ok {
		s.mu.RUnlock()
		return func(func(pattern.Name) bool) {}
	}

	// Stage 1: length gate.
	survivors := rangeUnion(part.lengthIndex, q.LengthMin, q.LengthMax)
	// Stage 2: token-count gate.
	survivors = intersectWithRange(survivors, part.tokenCountIndex, q.TokenCountMin, q.TokenCountMax)
	// Stage 3: bloom intersection gate.
	if q.UseBloom {
		survivors = filterByBloom(survivors, part.blooms, q)
	}
	// Stage 4: LSH band gate.
	if q.UseLSH && len(q.LSHBands) > 0 {
		lshMatches := collectLSHMatches(part.lshIndex, q.LSHBands)
		survivors = intersectNames(survivors, lshMatches)
	}

	names := make([]pattern.Name, 0, len(survivors))
	for n := range survivors {
		names = append(names, n)
	}
	s.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return func(yield func(pattern.Name) bool) {
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}
}

// Purge implements pattern.Repository.
func (s *Store) Purge(_ context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, kbID)
	return nil
}

func buildPattern(name pattern.Name, kbID string, events []event.Event, emotives map[string]float64, n, b, r int) *pattern.Pattern {
	tokenSet := make(event.Set)
	for _, e := range events {
		for _, sym := range e {
			tokenSet.Add(sym)
		}
	}
	tokens := tokenSet.Slice()
	strTokens := make([]string, len(tokens))
	for i, t := range tokens {
		strTokens[i] = string(t)
	}

	sig := minhash.Compute(strTokens, n)
	bands := minhash.Bands(sig, b, r)

	p := &pattern.Pattern{
		Name:       name,
		Events:     events,
		Length:     len(events),
		TokenSet:   tokenSet,
		TokenCount: len(tokenSet),
		MinHashSig: sig,
		LSHBands:   bands,
		KBID:       kbID,
		Frequency:  1,
		Emotives:   map[string][]float64{},
	}
	if first := events[0]; len(first) > 0 {
		sorted := event.Canonicalize(first, true)
		ft := sorted[0]
		p.FirstToken = &ft
	}
	if last := events[len(events)-1]; len(last) > 0 {
		sorted := event.Canonicalize(last, true)
		lt := sorted[len(sorted)-1]
		p.LastToken = &lt
	}
	foldEmotives(p.Emotives, emotives)
	return p
}

func buildBloom(tokens event.Set) *bloom.Filter {
	m, k := bloom.SizeFor(len(tokens), bloomFalsePositiveRate)
	f := bloom.New(m, k)
	for t := range tokens {
		f.Add(string(t))
	}
	return f
}

func foldEmotives(into map[string][]float64, contributions map[string]float64) {
	for k, v := range contributions {
		into[k] = append(into[k], v)
	}
}

func indexAdd(idx map[int]map[pattern.Name]struct{}, key int, name pattern.Name) {
	if idx[key] == nil {
		idx[key] = make(map[pattern.Name]struct{})
	}
	idx[key][name] = struct{}{}
}

func rangeUnion(idx map[int]map[pattern.Name]struct{}, min, max int) map[pattern.Name]struct{} {
	out := make(map[pattern.Name]struct{})
	for k, names := range idx {
		if (min > 0 && k < min) || (max > 0 && k > max) {
			continue
		}
		for n := range names {
			out[n] = struct{}{}
		}
	}
	return out
}

func intersectWithRange(in map[pattern.Name]struct{}, idx map[int]map[pattern.Name]struct{}, min, max int) map[pattern.Name]struct{} {
	allowed := rangeUnion(idx, min, max)
	return intersectNames(in, allowed)
}

func intersectNames(a, b map[pattern.Name]struct{}) map[pattern.Name]struct{} {
	out := make(map[pattern.Name]struct{})
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for n := range small {
		if _, ok := big[n]; ok {
			out[n] = struct{}{}
		}
	}
	return out
}

func filterByBloom(in map[pattern.Name]struct{}, blooms map[pattern.Name]*bloom.Filter, q pattern.CandidateQuery) map[pattern.Name]struct{} {
	out := make(map[pattern.Name]struct{}, len(in))
	required := make([]string, len(q.RequiredTokens))
	for i, t := range q.RequiredTokens {
		required[i] = string(t)
	}
	queryTokens := make([]string, 0, len(q.TokenSet))
	for t := range q.TokenSet {
		queryTokens = append(queryTokens, string(t))
	}
	for n := range in {
		f := blooms[n]
		if f == nil {
			continue
		}
		if len(required) > 0 {
			if f.MayContainAll(required) {
				out[n] = struct{}{}
			}
			continue
		}
		if q.MinOverlap > 0 {
			if f.CountPossiblyPresent(queryTokens) >= q.MinOverlap {
				out[n] = struct{}{}
			}
			continue
		}
		out[n] = struct{}{}
	}
	return out
}

func collectLSHMatches(idx map[int]map[uint64]map[pattern.Name]struct{}, queryBands []uint64) map[pattern.Name]struct{} {
	out := make(map[pattern.Name]struct{})
	for bandPos, names := range idx {
		if bandPos >= len(queryBands) {
			continue
		}
		qb := queryBands[bandPos]
		for n := range names[qb] {
			out[n] = struct{}{}
		}
	}
	return out
}
