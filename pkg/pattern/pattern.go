// Package pattern defines the engine's pattern record (§3) and the
// Repository contract (C4, §4.4) that every pattern store backend —
// in-memory or persistent — must satisfy.
package pattern

import (
	"context"
	"errors"
	"iter"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/minhash"
)

// Name is a pattern's content address: "PATTERN|" followed by the hex SHA-256
// of its canonical event sequence. See pkg/codec.
type Name string

// Pattern is an immutable ordered sequence of events of length >= 2 (I3),
// content-addressed by Name. Once stored, every field but Frequency and
// Emotives is immutable (I2).
type Pattern struct {
	Name       Name
	Events     []event.Event
	Length     int
	TokenSet   event.Set
	TokenCount int
	MinHashSig minhash.Signature
	LSHBands   []uint64
	FirstToken *event.Symbol
	LastToken  *event.Symbol
	KBID       string

	// Mutable metadata.
	Frequency int
	Emotives  map[string][]float64
}

// Clone returns a deep copy, so callers (e.g. a cache) can never mutate a
// repository's internal record through the pointer they got back.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Events = make([]event.Event, len(p.Events))
	for i, e := range p.Events {
		cp.Events[i] = e.Clone()
	}
	cp.TokenSet = p.TokenSet.Union(nil)
	cp.MinHashSig = append(minhash.Signature(nil), p.MinHashSig...)
	cp.LSHBands = append([]uint64(nil), p.LSHBands...)
	if p.FirstToken != nil {
		ft := *p.FirstToken
		cp.FirstToken = &ft
	}
	if p.LastToken != nil {
		lt := *p.LastToken
		cp.LastToken = &lt
	}
	cp.Emotives = make(map[string][]float64, len(p.Emotives))
	for k, v := range p.Emotives {
		cv := make([]float64, len(v))
		copy(cv, v)
		cp.Emotives[k] = cv
	}
	return &cp
}

// MinPatternLength is the minimum number of events a sequence must have to
// become a pattern (I3). Learning a shorter STM is a no-op, not an error.
const MinPatternLength = 2

// ErrNotFound is returned by Get when no pattern with the given name exists
// in the given partition.
var ErrNotFound = errors.New("pattern: not found")

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = errors.New("pattern: store unavailable")

// CandidateQuery describes the query token set and index-backed gates a
// Repository.ScanCandidates call should apply (§4.6 stages 1-4). Stages 5
// (exact Jaccard) and 6 (prefix/suffix) operate on full Pattern records and
// are applied by the candidate pipeline (pkg/candidate) after ScanCandidates
// returns its survivors.
type CandidateQuery struct {
	TokenSet event.Set

	LengthMin, LengthMax         int
	TokenCountMin, TokenCountMax int

	UseBloom       bool
	RequiredTokens []event.Symbol // strict-recall: every one of these must be plausibly present
	MinOverlap     int            // loose-recall: at least this many query tokens must be plausibly present

	UseLSH   bool
	LSHBands []uint64
}

// Repository is the persistent, content-addressed pattern store (C4). Every
// method is scoped by kb_id (I5): no query crosses partitions unless
// explicitly requested via Purge.
//
// ScanCandidates returns a lazy, finite, single-pass sequence (§9): it must
// not be iterated twice, and it is not restartable.
type Repository interface {
	// Learn canonicalizes events (already canonical on entry — canonicalization
	// itself is the caller's, pkg/codec's, responsibility) and computes
	// Name; if absent it inserts a new record with Frequency=1, otherwise it
	// increments Frequency (unless alwaysUpdateFrequencies is false and the
	// pattern already exists) and folds in emotives. Learn on an empty or
	// sub-minimum-length event sequence returns ("", true, nil): a no-op,
	// not an error (I3). Learn must appear atomic to concurrent callers:
	// two simultaneous learns of the same sequence must yield one record
	// with Frequency incremented exactly twice.
	Learn(ctx context.Context, kbID string, events []event.Event, emotives map[string]float64, alwaysUpdateFrequencies bool) (name Name, isNoOp bool, err error)

	// Get retrieves a pattern by name within a partition. Returns
	// ErrNotFound if absent.
	Get(ctx context.Context, kbID string, name Name) (*Pattern, error)

	// ScanCandidates drives §4.6 stages 1-4 using the repository's secondary
	// indices and returns the surviving pattern names as a lazy sequence.
	ScanCandidates(ctx context.Context, kbID string, q CandidateQuery) iter.Seq[Name]

	// Purge drops every record (and every index entry) belonging to one
	// partition. Administrative; not used on the request hot path.
	Purge(ctx context.Context, kbID string) error
}
