// Package bloom implements the set-membership filter used by the candidate
// pipeline's bloom intersection gate (spec §4.6 stage 3). It is backed by
// github.com/bits-and-blooms/bitset rather than a hand-rolled bit slice,
// grounded on the bitset usage found across the retrieval pack (see
// DESIGN.md).
package bloom

import (
	"hash/fnv"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Filter is a classic k-hash-function Bloom filter over string tokens.
type Filter struct {
	bits *bitset.BitSet
	m    uint
	k    int
}

// New creates a filter with m bits and k hash functions. Callers size m and
// k for their expected token-set cardinality and acceptable false-positive
// rate; the pattern store sizes these from token_count at insert time.
func New(m uint, k int) *Filter {
	if m == 0 {
		m = 1
	}
	if k < 1 {
		k = 1
	}
	return &Filter{bits: bitset.New(m), m: m, k: k}
}

// Add inserts token into the filter.
func (f *Filter) Add(token string) {
	h1, h2 := baseHashes(token)
	for i := 0; i < f.k; i++ {
		f.bits.Set(f.index(h1, h2, i))
	}
}

// MayContain reports whether token is possibly a member (false positives
// possible, false negatives impossible).
func (f *Filter) MayContain(token string) bool {
	h1, h2 := baseHashes(token)
	for i := 0; i < f.k; i++ {
		if !f.bits.Test(f.index(h1, h2, i)) {
			return false
		}
	}
	return true
}

// MayContainAll reports whether every token in tokens is possibly present.
func (f *Filter) MayContainAll(tokens []string) bool {
	for _, t := range tokens {
		if !f.MayContain(t) {
			return false
		}
	}
	return true
}

// CountPossiblyPresent returns how many of tokens are possibly present, for
// the loose-recall minimum-overlap gate.
func (f *Filter) CountPossiblyPresent(tokens []string) int {
	n := 0
	for _, t := range tokens {
		if f.MayContain(t) {
			n++
		}
	}
	return n
}

func (f *Filter) index(h1, h2 uint64, i int) uint {
	// Kirsch-Mitzenmacher double hashing: derive k indices from two base
	// hashes instead of k independent hash functions.
	return uint((h1 + uint64(i)*h2) % uint64(f.m))
}

func baseHashes(token string) (uint64, uint64) {
	h1 := fnv.New64a()
	_, _ = h1.Write([]byte(token))
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	_, _ = h2.Write([]byte(token))
	sum2 := h2.Sum64()
	if sum2 == 0 {
		sum2 = 1
	}
	return sum1, sum2
}

// SizeFor returns an (m, k) pair sized for n expected elements at the given
// target false-positive rate, using the standard optimal-bloom formulas.
func SizeFor(n int, falsePositiveRate float64) (m uint, k int) {
	if n <= 0 {
		n = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	// m = -(n * ln(p)) / (ln(2)^2), k = (m/n) * ln(2)
	const ln2 = math.Ln2
	const ln2Sq = ln2 * ln2
	lnP := math.Log(falsePositiveRate)
	mf := -(float64(n) * lnP) / ln2Sq
	if mf < 8 {
		mf = 8
	}
	kf := (mf / float64(n)) * ln2
	if kf < 1 {
		kf = 1
	}
	return uint(mf), int(kf + 0.5)
}
