// Package minhash implements the engine's MinHash/LSH index (C5): a
// deterministic, fixed-configuration signature scheme that reduces set
// similarity comparisons to cheap integer operations. See spec §4.5.
//
// The hash family is seeded by a fixed constant so that two independent
// instances of this package (anywhere, any time) compute byte-identical
// signatures and band hashes for the same token set — required for P9
// (determinism of ranking) and for cross-process LSH band-index agreement.
package minhash

import (
	"hash/fnv"
	"math/bits"
)

const (
	// DefaultN is the total number of MinHash permutation functions.
	DefaultN = 100
	// DefaultB is the number of LSH bands.
	DefaultB = 20
	// DefaultR is the number of signature rows per band (N = B*R).
	DefaultR = 5

	// mersennePrime is 2^61-1, a standard modulus for universal hashing of
	// 64-bit integers: large enough to keep collisions negligible while
	// keeping arithmetic in uint64 range.
	mersennePrime uint64 = (1 << 61) - 1

	// seedConstant fixes the deterministic permutation family across all
	// instances of the engine, everywhere. This is a protocol constant, not
	// a secret: changing it would require re-learning every stored pattern.
	seedConstant uint64 = 0x4B41544F5052424B // "KATOPRBK" read as ASCII bytes
)

// Signature is a fixed-width MinHash signature: N integers, one minimum hash
// value per permutation function.
type Signature []uint64

var seedPairs = generateSeeds(DefaultN)

type seedPair struct{ a, b uint64 }

// generateSeeds deterministically derives N (a, b) coefficient pairs for the
// universal hash family h(x) = (a*x + b) mod mersennePrime, using a
// splitmix64 generator seeded by the fixed seedConstant. No external
// randomness source is used: the sequence is identical on every run, on
// every machine, forever.
func generateSeeds(n int) []seedPair {
	state := seedConstant
	next := func() uint64 {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z = z ^ (z >> 31)
		return z
	}
	seeds := make([]seedPair, n)
	for i := range seeds {
		a := next()%(mersennePrime-1) + 1 // a must be nonzero mod p
		b := next() % mersennePrime
		seeds[i] = seedPair{a: a, b: b}
	}
	return seeds
}

// tokenHash maps an arbitrary string token to a 64-bit base hash using
// FNV-1a, the same non-cryptographic hash the standard library itself ships
// for this purpose (hash/fnv). This is the single base hash that every
// permutation function in the family is derived from.
func tokenHash(token string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return h.Sum64()
}

// Compute derives the n-wide MinHash signature of a token set:
// sig[i] = min over tokens t of h_i(t).
func Compute(tokens []string, n int) Signature {
	seeds := seedPairs
	if n != DefaultN {
		seeds = generateSeeds(n)
	}
	sig := make(Signature, n)
	for i := range sig {
		sig[i] = mersennePrime // sentinel "infinity" within the field
	}
	for _, t := range tokens {
		base := tokenHash(t)
		for i, sp := range seeds {
			hi, lo := bits.Mul64(sp.a, base)
			v := (bits.Rem64(hi, lo, mersennePrime) + sp.b) % mersennePrime
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// Bands splits a signature into b band-hashes of r rows each (b*r must equal
// len(sig)). Two patterns are LSH-candidates iff they share at least one
// band-hash at the same band index.
func Bands(sig Signature, b, r int) []uint64 {
	bands := make([]uint64, b)
	for i := 0; i < b; i++ {
		bands[i] = hashRows(sig[i*r : (i+1)*r])
	}
	return bands
}

// hashRows combines a contiguous slice of signature rows into one band hash.
func hashRows(rows []uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range rows {
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		buf[4] = byte(v >> 32)
		buf[5] = byte(v >> 40)
		buf[6] = byte(v >> 48)
		buf[7] = byte(v >> 56)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// JaccardEstimate returns |{i : a[i] == b[i]}| / len(a), the standard
// MinHash estimator of set Jaccard similarity. a and b must be equal length.
func JaccardEstimate(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}
