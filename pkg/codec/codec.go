// Package codec implements the engine's symbol codec (C1): a pure,
// deterministic, thread-safe mapping from raw observed tokens to canonical
// events, and from a canonical event sequence to its content-addressed
// pattern name. See spec §4.1.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/sevakavakians/kato/pkg/event"
)

// NamePrefix tags every pattern name so it is unambiguously distinguishable
// from any other identifier kind in the system.
const NamePrefix = "PATTERN|"

// CanonicalizeEvent returns the canonical form of a raw multiset of strings.
// sortSymbols controls whether symbols are sorted ascending; it should be
// true in all but test configurations (session config sort_events=false).
func CanonicalizeEvent(raw []string, sortSymbols bool) event.Event {
	if len(raw) == 0 {
		return nil
	}
	symbols := make([]event.Symbol, len(raw))
	for i, s := range raw {
		symbols[i] = event.Symbol(s)
	}
	return event.Canonicalize(symbols, sortSymbols)
}

// Name computes the content address of a canonical event sequence:
// "PATTERN|" followed by the hex-encoded SHA-256 of a length-prefixed,
// unambiguous serialization of the sequence. Name is a pure function of
// events: identical sequences always produce the identical name (I1), and
// shuffling symbols within an event changes nothing (the event is already
// canonical) while shuffling events changes everything.
func Name(events []event.Event) string {
	sum := sha256.Sum256(serialize(events))
	return NamePrefix + hex.EncodeToString(sum[:])
}

// serialize encodes a nested sequence of events unambiguously: each event is
// length-prefixed, each symbol within it is length-prefixed, preventing any
// concatenation ambiguity between adjacent symbols or events.
func serialize(events []event.Event) []byte {
	var b strings.Builder
	var lenBuf [8]byte

	writeUint := func(n int) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
		b.Write(lenBuf[:])
	}

	writeUint(len(events))
	for _, e := range events {
		writeUint(len(e))
		for _, s := range e {
			writeUint(len(s))
			b.WriteString(string(s))
		}
	}
	return []byte(b.String())
}
