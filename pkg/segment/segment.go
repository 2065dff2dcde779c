// Package segment implements the engine's temporal segmenter (C7): given
// the current STM and a candidate pattern, it finds the longest contiguous
// span of the pattern that aligns against a contiguous span of the STM and
// splits the pattern into past/present/future around that span. See §4.7.
package segment

import (
	"github.com/sevakavakians/kato/pkg/event"
)

// Segmentation is the result of aligning a pattern against the STM.
type Segmentation struct {
	Past    []event.Event
	Present []event.Event
	Future  []event.Event

	// Missing is the union, across the present range, of symbols each
	// aligned pattern position required but its aligned STM event did not
	// provide.
	Missing event.Set

	// Extras is the set of symbols the aligned STM span provided that no
	// position within present required.
	Extras event.Set

	// Matches is the total count of symbol-level intersections across all
	// aligned positions in the present range.
	Matches int

	// PresentTokens is the union of symbols required anywhere in present,
	// i.e. the denominator for the ranker's evidence score (§4.8).
	PresentTokens event.Set
}

// Segment aligns stm against the candidate pattern events. It returns
// ok=false if no alignment yields a nonempty present span, in which case the
// candidate must be discarded by the caller.
//
// Matching rule: find the longest run of consecutive positions i such that
// pattern[i] and stm[i+delta] share a symbol, for some fixed diagonal
// offset delta. Ties broken by earliest pattern start index, then by
// earliest STM start index (§4.7).
func Segment(stmEvents []event.Event, patternEvents []event.Event) (Segmentation, bool) {
	n := len(stmEvents)
	m := len(patternEvents)
	if n == 0 || m == 0 {
		return Segmentation{}, false
	}

	bestLen := 0
	bestA, bestB, bestC := -1, -1, -1

	for delta := -(m - 1); delta <= n-1; delta++ {
		iStart := 0
		if delta < 0 {
			iStart = -delta
		}
		iEnd := m - 1
		if n-1-delta < iEnd {
			iEnd = n - 1 - delta
		}
		if iStart > iEnd {
			continue
		}

		runStart := -1
		flush := func(runEnd int) {
			if runStart < 0 {
				return
			}
			length := runEnd - runStart + 1
			c := runStart + delta
			if better(length, runStart, c, bestLen, bestA, bestC) {
				bestLen = length
				bestA = runStart
				bestB = runEnd
				bestC = c
			}
		}

		for i := iStart; i <= iEnd; i++ {
			if patternEvents[i].Intersects(stmEvents[i+delta]) {
				if runStart < 0 {
					runStart = i
				}
			} else {
				flush(i - 1)
				runStart = -1
			}
		}
		flush(iEnd)
	}

	if bestLen == 0 {
		return Segmentation{}, false
	}

	a, b, c := bestA, bestA+bestLen-1, bestC
	d := c + bestLen - 1

	present := cloneSlice(patternEvents[a : b+1])
	past := cloneSlice(patternEvents[:a])
	future := cloneSlice(patternEvents[b+1:])

	missing := make(event.Set)
	presentTokens := make(event.Set)
	matches := 0
	for i := a; i <= b; i++ {
		j := i - a + c
		p := patternEvents[i]
		s := stmEvents[j]
		for _, sym := range p {
			presentTokens.Add(sym)
			if !s.Contains(sym) {
				missing.Add(sym)
			}
		}
		matches += len(p.Intersection(s))
	}

	extras := make(event.Set)
	for j := c; j <= d; j++ {
		for _, sym := range stmEvents[j] {
			if !presentTokens.Contains(sym) {
				extras.Add(sym)
			}
		}
	}

	return Segmentation{
		Past:          past,
		Present:       present,
		Future:        future,
		Missing:       missing,
		Extras:        extras,
		Matches:       matches,
		PresentTokens: presentTokens,
	}, true
}

// better reports whether a candidate match (length, a, c) beats the current
// best, per §4.7's tie-break order: longest first, then earliest pattern
// start (a), then earliest STM start (c).
func better(length, a, c, bestLen, bestA, bestC int) bool {
	if length != bestLen {
		return length > bestLen
	}
	if bestLen == 0 {
		return true
	}
	if a != bestA {
		return a < bestA
	}
	return c < bestC
}

func cloneSlice(events []event.Event) []event.Event {
	if events == nil {
		return nil
	}
	out := make([]event.Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
