package segment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/segment"
)

func ev(symbols ...event.Symbol) event.Event {
	return event.Canonicalize(symbols, true)
}

// TestS3PartialOverlapSplitsPastPresentFuture mirrors spec scenario S3: the
// STM only covers the middle of a longer pattern, so present is the aligned
// span and past/future are what falls outside it.
func TestS3PartialOverlapSplitsPastPresentFuture(t *testing.T) {
	pat := []event.Event{ev("a"), ev("b"), ev("c"), ev("d")}
	stm := []event.Event{ev("b"), ev("c")}

	seg, ok := segment.Segment(stm, pat)
	require.True(t, ok)

	require.Len(t, seg.Present, 2)
	assert.True(t, seg.Present[0].Equal(ev("b")))
	assert.True(t, seg.Present[1].Equal(ev("c")))

	require.Len(t, seg.Past, 1)
	assert.True(t, seg.Past[0].Equal(ev("a")))

	require.Len(t, seg.Future, 1)
	assert.True(t, seg.Future[0].Equal(ev("d")))

	assert.Empty(t, seg.Missing)
	assert.Empty(t, seg.Extras)
}

// TestS4FutureExtraction mirrors spec scenario S4: the STM matches the
// pattern's leading events exactly, so everything after is future — this is
// the engine's predicted continuation.
func TestS4FutureExtraction(t *testing.T) {
	pat := []event.Event{ev("a"), ev("b"), ev("c"), ev("d")}
	stm := []event.Event{ev("a"), ev("b")}

	seg, ok := segment.Segment(stm, pat)
	require.True(t, ok)

	assert.Empty(t, seg.Past)
	require.Len(t, seg.Present, 2)
	require.Len(t, seg.Future, 2)
	assert.True(t, seg.Future[0].Equal(ev("c")))
	assert.True(t, seg.Future[1].Equal(ev("d")))
}

func TestSegmentNoAlignmentDiscardsCandidate(t *testing.T) {
	pat := []event.Event{ev("a"), ev("b")}
	stm := []event.Event{ev("x"), ev("y")}

	_, ok := segment.Segment(stm, pat)
	assert.False(t, ok)
}

func TestSegmentMissingCapturesUnobservedPresentSymbols(t *testing.T) {
	pat := []event.Event{ev("a", "b"), ev("c")}
	stm := []event.Event{ev("a"), ev("c")}

	seg, ok := segment.Segment(stm, pat)
	require.True(t, ok)
	assert.True(t, seg.Missing.Contains("b"))
	assert.False(t, seg.Missing.Contains("a"))
	assert.False(t, seg.Missing.Contains("c"))
}

func TestSegmentExtrasCapturesUnrequiredObservedSymbols(t *testing.T) {
	pat := []event.Event{ev("a")}
	stm := []event.Event{ev("a", "extra")}

	seg, ok := segment.Segment(stm, pat)
	require.True(t, ok)
	assert.True(t, seg.Extras.Contains("extra"))
	assert.False(t, seg.Extras.Contains("a"))
}

// TestSegmentPropertyCoverage mirrors property P8: past+present+future
// always reconstitute the full pattern in order, with no event dropped or
// duplicated.
func TestSegmentPropertyCoverage(t *testing.T) {
	pat := []event.Event{ev("a"), ev("b"), ev("c"), ev("d"), ev("e")}
	stm := []event.Event{ev("c"), ev("d")}

	seg, ok := segment.Segment(stm, pat)
	require.True(t, ok)

	var reconstructed []event.Event
	reconstructed = append(reconstructed, seg.Past...)
	reconstructed = append(reconstructed, seg.Present...)
	reconstructed = append(reconstructed, seg.Future...)

	require.Len(t, reconstructed, len(pat))
	for i := range pat {
		assert.True(t, pat[i].Equal(reconstructed[i]), "index %d", i)
	}
}

func TestSegmentTieBreakPrefersEarliestPatternStart(t *testing.T) {
	// "x" appears at pattern positions 0 and 2; the STM is a single event
	// that could align to either. Earliest pattern start wins.
	pat := []event.Event{ev("x"), ev("q"), ev("x")}
	stm := []event.Event{ev("x")}

	seg, ok := segment.Segment(stm, pat)
	require.True(t, ok)
	require.Len(t, seg.Present, 1)
	require.Len(t, seg.Past, 0)
	require.Len(t, seg.Future, 2)
}

func TestSegmentEmptyInputsAreNotOk(t *testing.T) {
	_, ok := segment.Segment(nil, []event.Event{ev("a")})
	assert.False(t, ok)

	_, ok = segment.Segment([]event.Event{ev("a")}, nil)
	assert.False(t, ok)
}
