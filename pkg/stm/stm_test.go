package stm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sevakavakians/kato/pkg/event"
)

func TestAppendSkipsEmptyEvent(t *testing.T) {
	s := New()
	s.Append(nil, nil)
	s.Append(event.Event{}, nil)
	assert.Equal(t, 0, s.Len())
}

func TestAppendAccumulatesEmotives(t *testing.T) {
	s := New()
	s.Append(event.Event{"a"}, map[string]float64{"joy": 0.5})
	s.Append(event.Event{"b"}, map[string]float64{"joy": 0.8})
	snap := s.Snapshot()
	assert.Equal(t, []float64{0.5, 0.8}, snap.Emotives["joy"])
}

func TestEmptyObservationBetweenNonEmptyIsInvisible(t *testing.T) {
	withGaps := New()
	withGaps.Append(event.Event{"a"}, nil)
	withGaps.Append(nil, nil)
	withGaps.Append(nil, nil)
	withGaps.Append(event.Event{"b"}, nil)

	withoutGaps := New()
	withoutGaps.Append(event.Event{"a"}, nil)
	withoutGaps.Append(event.Event{"b"}, nil)

	assert.Equal(t, withoutGaps.Snapshot(), withGaps.Snapshot())
}

func TestClearResetsEverything(t *testing.T) {
	s := New()
	s.Append(event.Event{"a"}, map[string]float64{"joy": 1})
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Snapshot().Emotives)
}

func TestTruncateToLastKeepsOnlyMostRecent(t *testing.T) {
	s := New()
	s.Append(event.Event{"a"}, nil)
	s.Append(event.Event{"b"}, nil)
	s.Append(event.Event{"c"}, nil)
	s.TruncateToLast()
	assert.Equal(t, []event.Event{{"c"}}, s.Snapshot().Events)
}

func TestPersistenceLimitsHistory(t *testing.T) {
	emotives := map[string][]float64{"joy": {1, 2, 3, 4, 5}}
	out := Persistence(emotives, 2)
	assert.Equal(t, []float64{4, 5}, out["joy"])
}

func TestTokenSetUnionsAllEvents(t *testing.T) {
	snap := Snapshot{Events: []event.Event{{"a", "b"}, {"b", "c"}}}
	set := snap.TokenSet()
	assert.True(t, set.Contains("a"))
	assert.True(t, set.Contains("b"))
	assert.True(t, set.Contains("c"))
	assert.Len(t, set, 3)
}

func TestFromSnapshotRoundTrips(t *testing.T) {
	s := New()
	s.Append(event.Event{"a"}, map[string]float64{"joy": 1})
	snap := s.Snapshot()
	rebuilt := FromSnapshot(snap)
	assert.Equal(t, snap, rebuilt.Snapshot())
}
