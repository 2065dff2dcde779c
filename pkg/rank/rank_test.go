package rank_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/pattern"
	"github.com/sevakavakians/kato/pkg/rank"
	"github.com/sevakavakians/kato/pkg/segment"
)

func newCandidate(name string, similarity float64, frequency, matches, presentTokens int) rank.Candidate {
	tokens := make(event.Set)
	for i := 0; i < presentTokens; i++ {
		tokens.Add(event.Symbol(rune('a' + i)))
	}
	return rank.Candidate{
		Pattern:    &pattern.Pattern{Name: pattern.Name(name), Frequency: frequency},
		Similarity: similarity,
		Segmentation: segment.Segmentation{
			Matches:       matches,
			PresentTokens: tokens,
		},
	}
}

func TestRankOrdersByConfidenceDescending(t *testing.T) {
	candidates := []rank.Candidate{
		newCandidate("PATTERN|low", 0.2, 1, 1, 2),
		newCandidate("PATTERN|high", 0.9, 1, 2, 2),
	}
	preds := rank.Rank(candidates, rank.DefaultWeights(), 10)
	require.Len(t, preds, 2)
	assert.Equal(t, pattern.Name("PATTERN|high"), preds[0].Name)
	assert.GreaterOrEqual(t, preds[0].Confidence, preds[1].Confidence)
}

// TestRankTieBreaksByNameAscending mirrors property P9.
func TestRankTieBreaksByNameAscending(t *testing.T) {
	candidates := []rank.Candidate{
		newCandidate("PATTERN|zzz", 0.5, 1, 1, 2),
		newCandidate("PATTERN|aaa", 0.5, 1, 1, 2),
	}
	preds := rank.Rank(candidates, rank.DefaultWeights(), 10)
	require.Len(t, preds, 2)
	assert.Equal(t, pattern.Name("PATTERN|aaa"), preds[0].Name)
	assert.Equal(t, pattern.Name("PATTERN|zzz"), preds[1].Name)
}

func TestRankTruncatesToMaxPredictions(t *testing.T) {
	candidates := []rank.Candidate{
		newCandidate("PATTERN|a", 0.9, 1, 1, 1),
		newCandidate("PATTERN|b", 0.8, 1, 1, 1),
		newCandidate("PATTERN|c", 0.7, 1, 1, 1),
	}
	preds := rank.Rank(candidates, rank.DefaultWeights(), 2)
	assert.Len(t, preds, 2)
}

func TestRankFrequencyNormalizedByMax(t *testing.T) {
	candidates := []rank.Candidate{
		newCandidate("PATTERN|a", 0.5, 10, 1, 1),
		newCandidate("PATTERN|b", 0.5, 5, 1, 1),
	}
	preds := rank.Rank(candidates, rank.Weights{Frequency: 1}, 10)
	byName := map[pattern.Name]rank.Prediction{}
	for _, p := range preds {
		byName[p.Name] = p
	}
	assert.Equal(t, 1.0, byName["PATTERN|a"].Frequency)
	assert.Equal(t, 0.5, byName["PATTERN|b"].Frequency)
}

func TestRankEvidenceZeroWhenPresentEmpty(t *testing.T) {
	c := newCandidate("PATTERN|a", 0.5, 1, 0, 0)
	preds := rank.Rank([]rank.Candidate{c}, rank.Weights{Evidence: 1}, 10)
	require.Len(t, preds, 1)
	assert.Equal(t, 0.0, preds[0].Evidence)
	assert.Equal(t, 0.0, preds[0].Confidence)
}

func TestRankConfidenceClippedToUnitInterval(t *testing.T) {
	c := newCandidate("PATTERN|a", 1.0, 1, 1, 1)
	preds := rank.Rank([]rank.Candidate{c}, rank.Weights{Similarity: 2, Evidence: 2, Frequency: 2}, 10)
	require.Len(t, preds, 1)
	assert.LessOrEqual(t, preds[0].Confidence, 1.0)
}

func TestRankEmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, rank.Rank(nil, rank.DefaultWeights(), 10))
}
