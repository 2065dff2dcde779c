// Package rank implements the engine's prediction ranker (C8): it scores
// segmented candidates by a weighted combination of similarity, evidence,
// and frequency, then imposes the final deterministic order. See §4.8.
package rank

import (
	"sort"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/pattern"
	"github.com/sevakavakians/kato/pkg/segment"
)

// Weights configures the confidence blend. The defaults are equal thirds;
// see DESIGN.md for why the spec leaves this unweighted in the source.
type Weights struct {
	Similarity float64
	Evidence   float64
	Frequency  float64
}

// DefaultWeights returns the equal-thirds blend.
func DefaultWeights() Weights {
	return Weights{Similarity: 1.0 / 3, Evidence: 1.0 / 3, Frequency: 1.0 / 3}
}

// Candidate is a segmented pipeline survivor awaiting a score.
type Candidate struct {
	Pattern      *pattern.Pattern
	Similarity   float64 // stage-5 Jaccard estimate from the candidate pipeline
	Segmentation segment.Segmentation
}

// Prediction is one entry of the ranker's output list.
type Prediction struct {
	Name    pattern.Name
	Past    []event.Event
	Present []event.Event
	Future  []event.Event
	Missing event.Set
	Extras  event.Set

	Similarity float64
	Evidence   float64
	Frequency  float64 // normalized, in [0, 1]
	Confidence float64

	Emotives map[string][]float64
}

// Rank scores and orders candidates, returning at most maxPredictions
// entries in strict descending score order with name-ascending tie-break
// (P9). Evidence is matches / |present symbols|; a candidate whose present
// span is empty contributes zero evidence rather than dividing by zero.
// Frequency is normalized by the maximum frequency across the candidate set
// (a singleton set normalizes to 1.0).
func Rank(candidates []Candidate, w Weights, maxPredictions int) []Prediction {
	if len(candidates) == 0 {
		return nil
	}

	maxFreq := 0
	for _, c := range candidates {
		if c.Pattern.Frequency > maxFreq {
			maxFreq = c.Pattern.Frequency
		}
	}
	if maxFreq == 0 {
		maxFreq = 1
	}

	out := make([]Prediction, 0, len(candidates))
	for _, c := range candidates {
		evidence := 0.0
		if presentLen := len(c.Segmentation.PresentTokens); presentLen > 0 {
			evidence = float64(c.Segmentation.Matches) / float64(presentLen)
		}
		frequency := float64(c.Pattern.Frequency) / float64(maxFreq)

		confidence := w.Similarity*c.Similarity + w.Evidence*evidence + w.Frequency*frequency
		confidence = clip01(confidence)

		out = append(out, Prediction{
			Name:       c.Pattern.Name,
			Past:       c.Segmentation.Past,
			Present:    c.Segmentation.Present,
			Future:     c.Segmentation.Future,
			Missing:    c.Segmentation.Missing,
			Extras:     c.Segmentation.Extras,
			Similarity: c.Similarity,
			Evidence:   evidence,
			Frequency:  frequency,
			Confidence: confidence,
			Emotives:   c.Pattern.Emotives,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})

	if maxPredictions > 0 && len(out) > maxPredictions {
		out = out[:maxPredictions]
	}
	return out
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
