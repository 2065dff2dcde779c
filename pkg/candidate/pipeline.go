// Package candidate implements the engine's candidate filter pipeline (C6):
// a monotone chain of stages that narrows a partition's entire pattern set
// down to a small list of plausible matches for the current STM. See §4.6.
package candidate

import (
	"context"

	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/minhash"
	"github.com/sevakavakians/kato/pkg/pattern"
)

// PipelineConfig holds the tunables for stages 1-4 and 6. These are engine
// process-wide settings (not per-session options in §6's table) because
// they govern index-search cost/recall tradeoffs rather than user-facing
// behavior.
type PipelineConfig struct {
	// LengthSlack bounds ℓ_min proportionally to |Q|: ℓ_min = max(2, |Q| -
	// LengthSlack). Zero disables the lower bound (beyond MinPatternLength).
	//
	// There is deliberately no symmetric upper bound here: a pattern learned
	// from a long event sequence is exactly what a short STM prefix should
	// be able to surface (future-extension, §4.1's present/future split), so
	// capping ℓ_max near |Q| would prune the very predictions the engine
	// exists to produce. LengthMaxSlack opts into an upper bound for
	// deployments that want one; it is unset (disabled) by default.
	LengthSlack    int
	LengthMaxSlack int

	// TokenCountSlack bounds token_count's lower edge the same way
	// LengthSlack bounds length's. TokenCountMaxSlack is the analogous
	// opt-in upper bound, also disabled by default for the same reason.
	TokenCountSlack    int
	TokenCountMaxSlack int

	// BloomStrictRecall selects stage 3's mode: true requires every query
	// token to be plausibly present (strict recall); false requires at
	// least BloomMinOverlap of them (loose recall).
	BloomStrictRecall bool
	BloomMinOverlap   int
	BloomEnabled      bool

	LSHEnabled bool

	// PrefixSuffixFilter enables stage 6: require first_token and/or
	// last_token to intersect the query token set.
	PrefixSuffixFilter bool

	MinHashN, MinHashB, MinHashR int
}

// DefaultPipelineConfig returns the engine's default tuning, matching the
// N=100, B=20, R=5 MinHash configuration from §4.5.
//
// The LSH stage is off by default: with 20 bands of 5 rows, a pair at
// Jaccard 0.4 (a two-event STM against a five-event pattern that begins
// with it) shares a band with probability of only about 0.19, so the band
// gate would drop candidates that stage 5's recall_threshold keeps.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		LengthSlack:       2,
		TokenCountSlack:   3,
		// LengthMaxSlack/TokenCountMaxSlack are left at zero (disabled): a
		// two-event STM must still be able to reach a five-event learned
		// pattern whose tail is the prediction's future.
		BloomStrictRecall: false,
		BloomMinOverlap:   1,
		BloomEnabled:      true,
		LSHEnabled:        false,
		MinHashN:          minhash.DefaultN,
		MinHashB:          minhash.DefaultB,
		MinHashR:          minhash.DefaultR,
	}
}

// Result is a candidate that survived every pipeline stage, carrying enough
// to feed the segmenter and ranker without a second repository round-trip.
type Result struct {
	Pattern    *pattern.Pattern
	Similarity float64 // exact Jaccard estimate from stage 5
}

// Run executes §4.6 against repo for the given query token set and
// recallThreshold (the session config's recall_threshold, stage 5's cutoff).
// Survivors are returned in no particular order; pkg/rank imposes the final
// deterministic order.
func Run(ctx context.Context, repo pattern.Repository, kbID string, queryTokens event.Set, recallThreshold float64, cfg PipelineConfig) ([]Result, error) {
	q := buildQuery(queryTokens, cfg)

	querySig := minhash.Compute(stringTokens(queryTokens), cfg.MinHashN)
	if cfg.LSHEnabled {
		q.UseLSH = true
		q.LSHBands = minhash.Bands(querySig, cfg.MinHashB, cfg.MinHashR)
	}

	var results []Result
	for name := range repo.ScanCandidates(ctx, kbID, q) {
		p, err := repo.Get(ctx, kbID, name)
		if err != nil {
			if err == pattern.ErrNotFound {
				// Raced with a purge/delete between ScanCandidates and Get;
				// drop silently, the pipeline never errors on a vanished
				// candidate.
				continue
			}
			return nil, err
		}

		// Stage 5: exact Jaccard filter.
		similarity := minhash.JaccardEstimate(querySig, p.MinHashSig)
		if similarity < recallThreshold {
			continue
		}

		// Stage 6: optional prefix/suffix filter.
		if cfg.PrefixSuffixFilter && !prefixSuffixMatches(p, queryTokens) {
			continue
		}

		results = append(results, Result{Pattern: p, Similarity: similarity})
	}
	return results, nil
}

func buildQuery(queryTokens event.Set, cfg PipelineConfig) pattern.CandidateQuery {
	q := pattern.CandidateQuery{TokenSet: queryTokens}

	qLen := len(queryTokens)
	if cfg.LengthSlack > 0 {
		q.LengthMin = max(pattern.MinPatternLength, qLen-cfg.LengthSlack)
	}
	if cfg.LengthMaxSlack > 0 {
		q.LengthMax = qLen + cfg.LengthMaxSlack
	}
	if cfg.TokenCountSlack > 0 {
		q.TokenCountMin = max(0, qLen-cfg.TokenCountSlack)
	}
	if cfg.TokenCountMaxSlack > 0 {
		q.TokenCountMax = qLen + cfg.TokenCountMaxSlack
	}

	q.UseBloom = cfg.BloomEnabled
	if cfg.BloomEnabled {
		if cfg.BloomStrictRecall {
			q.RequiredTokens = queryTokens.Slice()
		} else {
			overlap := cfg.BloomMinOverlap
			if overlap < 1 {
				overlap = 1
			}
			q.MinOverlap = overlap
		}
	}
	return q
}

func stringTokens(tokens event.Set) []string {
	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, string(t))
	}
	return out
}

// prefixSuffixMatches requires each configured filter key (first_token
// and/or last_token) to intersect the query token set; an unset key imposes
// no constraint.
func prefixSuffixMatches(p *pattern.Pattern, queryTokens event.Set) bool {
	if p.FirstToken != nil && !queryTokens.Contains(*p.FirstToken) {
		return false
	}
	if p.LastToken != nil && !queryTokens.Contains(*p.LastToken) {
		return false
	}
	return true
}
