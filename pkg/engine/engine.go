// Package engine implements the stateless session executor (C9): it
// composes the symbol codec, vector encoder, short-term buffer, pattern
// store, candidate pipeline, segmenter, and ranker into the engine's
// request/response surface (§4.9, §6). The executor never holds session
// data between calls; every operation loads state, executes, and writes
// state back under a per-session advisory lock.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevakavakians/kato/internal/obs"
	"github.com/sevakavakians/kato/pkg/candidate"
	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/pattern"
	"github.com/sevakavakians/kato/pkg/rank"
	"github.com/sevakavakians/kato/pkg/segment"
	"github.com/sevakavakians/kato/pkg/session"
	"github.com/sevakavakians/kato/pkg/stm"
	"github.com/sevakavakians/kato/pkg/vectorenc"
)

// Config holds process-wide engine tunables: scoring weights, the
// candidate pipeline configuration, and the concurrency/timeout bounds of
// §5's backpressure model. Per-session behavior lives in session.Config.
type Config struct {
	Weights      rank.Weights
	Pipeline     candidate.PipelineConfig
	LockTimeout  time.Duration
	StoreTimeout time.Duration

	// MaxConcurrentSessions and MaxInFlightPatternQueries bound the
	// per-process semaphores from §5's backpressure rule; zero disables
	// the corresponding bound.
	MaxConcurrentSessions     int
	MaxInFlightPatternQueries int
}

// DefaultConfig returns the engine's baseline process-wide configuration.
func DefaultConfig() Config {
	return Config{
		Weights:                   rank.DefaultWeights(),
		Pipeline:                  candidate.DefaultPipelineConfig(),
		LockTimeout:               5 * time.Second,
		StoreTimeout:              3 * time.Second,
		MaxConcurrentSessions:     1024,
		MaxInFlightPatternQueries: 256,
	}
}

// Engine composes the engine's collaborators behind the stateless
// operations of §4.9 and §6.
type Engine struct {
	Patterns pattern.Repository
	Vectors  *vectorenc.Encoder // nil if the deployment never encodes vectors
	Sessions session.Store
	Locks    session.Locker
	Config   Config

	// Export, if non-nil, receives a best-effort mirror of every pattern
	// record touched by a successful (non-no-op) learn, for the offline
	// analytical column store named in spec §1. It never affects the
	// outcome of Learn: a nil Export mirrors nothing, and a record that
	// cannot be read back for the mirror is logged as a warning and skipped.
	Export PatternExporter

	sessionSem chan struct{}
	patternSem chan struct{}
}

// PatternExporter is the narrow seam Engine needs from
// internal/patternexport.Sink (kept as an interface here, rather than a
// direct dependency, so embedders who never configure an analytical sink
// never pull in the ClickHouse driver transitively through pkg/engine).
// *patternexport.Sink satisfies this directly.
type PatternExporter interface {
	Mirror(kbID, name string, length, tokenCount, frequency int, learnedAt time.Time)
}

// New wires an Engine from its collaborators. sessions and locks are
// typically the same in-memory session.Manager in embedded deployments, or
// a Redis-backed pair in distributed ones.
func New(patterns pattern.Repository, vectors *vectorenc.Encoder, sessions session.Store, locks session.Locker, cfg Config) *Engine {
	e := &Engine{
		Patterns: patterns,
		Vectors:  vectors,
		Sessions: sessions,
		Locks:    locks,
		Config:   cfg,
	}
	if cfg.MaxConcurrentSessions > 0 {
		e.sessionSem = make(chan struct{}, cfg.MaxConcurrentSessions)
	}
	if cfg.MaxInFlightPatternQueries > 0 {
		e.patternSem = make(chan struct{}, cfg.MaxInFlightPatternQueries)
	}
	return e
}

func acquire(sem chan struct{}) (func(), bool) {
	if sem == nil {
		return func() {}, true
	}
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return nil, false
	}
}

// ObserveRequest is the input of an observe operation (§6). Metadata is
// opaque request context; the engine neither persists it nor attaches it
// to the operation's span.
type ObserveRequest struct {
	Strings  []string
	Vectors  []vectorenc.Vector
	Emotives map[string]float64
	Metadata map[string]string
}

// ObserveResult is the output of an observe operation.
type ObserveResult struct {
	STMLength int
}

// Observe extends the session's STM with one event built from req's tokens
// and vectors, folds in its emotives, and triggers an auto-learn if the STM
// has reached the session's max_pattern_length.
func (e *Engine) Observe(ctx context.Context, sessionID string, req ObserveRequest) (ObserveResult, error) {
	if len(req.Vectors) > 0 && e.Vectors == nil {
		return ObserveResult{}, fmt.Errorf("%w: vectors supplied but no vector encoder is configured", ErrInvalidInput)
	}

	return withSession(ctx, e, "observe", sessionID, func(ctx context.Context, st *session.State) (ObserveResult, error) {
		symbols := make([]event.Symbol, 0, len(req.Strings)+len(req.Vectors))
		for _, s := range req.Strings {
			symbols = append(symbols, event.Symbol(s))
		}
		for _, v := range req.Vectors {
			sym, err := e.Vectors.Encode(ctx, st.Config.KBID, v)
			if err != nil {
				return ObserveResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			symbols = append(symbols, sym)
		}

		ev := event.Canonicalize(symbols, st.Config.SortEvents)

		buf := stm.FromSnapshot(stm.Snapshot{Events: st.Events, Emotives: st.Emotives})
		buf.Append(ev, req.Emotives)
		st.ObservationsSinceLearn++

		maxLen := st.Config.MaxPatternLength
		if maxLen > 0 && buf.Len() >= maxLen && st.ObservationsSinceLearn >= st.Config.Quiescence {
			snap := buf.Snapshot()
			emotives := stm.Persistence(snap.Emotives, st.Config.Persistence)
			name, isNoOp, err := e.Patterns.Learn(ctx, st.Config.KBID, snap.Events, flattenEmotives(emotives), st.Config.AlwaysUpdateFrequencies)
			if err != nil {
				return ObserveResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			e.mirrorLearn(ctx, st.Config.KBID, name, isNoOp)
			buf.TruncateToLast()
			st.ObservationsSinceLearn = 0
		}

		snap := buf.Snapshot()
		st.Events = snap.Events
		st.Emotives = snap.Emotives

		return ObserveResult{STMLength: len(st.Events)}, nil
	})
}

// Learn snapshots the STM, hands it to the pattern store, and clears the
// STM's event sequence (emotives persist across learns; see the
// `persistence` option). It is a no-op, without error, if fewer than
// quiescence observations have occurred since the last learn, or if the
// STM has fewer than two events (I3).
func (e *Engine) Learn(ctx context.Context, sessionID string) (pattern.Name, bool, error) {
	type result struct {
		name pattern.Name
		noOp bool
	}

	r, err := withSession(ctx, e, "learn", sessionID, func(ctx context.Context, st *session.State) (result, error) {
		if st.Config.Quiescence > 0 && st.ObservationsSinceLearn < st.Config.Quiescence {
			return result{noOp: true}, nil
		}

		release, ok := acquire(e.patternSem)
		if !ok {
			return result{}, ErrBackpressure
		}
		defer release()

		emotives := stm.Persistence(st.Emotives, st.Config.Persistence)
		name, isNoOp, err := e.Patterns.Learn(ctx, st.Config.KBID, st.Events, flattenEmotives(emotives), st.Config.AlwaysUpdateFrequencies)
		if err != nil {
			return result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.mirrorLearn(ctx, st.Config.KBID, name, isNoOp)

		st.Events = nil
		st.ObservationsSinceLearn = 0
		return result{name: name, noOp: isNoOp}, nil
	})
	return r.name, r.noOp, err
}

// mirrorLearn best-effort forwards a successful learn's pattern record to
// e.Export, if one is configured. It fetches the full record rather than
// reconstructing it, since Learn itself only returns (name, isNoOp): the
// record's Length/TokenCount/Frequency live on the stored Pattern. A Get
// failure here is logged, not surfaced — the export is advisory and must
// never turn a successful learn into a user-visible error.
func (e *Engine) mirrorLearn(ctx context.Context, kbID string, name pattern.Name, isNoOp bool) {
	if e.Export == nil || isNoOp || name == "" {
		return
	}
	p, err := e.Patterns.Get(ctx, kbID, name)
	if err != nil {
		slog.Warn("engine: pattern export lookup failed", "kb_id", kbID, "name", name, "error", err)
		return
	}
	e.Export.Mirror(kbID, string(name), p.Length, p.TokenCount, p.Frequency, time.Now())
}

// GetPredictions runs the candidate pipeline, segmenter, and ranker
// against the current STM snapshot. If process_predictions is false it
// returns an empty list without touching the pattern store.
func (e *Engine) GetPredictions(ctx context.Context, sessionID string) ([]rank.Prediction, error) {
	return withSession(ctx, e, "get-predictions", sessionID, func(ctx context.Context, st *session.State) ([]rank.Prediction, error) {
		if !st.Config.ProcessPredictions {
			return nil, nil
		}
		if len(st.Events) == 0 {
			return nil, nil
		}

		release, ok := acquire(e.patternSem)
		if !ok {
			return nil, ErrBackpressure
		}
		defer release()

		queryTokens := make(event.Set)
		for _, ev := range st.Events {
			for _, sym := range ev {
				queryTokens.Add(sym)
			}
		}

		survivors, err := candidate.Run(ctx, e.Patterns, st.Config.KBID, queryTokens, st.Config.RecallThreshold, e.Config.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		candidates := make([]rank.Candidate, 0, len(survivors))
		for _, surv := range survivors {
			seg, ok := segment.Segment(st.Events, surv.Pattern.Events)
			if !ok {
				continue
			}
			candidates = append(candidates, rank.Candidate{
				Pattern:      surv.Pattern,
				Similarity:   surv.Similarity,
				Segmentation: seg,
			})
		}

		return rank.Rank(candidates, e.Config.Weights, st.Config.MaxPredictions), nil
	})
}

// GetSTM returns the session's current STM snapshot.
func (e *Engine) GetSTM(ctx context.Context, sessionID string) (stm.Snapshot, error) {
	return withSession(ctx, e, "get-stm", sessionID, func(_ context.Context, st *session.State) (stm.Snapshot, error) {
		return stm.Snapshot{Events: st.Events, Emotives: st.Emotives}, nil
	})
}

// ClearSTM resets the session's event sequence, leaving emotives and
// config untouched.
func (e *Engine) ClearSTM(ctx context.Context, sessionID string) error {
	_, err := withSession(ctx, e, "clear-stm", sessionID, func(_ context.Context, st *session.State) (struct{}, error) {
		st.Events = nil
		st.ObservationsSinceLearn = 0
		return struct{}{}, nil
	})
	return err
}

// ClearAll resets the session's event sequence and aggregated emotives.
func (e *Engine) ClearAll(ctx context.Context, sessionID string) error {
	_, err := withSession(ctx, e, "clear-all", sessionID, func(_ context.Context, st *session.State) (struct{}, error) {
		st.Events = nil
		st.Emotives = make(map[string][]float64)
		st.ObservationsSinceLearn = 0
		return struct{}{}, nil
	})
	return err
}

// UpdateConfig merges overrides into the session's effective configuration
// and returns the new effective configuration. A config that fails
// Validate leaves the session untouched and returns ErrInvalidInput.
func (e *Engine) UpdateConfig(ctx context.Context, sessionID string, overrides session.Config, set map[string]bool) (session.Config, error) {
	return withSession(ctx, e, "update-config", sessionID, func(_ context.Context, st *session.State) (session.Config, error) {
		merged, err := st.Config.Merge(overrides, set)
		if err != nil {
			return session.Config{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if err := merged.Validate(); err != nil {
			return session.Config{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		st.Config = merged
		return merged, nil
	})
}

// withSession is the §4.9/§5 load->execute->save cycle shared by every
// operation: acquire the backpressure semaphore and the per-session
// advisory lock, load state, run fn, and persist the result. fn's error
// return is propagated without a save; a successful fn always saves. op
// names the calling operation (observe/learn/...) for the trace span
// (internal/obs) wrapping the whole cycle.
func withSession[T any](ctx context.Context, e *Engine, op, sessionID string, fn func(context.Context, *session.State) (T, error)) (_ T, err error) {
	ctx, end := obs.StartSession(ctx, op, sessionID)
	defer func() { end(&err) }()

	var zero T

	release, ok := acquire(e.sessionSem)
	if !ok {
		return zero, ErrBackpressure
	}
	defer release()

	lockCtx, cancel := context.WithTimeout(ctx, e.Config.LockTimeout)
	defer cancel()
	unlock, err := e.Locks.Lock(lockCtx, sessionID)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrLeaseExpired, err)
	}
	defer unlock()

	storeCtx, cancel2 := context.WithTimeout(ctx, e.Config.StoreTimeout)
	defer cancel2()

	st, lease, err := e.Sessions.Load(storeCtx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			st = session.NewState(session.DefaultConfig(defaultKBID))
		} else {
			return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	result, fnErr := fn(ctx, &st)
	if fnErr != nil {
		return zero, fnErr
	}

	st.Revision++
	if err := e.Sessions.Save(storeCtx, sessionID, st, lease); err != nil {
		if err == session.ErrLeaseExpired {
			return zero, ErrLeaseExpired
		}
		return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return result, nil
}

// defaultKBID is the partition a brand-new session defaults into before
// its first update-config call names one explicitly. Embedders that
// require every session to pick a kb_id up front should call UpdateConfig
// immediately after session creation.
const defaultKBID = "default"

func flattenEmotives(agg map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(agg))
	for k, vs := range agg {
		if len(vs) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range vs {
			sum += v
		}
		out[k] = sum / float64(len(vs))
	}
	return out
}
