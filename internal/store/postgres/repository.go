// Package postgres implements a persistent pattern.Repository (C4) on top of
// PostgreSQL, using pgx directly rather than a generated ORM client: one
// "patterns" row per content-addressed pattern and a companion
// "pattern_lsh_bands" table providing the (band_index, band_hash) -> name
// inverted index §4.4/§4.6 ask for. Every query is scoped by kb_id (I5).
//
// Unlike the in-memory reference store's hand-rolled bloom filter, the
// token_set column here is a native Postgres text[] with a GIN index:
// Postgres's own set-membership operators (&&, @>) already give sub-linear
// "does this row plausibly share tokens with the query" screening, so no
// separate bloom bit array is stored for this backend. See DESIGN.md.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sevakavakians/kato/pkg/codec"
	"github.com/sevakavakians/kato/pkg/event"
	"github.com/sevakavakians/kato/pkg/minhash"
	"github.com/sevakavakians/kato/pkg/pattern"
)

// Repository is the pgx-backed pattern.Repository implementation.
type Repository struct {
	pool     *pgxpool.Pool
	minhashN int
	minhashB int
	minhashR int
}

// NewRepository wraps an open Client's pool. The caller owns the Client's
// lifecycle (migrations already applied by NewClient).
func NewRepository(c *Client) *Repository {
	return &Repository{
		pool:     c.Pool,
		minhashN: minhash.DefaultN,
		minhashB: minhash.DefaultB,
		minhashR: minhash.DefaultR,
	}
}

// Learn implements pattern.Repository. A new pattern is inserted with
// frequency 1; a concurrent insert of the same content address is resolved
// by ON CONFLICT DO UPDATE, so two simultaneous learns of the same sequence
// still yield exactly one row with frequency incremented twice (I2).
func (r *Repository) Learn(ctx context.Context, kbID string, events []event.Event, emotives map[string]float64, alwaysUpdateFrequencies bool) (pattern.Name, bool, error) {
	if len(events) < pattern.MinPatternLength {
		return "", true, nil
	}

	name := pattern.Name(codec.Name(events))

	tokenSet := make(event.Set)
	for _, e := range events {
		for _, sym := range e {
			tokenSet.Add(sym)
		}
	}
	tokens := tokenSet.Slice()
	strTokens := make([]string, len(tokens))
	for i, t := range tokens {
		strTokens[i] = string(t)
	}

	sig := minhash.Compute(strTokens, r.minhashN)
	bands := minhash.Bands(sig, r.minhashB, r.minhashR)

	eventsJSON, err := marshalEvents(events)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}

	var firstToken, lastToken *string
	if first := events[0]; len(first) > 0 {
		sorted := event.Canonicalize(first, true)
		ft := string(sorted[0])
		firstToken = &ft
	}
	if last := events[len(events)-1]; len(last) > 0 {
		sorted := event.Canonicalize(last, true)
		lt := string(sorted[len(sorted)-1])
		lastToken = &lt
	}

	sigInt := toInt64Slice(sig)
	bandsInt := toInt64SliceU(bands)

	contribution := map[string][]float64{}
	for k, v := range emotives {
		contribution[k] = []float64{v}
	}
	emotivesJSON, err := json.Marshal(contribution)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}

	isNoOp := false
	err = withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var existed bool
		err := tx.QueryRow(ctx, `SELECT true FROM patterns WHERE kb_id = $1 AND name = $2`, kbID, string(name)).Scan(&existed)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if existed {
			isNoOp = false
			if alwaysUpdateFrequencies {
				if _, err := tx.Exec(ctx, `UPDATE patterns SET frequency = frequency + 1 WHERE kb_id = $1 AND name = $2`, kbID, string(name)); err != nil {
					return err
				}
			}
			return foldEmotivesTx(ctx, tx, kbID, name, contribution)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO patterns (kb_id, name, events, length, token_set, token_count, minhash_sig, lsh_bands, first_token, last_token, frequency, emotives)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11)
			ON CONFLICT (kb_id, name) DO UPDATE SET frequency = patterns.frequency + 1`,
			kbID, string(name), eventsJSON, len(events), strTokens, len(tokens), sigInt, bandsInt, firstToken, lastToken, emotivesJSON,
		)
		if err != nil {
			return err
		}

		for i, bh := range bands {
			if _, err := tx.Exec(ctx, `
				INSERT INTO pattern_lsh_bands (kb_id, band_index, band_hash, name)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING`,
				kbID, i, int64(bh), string(name),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}
	return name, isNoOp, nil
}

// Get implements pattern.Repository.
func (r *Repository) Get(ctx context.Context, kbID string, name pattern.Name) (*pattern.Pattern, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT events, length, token_set, token_count, minhash_sig, lsh_bands, first_token, last_token, frequency, emotives
		FROM patterns WHERE kb_id = $1 AND name = $2`, kbID, string(name))

	var (
		eventsJSON            []byte
		length, tokenCount    int
		tokenSetArr           []string
		sigInt, bandsInt      []int64
		firstToken, lastToken *string
		frequency             int
		emotivesJSON          []byte
	)
	if err := row.Scan(&eventsJSON, &length, &tokenSetArr, &tokenCount, &sigInt, &bandsInt, &firstToken, &lastToken, &frequency, &emotivesJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pattern.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}

	events, err := unmarshalEvents(eventsJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}
	tokenSet := make(event.Set, len(tokenSetArr))
	for _, t := range tokenSetArr {
		tokenSet.Add(event.Symbol(t))
	}
	var contribution map[string][]float64
	if err := json.Unmarshal(emotivesJSON, &contribution); err != nil {
		return nil, fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}

	p := &pattern.Pattern{
		Name:       name,
		Events:     events,
		Length:     length,
		TokenSet:   tokenSet,
		TokenCount: tokenCount,
		MinHashSig: fromInt64Slice(sigInt),
		LSHBands:   fromInt64SliceU(bandsInt),
		KBID:       kbID,
		Frequency:  frequency,
		Emotives:   contribution,
	}
	if firstToken != nil {
		ft := event.Symbol(*firstToken)
		p.FirstToken = &ft
	}
	if lastToken != nil {
		lt := event.Symbol(*lastToken)
		p.LastToken = &lt
	}
	return p, nil
}

// ScanCandidates implements pattern.Repository, applying §4.6 stages 1-4 as
// a single SQL query joined against pattern_lsh_bands when LSH is in use.
func (r *Repository) ScanCandidates(ctx context.Context, kbID string, q pattern.CandidateQuery) iter.Seq[pattern.Name] {
	names, err := r.scanCandidates(ctx, kbID, q)
	if err != nil {
		return func(func(pattern.Name) bool) {}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return func(yield func(pattern.Name) bool) {
		for _, n := range names {
			if !yield(n) {
				return
			}
		}
	}
}

func (r *Repository) scanCandidates(ctx context.Context, kbID string, q pattern.CandidateQuery) ([]pattern.Name, error) {
	clauses := []string{"kb_id = $1"}
	args := []any{kbID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.LengthMin > 0 {
		clauses = append(clauses, "length >= "+arg(q.LengthMin))
	}
	if q.LengthMax > 0 {
		clauses = append(clauses, "length <= "+arg(q.LengthMax))
	}
	if q.TokenCountMin > 0 {
		clauses = append(clauses, "token_count >= "+arg(q.TokenCountMin))
	}
	if q.TokenCountMax > 0 {
		clauses = append(clauses, "token_count <= "+arg(q.TokenCountMax))
	}

	if q.UseBloom {
		if len(q.RequiredTokens) > 0 {
			required := make([]string, len(q.RequiredTokens))
			for i, t := range q.RequiredTokens {
				required[i] = string(t)
			}
			clauses = append(clauses, "token_set @> "+arg(required)+"::text[]")
		} else if q.MinOverlap > 0 {
			queryTokens := make([]string, 0, len(q.TokenSet))
			for t := range q.TokenSet {
				queryTokens = append(queryTokens, string(t))
			}
			clauses = append(clauses,
				"cardinality(array(SELECT unnest(token_set) INTERSECT SELECT unnest("+arg(queryTokens)+"::text[]))) >= "+arg(q.MinOverlap))
		}
	}

	query := "SELECT DISTINCT p.name FROM patterns p"
	if q.UseLSH && len(q.LSHBands) > 0 {
		bandIdx := make([]int32, len(q.LSHBands))
		bandHash := make([]int64, len(q.LSHBands))
		for i, bh := range q.LSHBands {
			bandIdx[i] = int32(i)
			bandHash[i] = int64(bh)
		}
		query += fmt.Sprintf(` JOIN pattern_lsh_bands b ON b.kb_id = p.kb_id AND b.name = p.name
			AND (b.band_index, b.band_hash) IN (SELECT * FROM unnest(%s::int[], %s::bigint[]))`,
			arg(bandIdx), arg(bandHash))
	}

	query += " WHERE " + joinAnd(clauses)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []pattern.Name
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, pattern.Name(n))
	}
	return names, rows.Err()
}

// Purge implements pattern.Repository.
func (r *Repository) Purge(ctx context.Context, kbID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM patterns WHERE kb_id = $1`, kbID)
	if err != nil {
		return fmt.Errorf("%w: %v", pattern.ErrStoreUnavailable, err)
	}
	return nil
}

func foldEmotivesTx(ctx context.Context, tx pgx.Tx, kbID string, name pattern.Name, contribution map[string][]float64) error {
	if len(contribution) == 0 {
		return nil
	}
	var existingJSON []byte
	if err := tx.QueryRow(ctx, `SELECT emotives FROM patterns WHERE kb_id = $1 AND name = $2`, kbID, string(name)).Scan(&existingJSON); err != nil {
		return err
	}
	var existing map[string][]float64
	if err := json.Unmarshal(existingJSON, &existing); err != nil {
		return err
	}
	if existing == nil {
		existing = map[string][]float64{}
	}
	for k, v := range contribution {
		existing[k] = append(existing[k], v...)
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE patterns SET emotives = $1 WHERE kb_id = $2 AND name = $3`, merged, kbID, string(name))
	return err
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

func marshalEvents(events []event.Event) ([]byte, error) {
	raw := make([][]string, len(events))
	for i, e := range events {
		symbols := make([]string, len(e))
		for j, s := range e {
			symbols[j] = string(s)
		}
		raw[i] = symbols
	}
	return json.Marshal(raw)
}

func unmarshalEvents(data []byte) ([]event.Event, error) {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	events := make([]event.Event, len(raw))
	for i, symbols := range raw {
		e := make(event.Event, len(symbols))
		for j, s := range symbols {
			e[j] = event.Symbol(s)
		}
		events[i] = e
	}
	return events, nil
}

func toInt64Slice(sig minhash.Signature) []int64 {
	out := make([]int64, len(sig))
	for i, v := range sig {
		out[i] = int64(v)
	}
	return out
}

func toInt64SliceU(vs []uint64) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = int64(v)
	}
	return out
}

func fromInt64Slice(vs []int64) minhash.Signature {
	out := make(minhash.Signature, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

func fromInt64SliceU(vs []int64) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}
