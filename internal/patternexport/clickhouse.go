// Package patternexport implements an async, write-only sink that mirrors
// newly-learned pattern records into an analytical column store, the
// "bulk analytical pattern export" collaborator named in spec §1. The
// engine never reads from it — it exists purely so an operator can run
// offline analytics (frequency trends, token-set drift, per-kb_id volume)
// without querying the hot-path pattern store.
package patternexport

import (
	"context"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// record is one row mirrored to the column store: a flattened, wire-shaped
// view of a learned pattern, stamped with the time it was learned. It is
// unexported because the public surface (Mirror) takes plain values —
// pkg/engine depends only on an interface shaped after Mirror's signature,
// never on this package's types, so a deployment that never configures an
// analytical sink never pulls in the ClickHouse driver.
type record struct {
	kbID       string
	name       string
	length     int
	tokenCount int
	frequency  int
	learnedAt  time.Time
}

// Sink batches Records and flushes them to ClickHouse on a timer or when
// the batch fills, whichever comes first. It never blocks a learn: Mirror
// enqueues onto a bounded channel and drops (logging a warning) rather than
// applying backpressure to the hot path, since this export is advisory.
type Sink struct {
	conn      driver.Conn
	table     string
	batchSize int
	flushEvery time.Duration

	records chan record
	done    chan struct{}
}

// Options configures a Sink.
type Options struct {
	Addr      string
	Database  string
	Username  string
	Password  string
	Table     string // default "pattern_learns"
	BatchSize int    // default 500
	FlushEvery time.Duration // default 5s
	QueueSize int // default 4096
}

// New dials opts.Addr and returns a running Sink. Call Close to flush any
// buffered records and stop the background flusher.
func New(ctx context.Context, opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = "pattern_learns"
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 500
	}
	if opts.FlushEvery == 0 {
		opts.FlushEvery = 5 * time.Second
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 4096
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	s := &Sink{
		conn:       conn,
		table:      opts.Table,
		batchSize:  opts.BatchSize,
		flushEvery: opts.FlushEvery,
		records:    make(chan record, opts.QueueSize),
		done:       make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Mirror enqueues one learned-pattern row for the next flush. It never
// blocks: a full queue drops the row and logs, since this sink is advisory
// (the engine's correctness never depends on it). The signature matches
// pkg/engine.PatternExporter so an *Sink can be assigned to Engine.Export
// directly.
func (s *Sink) Mirror(kbID, name string, length, tokenCount, frequency int, learnedAt time.Time) {
	r := record{kbID: kbID, name: name, length: length, tokenCount: tokenCount, frequency: frequency, learnedAt: learnedAt}
	select {
	case s.records <- r:
	default:
		slog.Warn("patternexport: queue full, dropping record", "kb_id", kbID, "name", name)
	}
}

// Close stops the background flusher, flushing any remaining buffered
// records first, and closes the underlying connection.
func (s *Sink) Close() error {
	close(s.records)
	<-s.done
	return s.conn.Close()
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	buf := make([]record, 0, s.batchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := s.flush(buf); err != nil {
			slog.Error("patternexport: flush failed", "error", err, "count", len(buf))
		}
		buf = buf[:0]
	}

	for {
		select {
		case r, ok := <-s.records:
			if !ok {
				flush()
				return
			}
			buf = append(buf, r)
			if len(buf) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) flush(records []record) error {
	ctx := context.Background()
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := batch.Append(r.kbID, r.name, r.length, r.tokenCount, r.frequency, r.learnedAt); err != nil {
			return err
		}
	}
	return batch.Send()
}
