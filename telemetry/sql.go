package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"
)

const createEventsTable = `CREATE TABLE IF NOT EXISTS telemetry_events (
	run_id          TEXT    NOT NULL,
	ts_unix_nano    INTEGER NOT NULL,
	kind            TEXT    NOT NULL,
	latency_seconds REAL    NOT NULL,
	shard           INTEGER NOT NULL,
	batch_size      INTEGER NOT NULL
)`

const insertEvent = `INSERT INTO telemetry_events
	(run_id, ts_unix_nano, kind, latency_seconds, shard, batch_size)
	VALUES (?, ?, ?, ?, ?, ?)`

// DefaultFlushSize is the number of buffered records that triggers a flush.
const DefaultFlushSize = 256

// SQLRecorder buffers records and writes them into the telemetry_events table.
type SQLRecorder struct {
	db        *sql.DB
	owned     bool
	runID     string
	flushSize int
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []Record
}

// SQLOption configures a SQLRecorder.
type SQLOption func(*SQLRecorder)

// WithRunID overrides the generated run identifier.
func WithRunID(id string) SQLOption {
	return func(s *SQLRecorder) {
		s.runID = id
	}
}

// WithFlushSize sets how many records are buffered before they are written.
func WithFlushSize(n int) SQLOption {
	return func(s *SQLRecorder) {
		if n > 0 {
			s.flushSize = n
		}
	}
}

// WithSQLLogger sets the logger used to report flush failures from Record.
func WithSQLLogger(l *slog.Logger) SQLOption {
	return func(s *SQLRecorder) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQLite opens (or creates) a SQLite database at path and returns a
// recorder that owns it.
func OpenSQLite(ctx context.Context, path string, optFns ...SQLOption) (*SQLRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open sqlite: %w", err)
	}

	rec, err := NewSQLRecorder(ctx, db, optFns...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rec.owned = true

	return rec, nil
}

// NewSQLRecorder creates the events table in db if needed. The caller keeps
// ownership of db.
func NewSQLRecorder(ctx context.Context, db *sql.DB, optFns ...SQLOption) (*SQLRecorder, error) {
	s := &SQLRecorder{
		db:        db,
		runID:     NewRunID(),
		flushSize: DefaultFlushSize,
		logger:    slog.New(slog.DiscardHandler),
	}

	for _, fn := range optFns {
		fn(s)
	}

	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return nil, fmt.Errorf("telemetry: create table: %w", err)
	}

	return s, nil
}

// RunID returns the identifier stored with every record of this recorder.
func (s *SQLRecorder) RunID() string { return s.runID }

// Record implements Recorder.
func (s *SQLRecorder) Record(r Record) {
	s.mu.Lock()
	s.buffer = append(s.buffer, r)
	full := len(s.buffer) >= s.flushSize
	s.mu.Unlock()

	if full {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Warn("telemetry flush failed", "error", err)
		}
	}
}

// Flush writes all buffered records in a single transaction.
func (s *SQLRecorder) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("telemetry: begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("telemetry: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range pending {
		if _, err := stmt.ExecContext(ctx, s.runID, r.Time.UnixNano(), string(r.Kind), r.Latency.Seconds(), int64(r.Shard), r.BatchSize); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("telemetry: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("telemetry: commit: %w", err)
	}

	return nil
}

// Count returns the number of stored events of the given kind for this run.
func (s *SQLRecorder) Count(ctx context.Context, kind Kind) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM telemetry_events WHERE run_id = ? AND kind = ?`, s.runID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("telemetry: count: %w", err)
	}

	return n, nil
}

// Close flushes pending records and closes the database if the recorder owns it.
func (s *SQLRecorder) Close() error {
	err := s.Flush(context.Background())

	if s.owned {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}

	return err
}
