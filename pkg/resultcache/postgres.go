package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOptions configures the postgres backend.
type PostgresOptions struct {
	DSN string
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS benchtrail_entries (
	revision    TEXT        NOT NULL,
	benchmark   TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	result      JSONB,
	failure     JSONB,
	run_id      TEXT        NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL,
	duration_ns BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (revision, benchmark)
)`

// PostgresStore keeps entries in the benchtrail_entries table. The primary
// key plus ON CONFLICT DO NOTHING makes writes first-wins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and creates the table if needed.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: connect: %w", err)
	}

	_, err = pool.Exec(ctx, createEntriesTable)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("postgres cache: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Has reports whether a row exists for key.
func (s *PostgresStore) Has(ctx context.Context, key Key) (bool, error) {
	err := key.Validate()
	if err != nil {
		return false, err
	}

	var found bool

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM benchtrail_entries WHERE revision = $1 AND benchmark = $2)`,
		key.Revision, key.Benchmark).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("postgres cache: has %s: %w", key, err)
	}

	return found, nil
}

// Write inserts the row unless one exists.
func (s *PostgresStore) Write(ctx context.Context, entry *Entry) error {
	key := entry.Key()

	err := key.Validate()
	if err != nil {
		return err
	}

	var failure []byte

	if entry.Failure != nil {
		failure, err = json.Marshal(entry.Failure)
		if err != nil {
			return fmt.Errorf("postgres cache: encode failure: %w", err)
		}
	}

	var result []byte
	if len(entry.Result) > 0 {
		result = entry.Result
	}

	tag, err := s.pool.Exec(ctx, `
INSERT INTO benchtrail_entries (revision, benchmark, status, result, failure, run_id, recorded_at, duration_ns)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (revision, benchmark) DO NOTHING`,
		key.Revision, key.Benchmark, string(entry.Status), result, failure,
		entry.RunID, entry.RecordedAt, int64(entry.Duration))
	if err != nil {
		return fmt.Errorf("postgres cache: insert %s: %w", key, err)
	}

	if tag.RowsAffected() == 0 {
		return exists(key)
	}

	return nil
}

// Read loads the row for key.
func (s *PostgresStore) Read(ctx context.Context, key Key) (*Entry, error) {
	err := key.Validate()
	if err != nil {
		return nil, err
	}

	var (
		status   string
		result   []byte
		failure  []byte
		runID    string
		recorded time.Time
		duration int64
	)

	err = s.pool.QueryRow(ctx, `
SELECT status, result, failure, run_id, recorded_at, duration_ns
FROM benchtrail_entries WHERE revision = $1 AND benchmark = $2`,
		key.Revision, key.Benchmark).Scan(&status, &result, &failure, &runID, &recorded, &duration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}

	if err != nil {
		return nil, fmt.Errorf("postgres cache: read %s: %w", key, err)
	}

	entry := &Entry{
		Revision:   key.Revision,
		Benchmark:  key.Benchmark,
		Status:     Status(status),
		Result:     result,
		RunID:      runID,
		RecordedAt: recorded.UTC(),
		Duration:   time.Duration(duration),
	}

	if len(failure) > 0 {
		entry.Failure = &Failure{}

		err = json.Unmarshal(failure, entry.Failure)
		if err != nil {
			return Failed(key, Failure{Kind: FailureCorrupt, Message: err.Error()}), nil
		}
	}

	return entry, nil
}

// Clear deletes the row for key.
func (s *PostgresStore) Clear(ctx context.Context, key Key) error {
	err := key.Validate()
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM benchtrail_entries WHERE revision = $1 AND benchmark = $2`,
		key.Revision, key.Benchmark)
	if err != nil {
		return fmt.Errorf("postgres cache: clear %s: %w", key, err)
	}

	return nil
}

// List returns all keys ordered by revision and benchmark.
func (s *PostgresStore) List(ctx context.Context) ([]Key, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT revision, benchmark FROM benchtrail_entries ORDER BY revision, benchmark`)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: list: %w", err)
	}

	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Key, error) {
		var key Key

		scanErr := row.Scan(&key.Revision, &key.Benchmark)

		return key, scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("postgres cache: list: %w", err)
	}

	return keys, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()

	return nil
}
