// Package resultcache persists one write-once entry per (revision,
// benchmark) pair. An entry, success or failure, means the pair was
// attempted and is skipped until it is explicitly cleared.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrEntryExists rejects a second write to the same key.
	ErrEntryExists = errors.New("cache entry already exists")
	// ErrNotFound means no entry exists for the key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey means the key cannot be mapped to storage safely.
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrUnknownBackend is returned by Open for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown cache backend")
)

// Status of a cache entry.
type Status string

// Entry statuses.
const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// FailureCorrupt marks an entry that exists but cannot be decoded.
const FailureCorrupt = "corrupt"

// Key addresses one entry.
type Key struct {
	Revision  string `json:"revision"`
	Benchmark string `json:"benchmark"`
}

func (k Key) String() string {
	return k.Revision + "/" + k.Benchmark
}

// Validate rejects keys that could escape or collide in backend naming.
func (k Key) Validate() error {
	switch {
	case k.Revision == "" || k.Benchmark == "":
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	case strings.ContainsAny(k.Revision, `/\:_ `):
		return fmt.Errorf("%w: revision %q", ErrInvalidKey, k.Revision)
	case strings.ContainsAny(k.Benchmark, `/\:`) || k.Benchmark == "." || k.Benchmark == "..":
		return fmt.Errorf("%w: benchmark %q", ErrInvalidKey, k.Benchmark)
	}

	return nil
}

// Failure describes why an entry holds no result.
type Failure struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Tail     string `json:"tail,omitempty"`
}

// Entry is the persisted outcome for one key.
type Entry struct {
	Revision   string          `json:"revision"`
	Benchmark  string          `json:"benchmark"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Failure    *Failure        `json:"failure,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
	Duration   time.Duration   `json:"duration_ns"`
}

// Key returns the entry's key.
func (e *Entry) Key() Key {
	return Key{Revision: e.Revision, Benchmark: e.Benchmark}
}

// OK reports whether the entry holds a result.
func (e *Entry) OK() bool {
	return e.Status == StatusOK
}

// Success builds a result entry.
func Success(key Key, result json.RawMessage) *Entry {
	return &Entry{
		Revision:   key.Revision,
		Benchmark:  key.Benchmark,
		Status:     StatusOK,
		Result:     result,
		RecordedAt: time.Now().UTC(),
	}
}

// Failed builds a failure marker.
func Failed(key Key, failure Failure) *Entry {
	return &Entry{
		Revision:   key.Revision,
		Benchmark:  key.Benchmark,
		Status:     StatusFailed,
		Failure:    &failure,
		RecordedAt: time.Now().UTC(),
	}
}

// IntegrityError reports an attempted duplicate write. The existing entry is
// left untouched and needs a manual clear to be replaced.
type IntegrityError struct {
	Key Key
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("cache integrity: %s: %v", e.Key, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func exists(key Key) error {
	return &IntegrityError{Key: key, Err: ErrEntryExists}
}

func notFound(key Key) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Store is a write-once map from Key to Entry. Implementations are safe
// for concurrent use, and of two concurrent writers to one key at most one
// succeeds.
type Store interface {
	Has(ctx context.Context, key Key) (bool, error)
	// Write fails with ErrEntryExists when the key is present.
	Write(ctx context.Context, entry *Entry) error
	// Read fails with ErrNotFound when the key is absent.
	Read(ctx context.Context, key Key) (*Entry, error)
	// Clear removes the entry. Clearing an absent key is not an error.
	Clear(ctx context.Context, key Key) error
	List(ctx context.Context) ([]Key, error)
	io.Closer
}

// Backend names.
const (
	BackendFS       = "fs"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Root is the fs backend directory.
	Root string
	// Codec is the fs backend codec name.
	Codec    string
	Redis    RedisOptions
	Postgres PostgresOptions
	S3       S3Options
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFS, "":
		return NewFSStore(opts.Root, opts.Codec)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.Postgres)
	case BackendS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// ClearAll removes every listed entry and returns how many were removed.
func ClearAll(ctx context.Context, store Store, keep func(Key) bool) (int, error) {
	keys, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, key := range keys {
		if keep != nil && keep(key) {
			continue
		}

		clearErr := store.Clear(ctx, key)
		if clearErr != nil {
			return removed, fmt.Errorf("clear %s: %w", key, clearErr)
		}

		removed++
	}

	return removed, nil
}
