package resultcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/benchtrail/pkg/persist"
)

// DefaultDirName is the cache root created next to the benchmark files.
const DefaultDirName = "__benchmark_data__"

// FSStore keeps one file per key, named <revision>_<benchmark><ext>.
type FSStore struct {
	root  string
	codec persist.Codec
}

// NewFSStore returns a store rooted at root using the named codec.
func NewFSStore(root, codecName string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("fs cache: empty root")
	}

	codec, err := persist.ByName(codecName)
	if err != nil {
		return nil, fmt.Errorf("fs cache: %w", err)
	}

	return &FSStore{root: root, codec: codec}, nil
}

// Root returns the cache directory.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) basename(key Key) string {
	return key.Revision + "_" + key.Benchmark
}

// Path returns the file that holds key.
func (s *FSStore) Path(key Key) string {
	return persist.Path(s.root, s.basename(key), s.codec)
}

// Has reports whether a file exists for key, whatever its content.
func (s *FSStore) Has(_ context.Context, key Key) (bool, error) {
	err := key.Validate()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("stat cache entry: %w", err)
}

// Write creates the file for entry's key atomically and only once.
func (s *FSStore) Write(_ context.Context, entry *Entry) error {
	key := entry.Key()

	err := key.Validate()
	if err != nil {
		return err
	}

	err = persist.CreateOnce(s.root, s.basename(key), s.codec, entry)
	if errors.Is(err, persist.ErrExists) {
		return exists(key)
	}

	return err
}

// Read decodes the entry for key. A file that exists but cannot be decoded
// is returned as a corrupt failure marker, since existence alone means the
// key was attempted.
func (s *FSStore) Read(_ context.Context, key Key) (*Entry, error) {
	err := key.Validate()
	if err != nil {
		return nil, err
	}

	var entry Entry

	err = persist.LoadState(s.root, s.basename(key), s.codec, &entry)
	if err == nil {
		return &entry, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	corrupt := Failed(key, Failure{Kind: FailureCorrupt, Message: err.Error()})

	info, statErr := os.Stat(s.Path(key))
	if statErr == nil {
		corrupt.RecordedAt = info.ModTime().UTC()
	}

	return corrupt, nil
}

// Clear removes the file for key.
func (s *FSStore) Clear(_ context.Context, key Key) error {
	err := key.Validate()
	if err != nil {
		return err
	}

	err = os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache entry: %w", err)
	}

	return nil
}

// List returns every key with a file in the root, sorted.
func (s *FSStore) List(_ context.Context) ([]Key, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list cache: %w", err)
	}

	ext := s.codec.Extension()

	var keys []Key

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}

		rev, benchmark, ok := strings.Cut(strings.TrimSuffix(name, ext), "_")
		if !ok || rev == "" || benchmark == "" {
			continue
		}

		keys = append(keys, Key{Revision: rev, Benchmark: benchmark})
	}

	slices.SortFunc(keys, compareKeys)

	return keys, nil
}

// Close is a no-op.
func (s *FSStore) Close() error {
	return nil
}

// DefaultRoot returns the cache root for a benchmark directory.
func DefaultRoot(benchDir string) string {
	return filepath.Join(benchDir, DefaultDirName)
}

func compareKeys(a, b Key) int {
	if c := strings.Compare(a.Revision, b.Revision); c != 0 {
		return c
	}

	return strings.Compare(a.Benchmark, b.Benchmark)
}
