// Package workspace opens a repository together with its benchmark
// directory, configuration and result store for read-side commands.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/config"
	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
)

// Workspace is an opened repository. Close releases it.
type Workspace struct {
	RepoDir string
	Config  *config.Config
	Repo    *gitlib.Repository
	Store   resultcache.Store
}

// Open loads the configuration for repoPath and opens the workspace.
func Open(ctx context.Context, repoPath, configPath string) (*Workspace, error) {
	abs, err := localPath(repoPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configPath, abs)
	if err != nil {
		return nil, err
	}

	return OpenWith(ctx, abs, cfg)
}

// OpenWith opens the workspace with an already loaded configuration.
func OpenWith(ctx context.Context, repoPath string, cfg *config.Config) (*Workspace, error) {
	abs, err := localPath(repoPath)
	if err != nil {
		return nil, err
	}

	repo, err := gitlib.LoadRepository(abs)
	if err != nil {
		return nil, orchestrator.InvalidRepository(abs, err)
	}

	store, err := resultcache.Open(ctx, cfg.StoreOptions(abs))
	if err != nil {
		repo.Free()

		return nil, fmt.Errorf("open result store: %w", err)
	}

	return &Workspace{RepoDir: abs, Config: cfg, Repo: repo, Store: store}, nil
}

func localPath(repoPath string) (string, error) {
	if gitlib.IsRemote(repoPath) {
		return "", orchestrator.InvalidRepository(repoPath, gitlib.ErrRemoteNotSupported)
	}

	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolve repository path: %w", err)
	}

	return abs, nil
}

// Close releases the store and the repository.
func (w *Workspace) Close() error {
	err := w.Store.Close()

	w.Repo.Free()

	return err
}

// BenchDir is the live benchmark directory.
func (w *Workspace) BenchDir() string {
	return w.Config.BenchDir(w.RepoDir)
}

// CacheDir is the fs cache root.
func (w *Workspace) CacheDir() string {
	return w.Config.CacheDir(w.RepoDir)
}

// Revisions returns the first-parent revision source.
func (w *Workspace) Revisions() revision.Source {
	return revision.NewGitSource(w.Repo)
}

// Benchmarks discovers the live benchmarks, skipping the cache root.
func (w *Workspace) Benchmarks() ([]bench.Benchmark, error) {
	benchDir := w.BenchDir()

	var skip []string

	cacheDir := w.CacheDir()
	if filepath.Clean(filepath.Dir(cacheDir)) == filepath.Clean(benchDir) {
		skip = append(skip, filepath.Base(cacheDir))
	}

	all, err := bench.Discover(benchDir, skip...)
	if err != nil {
		return nil, fmt.Errorf("discover benchmarks: %w", err)
	}

	return all, nil
}

// Series assembles the cached series of the last count revisions without
// running anything. Requested names that were not discovered are returned as
// unknown and left out.
func (w *Workspace) Series(ctx context.Context, count int, names []string) (*series.RunResult, []string, error) {
	if count <= 0 {
		return nil, nil, fmt.Errorf("%w: %d", orchestrator.ErrInvalidCount, count)
	}

	all, err := w.Benchmarks()
	if err != nil {
		return nil, nil, err
	}

	selected, unknown := bench.Select(all, names)
	if len(selected) == 0 {
		return nil, unknown, orchestrator.ErrEmptySelection
	}

	revs, err := w.Revisions().Window(ctx, count)
	if err != nil {
		return nil, unknown, fmt.Errorf("walk history: %w", err)
	}

	result, err := series.Assemble(ctx, w.Store, revs, bench.Names(selected))
	if err != nil {
		return nil, unknown, err
	}

	return result, unknown, nil
}

// Entries reads every cached entry. Unreadable entries are skipped and
// counted.
func (w *Workspace) Entries(ctx context.Context) ([]*resultcache.Entry, int, error) {
	keys, err := w.Store.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list cache: %w", err)
	}

	entries := make([]*resultcache.Entry, 0, len(keys))
	unreadable := 0

	for _, key := range keys {
		entry, readErr := w.Store.Read(ctx, key)
		if errors.Is(readErr, context.Canceled) {
			return nil, 0, readErr
		}

		if readErr != nil {
			unreadable++

			continue
		}

		entries = append(entries, entry)
	}

	return entries, unreadable, nil
}

// Status summarizes the cache contents.
type Status struct {
	Backend    string `json:"backend"`
	Entries    int    `json:"entries"`
	OK         int    `json:"ok"`
	Failed     int    `json:"failed"`
	Unreadable int    `json:"unreadable"`
	Revisions  int    `json:"revisions"`
	Benchmarks int    `json:"benchmarks"`
}

// Status counts cached entries by status.
func (w *Workspace) Status(ctx context.Context) (*Status, error) {
	entries, unreadable, err := w.Entries(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{Backend: w.Config.Cache.Backend, Entries: len(entries), Unreadable: unreadable}
	revs := map[string]bool{}
	benches := map[string]bool{}

	for _, entry := range entries {
		if entry.OK() {
			st.OK++
		} else {
			st.Failed++
		}

		revs[entry.Revision] = true
		benches[entry.Benchmark] = true
	}

	st.Revisions = len(revs)
	st.Benchmarks = len(benches)

	return st, nil
}
