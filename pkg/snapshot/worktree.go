package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
)

// WorktreeProvider materializes snapshots as detached git worktrees.
type WorktreeProvider struct {
	git     *gitlib.CLI
	baseDir string
	logger  *slog.Logger
	leases  leases
}

// NewWorktreeProvider returns a provider for the repository at repoDir.
// Snapshots are created under baseDir, or the OS temp dir when empty.
func NewWorktreeProvider(repoDir, baseDir string, logger *slog.Logger) *WorktreeProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &WorktreeProvider{
		git:     gitlib.NewCLI(repoDir),
		baseDir: baseDir,
		logger:  logger,
	}
}

// Acquire checks out rev into a fresh directory registered as a worktree.
func (p *WorktreeProvider) Acquire(ctx context.Context, rev revision.Revision) (*Snapshot, error) {
	if !p.leases.take(rev.ID) {
		return nil, busy(rev)
	}

	hash, err := p.git.ResolveCommit(ctx, rev.ID)
	if err != nil {
		p.leases.drop(rev.ID)

		return nil, unresolvable(rev, err)
	}

	root, dir, err := newRoot(p.baseDir, rev)
	if err != nil {
		p.leases.drop(rev.ID)

		return nil, err
	}

	snap := &Snapshot{Revision: rev, Dir: dir, root: root}

	addErr := p.git.WorktreeAdd(ctx, dir, hash.String())
	if addErr != nil {
		// git may have registered the path before failing.
		snap.registered = true

		releaseErr := p.Release(ctx, snap)
		if releaseErr != nil {
			p.logger.Warn("cleanup after failed worktree add", "revision", rev.ID, "error", releaseErr)
		}

		return nil, classify(rev, "worktree add", addErr)
	}

	snap.registered = true

	p.logger.Debug("snapshot acquired", "revision", rev.ID, "dir", dir)

	return snap, nil
}

// Release deregisters the worktree, removes its files and prunes stale
// registrations. It tolerates nil and partially acquired snapshots.
func (p *WorktreeProvider) Release(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}

	ctx = context.WithoutCancel(ctx)

	defer p.leases.drop(snap.Revision.ID)

	var errs []error

	if snap.registered {
		rmErr := p.git.WorktreeRemove(ctx, snap.Dir)
		if rmErr != nil {
			p.logger.Debug("worktree remove", "revision", snap.Revision.ID, "error", rmErr)
		}

		snap.registered = false
	}

	if snap.root != "" {
		rmErr := os.RemoveAll(snap.root)
		if rmErr != nil {
			errs = append(errs, fmt.Errorf("remove snapshot dir: %w", rmErr))
		}
	}

	pruneErr := p.git.WorktreePrune(ctx)
	if pruneErr != nil {
		p.logger.Warn("worktree prune", "error", pruneErr)
	}

	return errors.Join(errs...)
}

// Reconcile removes worktrees left under the snapshot base dir by earlier
// runs that were killed before release, then prunes.
func (p *WorktreeProvider) Reconcile(ctx context.Context) error {
	paths, err := p.git.Worktrees(ctx)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}

	base := p.baseDir
	if base == "" {
		base = os.TempDir()
	}

	base, _ = filepath.EvalSymlinks(base)

	for _, path := range paths {
		if !isStaleSnapshot(base, path) {
			continue
		}

		p.logger.Info("removing stale snapshot", "dir", path)

		rmErr := p.git.WorktreeRemove(ctx, path)
		if rmErr != nil {
			p.logger.Warn("remove stale worktree", "dir", path, "error", rmErr)
		}

		_ = os.RemoveAll(filepath.Dir(path))
	}

	return p.git.WorktreePrune(ctx)
}

func isStaleSnapshot(base, path string) bool {
	if filepath.Base(path) != treeDir {
		return false
	}

	parent := filepath.Dir(path)
	resolved, err := filepath.EvalSymlinks(parent)
	if err == nil {
		parent = resolved
	}

	return filepath.Dir(parent) == base && strings.HasPrefix(filepath.Base(parent), dirPrefix)
}
