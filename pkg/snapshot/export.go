package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
)

// ExportProvider writes revision trees with libgit2. Nothing is registered
// with the repository, so release is a plain directory removal.
type ExportProvider struct {
	repo    *gitlib.Repository
	baseDir string
	logger  *slog.Logger
	leases  leases
}

// NewExportProvider returns a provider reading trees from repo.
func NewExportProvider(repo *gitlib.Repository, baseDir string, logger *slog.Logger) *ExportProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExportProvider{repo: repo, baseDir: baseDir, logger: logger}
}

// Acquire exports the tree of rev into a fresh directory.
func (p *ExportProvider) Acquire(ctx context.Context, rev revision.Revision) (*Snapshot, error) {
	if !p.leases.take(rev.ID) {
		return nil, busy(rev)
	}

	snap, err := p.acquire(ctx, rev)
	if err != nil {
		p.leases.drop(rev.ID)

		return nil, err
	}

	p.logger.Debug("snapshot exported", "revision", rev.ID, "dir", snap.Dir)

	return snap, nil
}

func (p *ExportProvider) acquire(ctx context.Context, rev revision.Revision) (*Snapshot, error) {
	hash, err := gitlib.ParseHash(rev.ID)
	if err != nil {
		hash, err = p.repo.Resolve(rev.ID)
		if err != nil {
			return nil, unresolvable(rev, err)
		}
	}

	commit, err := p.repo.LookupCommit(ctx, hash)
	if err != nil {
		return nil, unresolvable(rev, err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, classify(rev, "read tree", err)
	}
	defer tree.Free()

	root, dir, err := newRoot(p.baseDir, rev)
	if err != nil {
		return nil, err
	}

	exportErr := tree.Export(dir)
	if exportErr != nil {
		_ = os.RemoveAll(root)

		return nil, classify(rev, "export tree", exportErr)
	}

	return &Snapshot{Revision: rev, Dir: dir, root: root}, nil
}

// Release removes the snapshot directory.
func (p *ExportProvider) Release(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}

	defer p.leases.drop(snap.Revision.ID)

	if snap.root == "" {
		return nil
	}

	err := os.RemoveAll(snap.root)
	if err != nil {
		return fmt.Errorf("remove snapshot dir: %w", err)
	}

	return nil
}
