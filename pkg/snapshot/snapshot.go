// Package snapshot materializes isolated, disposable checkouts of a
// repository at a single revision.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
)

// Sentinel errors.
var (
	// ErrRevisionUnresolvable means the revision does not name a commit.
	ErrRevisionUnresolvable = errors.New("revision unresolvable")
	// ErrCheckoutFailed means the tree could not be materialized.
	ErrCheckoutFailed = errors.New("checkout failed")
	// ErrStorageExhausted means the filesystem ran out of space. It is fatal
	// for the whole run.
	ErrStorageExhausted = errors.New("storage exhausted")
	// ErrSnapshotBusy means a snapshot of the same revision is still live.
	ErrSnapshotBusy = errors.New("snapshot of revision already live")
)

const (
	// ModeWorktree registers a detached git worktree per snapshot.
	ModeWorktree = "worktree"
	// ModeExport writes the tree with libgit2 without registering anything.
	ModeExport = "export"

	dirPrefix = "benchtrail-"
	treeDir   = "tree"
)

// Error is a revision-scoped snapshot failure.
type Error struct {
	Revision string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("snapshot %s: %s: %v", e.Revision, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether err must stop the whole run.
func Fatal(err error) bool {
	return errors.Is(err, ErrStorageExhausted)
}

// Snapshot is a directory exclusively owned by one revision's processing.
type Snapshot struct {
	Revision revision.Revision
	// Dir holds the repository tree at Revision.
	Dir string

	root       string
	registered bool
}

// Provider creates and destroys snapshots.
type Provider interface {
	Acquire(ctx context.Context, rev revision.Revision) (*Snapshot, error)
	Release(ctx context.Context, snap *Snapshot) error
}

// Reconciler is implemented by providers that can clean registrations leaked
// by earlier, interrupted runs.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// leases enforces at most one live snapshot per revision.
type leases struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (l *leases) take(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		l.held = make(map[string]struct{})
	}

	if _, busy := l.held[id]; busy {
		return false
	}

	l.held[id] = struct{}{}

	return true
}

func (l *leases) drop(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, id)
}

// newRoot creates the private parent directory of a snapshot. The tree
// itself goes into a child that does not exist yet, which git worktree
// requires.
func newRoot(base string, rev revision.Revision) (root, dir string, err error) {
	if base != "" {
		mkErr := os.MkdirAll(base, 0o755)
		if mkErr != nil {
			return "", "", classify(rev, "create base dir", mkErr)
		}
	}

	root, err = os.MkdirTemp(base, dirPrefix+rev.Short()+"-")
	if err != nil {
		return "", "", classify(rev, "create temp dir", err)
	}

	return root, filepath.Join(root, treeDir), nil
}

func classify(rev revision.Revision, op string, err error) error {
	kind := ErrCheckoutFailed

	if isStorageExhausted(err) {
		kind = ErrStorageExhausted
	}

	return &Error{Revision: rev.ID, Op: op, Err: fmt.Errorf("%w: %w", kind, err)}
}

func isStorageExhausted(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "No space left on device") || strings.Contains(msg, "Disk quota exceeded")
}

func unresolvable(rev revision.Revision, err error) error {
	return &Error{Revision: rev.ID, Op: "resolve", Err: fmt.Errorf("%w: %w", ErrRevisionUnresolvable, err)}
}

func busy(rev revision.Revision) error {
	return &Error{Revision: rev.ID, Op: "lease", Err: ErrSnapshotBusy}
}

// ErrUnknownMode is returned for an unsupported snapshot mode.
var ErrUnknownMode = errors.New("unknown snapshot mode")

// New builds the provider for mode. repoDir is the repository working
// directory used by the git command line.
func New(mode string, repo *gitlib.Repository, repoDir, baseDir string, logger *slog.Logger) (Provider, error) {
	switch mode {
	case ModeWorktree, "":
		return NewWorktreeProvider(repoDir, baseDir, logger), nil
	case ModeExport:
		return NewExportProvider(repo, baseDir, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
