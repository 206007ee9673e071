package gitlib

import (
	"fmt"
	"os"

	git2go "github.com/libgit2/git2go/v34"
)

const exportDirMode = 0o755

// Tree wraps a libgit2 tree.
type Tree struct {
	tree *git2go.Tree
	repo *Repository
}

// Hash returns the tree hash.
func (t *Tree) Hash() Hash {
	return HashFromOid(t.tree.Id())
}

// Export writes every file of the tree into dir, which must be empty or
// absent. The repository index and working tree are left untouched.
func (t *Tree) Export(dir string) error {
	err := os.MkdirAll(dir, exportDirMode)
	if err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	opts := &git2go.CheckoutOptions{
		Strategy:        git2go.CheckoutForce | git2go.CheckoutDontUpdateIndex,
		TargetDirectory: dir,
	}

	err = t.repo.repo.CheckoutTree(t.tree, opts)
	if err != nil {
		return fmt.Errorf("checkout tree %s into %s: %w", t.Hash(), dir, err)
	}

	return nil
}

// Free releases the tree resources.
func (t *Tree) Free() {
	if t.tree != nil {
		t.tree.Free()
		t.tree = nil
	}
}
