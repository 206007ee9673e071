// Package gitlibtest builds throwaway git repositories for tests.
package gitlibtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git2go "github.com/libgit2/git2go/v34"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib"
)

// Repo is a non-bare repository in a test temp dir.
type Repo struct {
	t      *testing.T
	Path   string
	native *git2go.Repository
	clock  time.Time
}

// New initializes an empty repository that is freed when the test ends.
func New(t *testing.T) *Repo {
	t.Helper()

	dir := t.TempDir()

	repo, err := git2go.InitRepository(dir, false)
	require.NoError(t, err)

	t.Cleanup(repo.Free)

	return &Repo{
		t:      t,
		Path:   dir,
		native: repo,
		clock:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// WriteFile creates or replaces a file in the working directory.
func (r *Repo) WriteFile(name, content string) {
	r.t.Helper()

	path := filepath.Join(r.Path, name)

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	require.NoError(r.t, err)

	err = os.WriteFile(path, []byte(content), 0o644)
	require.NoError(r.t, err)
}

// WriteExecutable creates a file with the executable bit set.
func (r *Repo) WriteExecutable(name, content string) {
	r.t.Helper()

	r.WriteFile(name, content)

	err := os.Chmod(filepath.Join(r.Path, name), 0o755)
	require.NoError(r.t, err)
}

// Commit stages all files and commits them on HEAD. Commit times advance by
// one minute per call so ordering is deterministic.
func (r *Repo) Commit(message string) gitlib.Hash {
	r.t.Helper()

	index, err := r.native.Index()
	require.NoError(r.t, err)

	defer index.Free()

	err = index.AddAll([]string{"*"}, git2go.IndexAddDefault, nil)
	require.NoError(r.t, err)

	err = index.Write()
	require.NoError(r.t, err)

	treeID, err := index.WriteTree()
	require.NoError(r.t, err)

	tree, err := r.native.LookupTree(treeID)
	require.NoError(r.t, err)

	defer tree.Free()

	r.clock = r.clock.Add(time.Minute)

	sig := &git2go.Signature{
		Name:  "Test User",
		Email: "test@example.com",
		When:  r.clock,
	}

	var parents []*git2go.Commit

	head, err := r.native.Head()
	if err == nil {
		headCommit, lookupErr := r.native.LookupCommit(head.Target())
		require.NoError(r.t, lookupErr)

		parents = append(parents, headCommit)

		head.Free()
	}

	oid, err := r.native.CreateCommit("HEAD", sig, sig, message, tree, parents...)
	require.NoError(r.t, err)

	for _, parent := range parents {
		parent.Free()
	}

	return gitlib.HashFromOid(oid)
}

// Open opens the fixture through gitlib.
func (r *Repo) Open() *gitlib.Repository {
	r.t.Helper()

	repo, err := gitlib.OpenRepository(r.Path)
	require.NoError(r.t, err)

	r.t.Cleanup(repo.Free)

	return repo
}
