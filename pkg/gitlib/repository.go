package gitlib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	git2go "github.com/libgit2/git2go/v34"
)

var (
	// ErrUnresolvable is returned when a revision spec does not name a commit.
	ErrUnresolvable = errors.New("revision does not resolve to a commit")
	// ErrRemoteNotSupported is returned for URLs and scp-like remotes.
	ErrRemoteNotSupported = errors.New("remote repositories not supported")
	// ErrEmptyPath is returned when no repository path is provided.
	ErrEmptyPath = errors.New("empty repository path")
)

var scpLikeRemote = regexp.MustCompile(`^[A-Za-z]\w*@[A-Za-z0-9][\w.]*:`)

// Repository is a libgit2 handle. A handle must not be used from several
// threads at once, so every call holds mu.
type Repository struct {
	mu   sync.Mutex
	repo *git2go.Repository
	path string
}

// OpenRepository opens the repository at path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// LoadRepository opens a local repository given by a user. Remote URIs are
// rejected before libgit2 sees them.
func LoadRepository(uri string) (*Repository, error) {
	if uri == "" {
		return nil, ErrEmptyPath
	}

	if IsRemote(uri) {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotSupported, uri)
	}

	uri = strings.TrimSuffix(uri, string(os.PathSeparator))

	repository, err := OpenRepository(uri)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}

	return repository, nil
}

// IsRemote reports whether uri is a URL or an scp-like remote.
func IsRemote(uri string) bool {
	return strings.Contains(uri, "://") || scpLikeRemote.MatchString(uri)
}

// Path returns the path the repository was opened with.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the handle. Later calls on r are invalid.
func (r *Repository) Free() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Head returns the commit HEAD points at.
func (r *Repository) Head() (Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// LookupCommit returns the commit with the given hash. The caller frees it.
func (r *Repository) LookupCommit(_ context.Context, hash Hash) (*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit %s: %w", hash, err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// Resolve peels a revision spec (hash, branch, tag, HEAD~2) to a commit hash.
func (r *Repository) Resolve(spec string) (Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, err := r.repo.RevparseSingle(spec)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %s: %w", ErrUnresolvable, spec, err)
	}
	defer obj.Free()

	peeled, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %s: %w", ErrUnresolvable, spec, err)
	}
	defer peeled.Free()

	return HashFromOid(peeled.Id()), nil
}
