package gitlib

import (
	"context"
	"fmt"
	"strings"
	"time"

	git2go "github.com/libgit2/git2go/v34"
)

// Signature is the committer identity and time of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a libgit2 commit tied to the repository that loaded it.
type Commit struct {
	commit *git2go.Commit
	repo   *Repository
}

// Hash returns the commit hash.
func (c *Commit) Hash() Hash {
	return HashFromOid(c.commit.Id())
}

// Tree returns the commit's root tree. The caller frees it.
func (c *Commit) Tree() (*Tree, error) {
	c.repo.mu.Lock()
	defer c.repo.mu.Unlock()

	tree, err := c.commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get commit tree: %w", err)
	}

	return &Tree{tree: tree, repo: c.repo}, nil
}

// Free releases the commit.
func (c *Commit) Free() {
	if c.commit != nil {
		c.commit.Free()
		c.commit = nil
	}
}

// CommitInfo is a detached copy of the commit fields a revision needs.
type CommitInfo struct {
	Hash      Hash
	Summary   string
	Message   string
	Committer Signature
}

func infoOf(c *git2go.Commit) CommitInfo {
	sig := c.Committer()
	msg := c.Message()
	summary, _, _ := strings.Cut(strings.TrimSpace(msg), "\n")

	return CommitInfo{
		Hash:      HashFromOid(c.Id()),
		Summary:   strings.TrimSpace(summary),
		Message:   msg,
		Committer: Signature{Name: sig.Name, Email: sig.Email, When: sig.When},
	}
}

// FirstParentWindow returns up to limit commits reachable from HEAD along
// the first-parent chain, newest first. A non-positive limit returns the
// whole chain.
func FirstParentWindow(ctx context.Context, r *Repository, limit int) ([]CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}
	defer walk.Free()

	err = walk.PushHead()
	if err != nil {
		return nil, fmt.Errorf("push HEAD to revwalk: %w", err)
	}

	walk.Sorting(git2go.SortTopological)
	walk.SimplifyFirstParent()

	var infos []CommitInfo

	oid := new(git2go.Oid)

	for limit <= 0 || len(infos) < limit {
		err = ctx.Err()
		if err != nil {
			return nil, err
		}

		err = walk.Next(oid)
		if git2go.IsErrorCode(err, git2go.ErrorCodeIterOver) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("revwalk next: %w", err)
		}

		commit, lookupErr := r.repo.LookupCommit(oid)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup commit %s: %w", oid, lookupErr)
		}

		infos = append(infos, infoOf(commit))
		commit.Free()
	}

	return infos, nil
}
