// Package revision selects the window of commits a run measures.
package revision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib"
)

// ErrEmptyHistory is returned when HEAD has no reachable commits.
var ErrEmptyHistory = errors.New("repository has no commits")

const labelSummaryMax = 48

// Revision is one immutable point in the first-parent history.
type Revision struct {
	ID      string    `json:"id"      yaml:"id"`
	Summary string    `json:"summary" yaml:"summary"`
	When    time.Time `json:"when"    yaml:"when"`
}

// Short returns the abbreviated id.
func (r Revision) Short() string {
	if len(r.ID) <= gitlib.ShortHashSize {
		return r.ID
	}

	return r.ID[:gitlib.ShortHashSize]
}

// Label renders "summary (sha7)" for chart axes and tables.
func (r Revision) Label() string {
	summary := r.Summary
	if len(summary) > labelSummaryMax {
		summary = summary[:labelSummaryMax-3] + "..."
	}

	return fmt.Sprintf("%s (%s)", summary, r.Short())
}

// Source lists revisions newest first.
type Source interface {
	Window(ctx context.Context, count int) ([]Revision, error)
}

// GitSource walks a repository's first-parent chain from HEAD.
type GitSource struct {
	repo *gitlib.Repository
}

// NewGitSource returns a Source over repo.
func NewGitSource(repo *gitlib.Repository) *GitSource {
	return &GitSource{repo: repo}
}

// Window returns up to count revisions from HEAD, newest first.
func (s *GitSource) Window(ctx context.Context, count int) ([]Revision, error) {
	infos, err := gitlib.FirstParentWindow(ctx, s.repo, count)
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}

	if len(infos) == 0 {
		return nil, ErrEmptyHistory
	}

	revs := make([]Revision, 0, len(infos))

	for _, info := range infos {
		revs = append(revs, Revision{
			ID:      info.Hash.String(),
			Summary: info.Summary,
			When:    info.Committer.When,
		})
	}

	return revs, nil
}

// Static is a fixed, newest-first list of revisions.
type Static []Revision

// Window returns the first count revisions.
func (s Static) Window(_ context.Context, count int) ([]Revision, error) {
	if len(s) == 0 {
		return nil, ErrEmptyHistory
	}

	if count <= 0 || count > len(s) {
		count = len(s)
	}

	out := make([]Revision, count)
	copy(out, s[:count])

	return out, nil
}

// OldestFirst returns a reversed copy of newest-first revisions.
func OldestFirst(revs []Revision) []Revision {
	out := make([]Revision, len(revs))

	for i, rev := range revs {
		out[len(revs)-1-i] = rev
	}

	return out
}
