package gitlib

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ErrGitCommand is returned when the git binary exits with an error.
var ErrGitCommand = errors.New("git command failed")

// CLI runs the git binary against one repository. Worktree administration
// takes a lock under .git/worktrees, so mutating calls are serialized.
type CLI struct {
	// Binary is the git executable, "git" when empty.
	Binary string
	// Dir is the repository working directory.
	Dir string

	mu sync.Mutex
}

// NewCLI returns a CLI for the repository at dir.
func NewCLI(dir string) *CLI {
	return &CLI{Binary: "git", Dir: dir}
}

// Run executes git with args and returns trimmed stdout. Stderr is folded
// into the returned error.
func (g *CLI) Run(ctx context.Context, args ...string) (string, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = g.Dir

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("%w: git %s: %w: %s", ErrGitCommand, strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// ResolveCommit verifies that rev names a commit and returns its full hash.
func (g *CLI) ResolveCommit(ctx context.Context, rev string) (Hash, error) {
	out, err := g.Run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %s", ErrUnresolvable, rev)
	}

	return ParseHash(out)
}

// WorktreeAdd registers a detached worktree at dir checked out at rev.
func (g *CLI) WorktreeAdd(ctx context.Context, dir, rev string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.Run(ctx, "worktree", "add", "--detach", "--force", dir, rev)

	return err
}

// WorktreeRemove deregisters the worktree at dir and deletes its files.
func (g *CLI) WorktreeRemove(ctx context.Context, dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.Run(ctx, "worktree", "remove", "--force", "--force", dir)

	return err
}

// WorktreePrune drops registrations whose directories no longer exist.
func (g *CLI) WorktreePrune(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.Run(ctx, "worktree", "prune")

	return err
}

// Worktrees lists the paths of all registered worktrees, the main one included.
func (g *CLI) Worktrees(ctx context.Context) ([]string, error) {
	out, err := g.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string

	for line := range strings.SplitSeq(out, "\n") {
		path, ok := strings.CutPrefix(line, "worktree ")
		if ok {
			paths = append(paths, path)
		}
	}

	return paths, nil
}
