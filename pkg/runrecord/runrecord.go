// Package runrecord keeps a manifest per orchestrated run so past runs can
// be listed and compared without reading the result cache.
package runrecord

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/persist"
)

// FormatVersion is the current record format version.
const FormatVersion = 1

// Retention defaults.
const (
	DefaultMaxAge   = 90 * 24 * time.Hour
	DefaultMaxCount = 200
)

const (
	dirPerm    = 0o750
	nameLayout = "20060102T150405.000000Z"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("run record not found")
	ErrNoRunID  = errors.New("run record without run id")
)

// DefaultDir returns ~/.benchtrail/runs.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".benchtrail", "runs")
}

// RepoHash is a short stable directory name for a repository path.
func RepoHash(repoPath string) string {
	abs, err := filepath.Abs(repoPath)
	if err == nil {
		repoPath = abs
	}

	sum := sha256.Sum256([]byte(repoPath))

	return hex.EncodeToString(sum[:8])
}

// Request mirrors the orchestrator request of a run.
type Request struct {
	Count      int      `json:"count"`
	Benchmarks []string `json:"benchmarks,omitempty"`
	ClearCache bool     `json:"clear_cache,omitempty"`
	Provision  bool     `json:"provision,omitempty"`
}

// Record is the manifest of one run.
type Record struct {
	Version    int                 `json:"version"`
	RunID      string              `json:"run_id"`
	RepoPath   string              `json:"repo_path"`
	Started    time.Time           `json:"started"`
	Finished   time.Time           `json:"finished"`
	Request    Request             `json:"request"`
	Revisions  []string            `json:"revisions"`
	Benchmarks []string            `json:"benchmarks"`
	Counts     orchestrator.Counts `json:"counts"`

	Unprocessable int `json:"unprocessable,omitempty"`
	Degraded      int `json:"degraded,omitempty"`
	Anomalies     int `json:"anomalies,omitempty"`
	Missing       int `json:"missing,omitempty"`
	Cleared       int `json:"cleared,omitempty"`

	// Error is set when the run stopped early.
	Error string `json:"error,omitempty"`
}

// Duration is how long the run took.
func (r *Record) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}

	return r.Finished.Sub(r.Started)
}

// FromSummary builds the record of a run. summary may be partial when runErr
// is set.
func FromSummary(repoPath string, req orchestrator.Request, summary *orchestrator.Summary, runErr error) *Record {
	rec := &Record{
		Version:  FormatVersion,
		RepoPath: repoPath,
		Request: Request{
			Count:      req.Count,
			Benchmarks: req.Benchmarks,
			ClearCache: req.ClearCache,
			Provision:  req.Provision,
		},
	}

	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if summary == nil {
		return rec
	}

	rec.RunID = summary.RunID
	rec.Started = summary.Started
	rec.Finished = summary.Finished
	rec.Benchmarks = summary.Benchmarks
	rec.Counts = summary.Counts
	rec.Unprocessable = len(summary.Unprocessable)
	rec.Degraded = len(summary.Degraded)
	rec.Anomalies = len(summary.Anomalies)
	rec.Missing = len(summary.Missing)
	rec.Cleared = summary.Cleared

	for _, rev := range summary.Revisions {
		rec.Revisions = append(rec.Revisions, rev.ID)
	}

	return rec
}

// Manager stores the records of one repository.
type Manager struct {
	BaseDir  string
	RepoHash string
	MaxAge   time.Duration
	MaxCount int

	persister *persist.Persister[Record]
}

// NewManager returns a Manager for repoPath under baseDir.
func NewManager(baseDir, repoPath string) *Manager {
	return &Manager{
		BaseDir:   baseDir,
		RepoHash:  RepoHash(repoPath),
		MaxAge:    DefaultMaxAge,
		MaxCount:  DefaultMaxCount,
		persister: persist.NewPersister[Record](persist.NewJSONCodec()),
	}
}

// Dir is the directory holding this repository's records.
func (m *Manager) Dir() string {
	return filepath.Join(m.BaseDir, m.RepoHash)
}

func basename(rec *Record) string {
	return rec.Started.UTC().Format(nameLayout) + "-" + rec.RunID
}

// Save writes rec. Records sort by start time on disk.
func (m *Manager) Save(rec *Record) error {
	if rec.RunID == "" {
		return ErrNoRunID
	}

	err := os.MkdirAll(m.Dir(), dirPerm)
	if err != nil {
		return fmt.Errorf("create run record dir: %w", err)
	}

	err = m.persister.Save(m.Dir(), basename(rec), rec)
	if err != nil {
		return fmt.Errorf("save run record %s: %w", rec.RunID, err)
	}

	return nil
}

// List returns the readable records, newest first. Unreadable files are
// skipped and reported in the second return value.
func (m *Manager) List() ([]*Record, []string, error) {
	names, err := m.names()
	if err != nil {
		return nil, nil, err
	}

	var (
		records    []*Record
		unreadable []string
	)

	for _, name := range names {
		rec, loadErr := m.persister.Load(m.Dir(), name)
		if loadErr != nil {
			unreadable = append(unreadable, name)

			continue
		}

		records = append(records, rec)
	}

	return records, unreadable, nil
}

// Get returns the record whose run id starts with prefix.
func (m *Manager) Get(prefix string) (*Record, error) {
	records, _, err := m.List()
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if prefix != "" && strings.HasPrefix(rec.RunID, prefix) {
			return rec, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
}

// Prune removes records older than MaxAge and the oldest beyond MaxCount.
// It returns how many were removed.
func (m *Manager) Prune(now time.Time) (int, error) {
	names, err := m.names()
	if err != nil {
		return 0, err
	}

	removed := 0

	for i, name := range names {
		stamp, _, _ := strings.Cut(name, "-")
		started, parseErr := time.Parse(nameLayout, stamp)

		expired := parseErr == nil && m.MaxAge > 0 && now.Sub(started) > m.MaxAge
		overflow := m.MaxCount > 0 && i >= m.MaxCount

		if !expired && !overflow {
			continue
		}

		rmErr := os.Remove(filepath.Join(m.Dir(), name+m.persister.Extension()))
		if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return removed, fmt.Errorf("prune run record: %w", rmErr)
		}

		removed++
	}

	return removed, nil
}

// Clear removes every record of the repository.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.Dir())
	if err != nil {
		return fmt.Errorf("remove run record dir: %w", err)
	}

	return nil
}

// names returns record basenames, newest first.
func (m *Manager) names() ([]string, error) {
	entries, err := os.ReadDir(m.Dir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read run record dir: %w", err)
	}

	ext := m.persister.Extension()

	var names []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}

		names = append(names, strings.TrimSuffix(name, ext))
	}

	slices.Sort(names)
	slices.Reverse(names)

	return names, nil
}
