// Package series assembles cached outcomes into oldest-first series, one per
// benchmark, with explicit gaps for failures and missing entries.
package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
)

// State of one point.
type State string

// Point states.
const (
	StateValue   State = "value"
	StateFailed  State = "failed"
	StateMissing State = "missing"
)

// Point is one benchmark outcome at one revision.
type Point struct {
	State State                `json:"state"           yaml:"state"`
	Value json.RawMessage      `json:"value,omitempty" yaml:"-"`
	Error *resultcache.Failure `json:"error,omitempty" yaml:"error,omitempty"`
}

// Gap reports whether the point has no value.
func (p Point) Gap() bool {
	return p.State != StateValue
}

// RunResult holds series aligned with Revisions.
type RunResult struct {
	// Revisions are oldest first.
	Revisions  []revision.Revision `json:"revisions"  yaml:"revisions"`
	Benchmarks []string            `json:"benchmarks" yaml:"benchmarks"`
	// Series maps a benchmark to one point per revision.
	Series map[string][]Point `json:"series" yaml:"series"`
	// Missing lists keys with no entry at all.
	Missing []resultcache.Key `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Reader is the read side of a result store.
type Reader interface {
	Read(ctx context.Context, key resultcache.Key) (*resultcache.Entry, error)
}

// Assemble reads every (revision, benchmark) key. revisions are newest
// first, as walked; the result is oldest first. It never writes.
func Assemble(ctx context.Context, store Reader, revisions []revision.Revision, benchmarks []string) (*RunResult, error) {
	ordered := revision.OldestFirst(revisions)

	result := &RunResult{
		Revisions:  ordered,
		Benchmarks: append([]string(nil), benchmarks...),
		Series:     make(map[string][]Point, len(benchmarks)),
	}

	for _, name := range benchmarks {
		points := make([]Point, 0, len(ordered))

		for _, rev := range ordered {
			key := resultcache.Key{Revision: rev.ID, Benchmark: name}

			point, err := read(ctx, store, key)
			if err != nil {
				return nil, err
			}

			if point.State == StateMissing {
				result.Missing = append(result.Missing, key)
			}

			points = append(points, point)
		}

		result.Series[name] = points
	}

	return result, nil
}

func read(ctx context.Context, store Reader, key resultcache.Key) (Point, error) {
	entry, err := store.Read(ctx, key)
	if errors.Is(err, resultcache.ErrNotFound) {
		return Point{State: StateMissing}, nil
	}

	if err != nil {
		return Point{}, fmt.Errorf("assemble %s: %w", key, err)
	}

	if entry.OK() {
		return Point{State: StateValue, Value: entry.Result}, nil
	}

	return Point{State: StateFailed, Error: entry.Failure}, nil
}

// Labels returns one chart label per revision.
func (r *RunResult) Labels() []string {
	labels := make([]string, len(r.Revisions))
	for i, rev := range r.Revisions {
		labels[i] = rev.Label()
	}

	return labels
}

// Counts returns how many points of the benchmark are in each state.
func (r *RunResult) Counts(benchmark string) map[State]int {
	counts := map[State]int{}
	for _, p := range r.Series[benchmark] {
		counts[p.State]++
	}

	return counts
}
