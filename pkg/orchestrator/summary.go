package orchestrator

import (
	"sync"
	"time"

	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
)

// RevisionError pairs a revision with a non-fatal error.
type RevisionError struct {
	Revision revision.Revision `json:"revision"`
	Error    string            `json:"error"`
}

// Anomaly is a rejected duplicate write.
type Anomaly struct {
	Key   resultcache.Key `json:"key"`
	Error string          `json:"error"`
}

// Counts tallies keys by how they were resolved in a run.
type Counts struct {
	// Succeeded and Failed count executed benchmarks.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Cached keys were present before the run touched them.
	Cached int `json:"cached"`
	// Reconciled keys were filled with a no-result marker.
	Reconciled int `json:"reconciled"`
}

// Executed returns Succeeded + Failed.
func (c Counts) Executed() int {
	return c.Succeeded + c.Failed
}

// Summary describes a finished run.
type Summary struct {
	RunID      string              `json:"run_id"`
	Started    time.Time           `json:"started"`
	Finished   time.Time           `json:"finished"`
	Revisions  []revision.Revision `json:"revisions"`
	Benchmarks []string            `json:"benchmarks"`
	// Unknown lists requested benchmark names that were not discovered.
	Unknown []string `json:"unknown,omitempty"`
	Counts  Counts   `json:"counts"`
	// Skipped lists revisions that were fully cached.
	Skipped       []string        `json:"skipped,omitempty"`
	Unprocessable []RevisionError `json:"unprocessable,omitempty"`
	Degraded      []RevisionError `json:"degraded,omitempty"`
	Anomalies     []Anomaly       `json:"anomalies,omitempty"`
	// Cleared is the number of entries removed before the run.
	Cleared int               `json:"cleared,omitempty"`
	Missing []resultcache.Key `json:"missing,omitempty"`
	Result  *series.RunResult `json:"-"`
}

// recorder guards a Summary shared by concurrent revision workers.
type recorder struct {
	mu sync.Mutex
	s  *Summary
}

func (r *recorder) update(fn func(s *Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(r.s)
}
