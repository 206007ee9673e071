package orchestrator

import (
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runner"
)

// State of one revision.
type State string

// Revision states, in order.
const (
	StatePending       State = "pending"
	StateSnapshotReady State = "snapshot-ready"
	StateProvisioning  State = "provisioning"
	StateRunning       State = "running"
	StateCollected     State = "collected"
	StateTornDown      State = "torn-down"
)

// EventKind classifies progress events.
type EventKind string

// Progress events.
const (
	EventUnknownBenchmark  EventKind = "unknown-benchmark"
	EventRevisionStarted   EventKind = "revision-started"
	EventRevisionSkipped   EventKind = "revision-skipped"
	EventUnprocessable     EventKind = "unprocessable"
	EventProvisionFailed   EventKind = "provision-failed"
	EventBenchmarkCached   EventKind = "benchmark-cached"
	EventBenchmarkStarted  EventKind = "benchmark-started"
	EventBenchmarkFinished EventKind = "benchmark-finished"
	EventAnomaly           EventKind = "anomaly"
	EventReconciled        EventKind = "reconciled"
)

// Event is one progress notification. Fields not relevant to the kind are
// zero.
type Event struct {
	Kind      EventKind
	Revision  revision.Revision
	Benchmark string
	// Index is the 1-based position of Revision in the window of Total.
	Index   int
	Total   int
	Outcome *runner.Outcome
	Err     error
}

// Reporter receives progress as it happens. With more than one job calls
// arrive from several goroutines.
type Reporter interface {
	Transition(rev revision.Revision, from, to State)
	Event(ev Event)
}

// NopReporter discards progress.
type NopReporter struct{}

// Transition implements Reporter.
func (NopReporter) Transition(revision.Revision, State, State) {}

// Event implements Reporter.
func (NopReporter) Event(Event) {}
