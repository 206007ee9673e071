package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runner"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

var (
	r1 = revision.Revision{ID: "1111111111111111111111111111111111111111", Summary: "r1", When: time.Unix(100, 0)}
	r2 = revision.Revision{ID: "2222222222222222222222222222222222222222", Summary: "r2", When: time.Unix(200, 0)}
	r3 = revision.Revision{ID: "3333333333333333333333333333333333333333", Summary: "r3", When: time.Unix(300, 0)}
)

// history is newest first.
var history = revision.Static{r3, r2, r1}

// fakeProvider materializes a directory holding the revision id.
type fakeProvider struct {
	base string

	mu       sync.Mutex
	live     map[string]string
	maxLive  int
	acquired int
	released int
	fail     map[string]error
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	return &fakeProvider{base: t.TempDir(), live: map[string]string{}, fail: map[string]error{}}
}

func (p *fakeProvider) Acquire(_ context.Context, rev revision.Revision) (*snapshot.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.fail[rev.ID]; ok {
		return nil, &snapshot.Error{Revision: rev.ID, Op: "checkout", Err: err}
	}

	if _, busy := p.live[rev.ID]; busy {
		return nil, &snapshot.Error{Revision: rev.ID, Op: "acquire", Err: snapshot.ErrSnapshotBusy}
	}

	dir, err := os.MkdirTemp(p.base, "snap-")
	if err != nil {
		return nil, err
	}

	err = os.WriteFile(filepath.Join(dir, "VERSION"), []byte(rev.ID), 0o600)
	if err != nil {
		return nil, err
	}

	p.acquired++
	p.live[rev.ID] = dir
	p.maxLive = max(p.maxLive, len(p.live))

	return &snapshot.Snapshot{Revision: rev, Dir: dir}, nil
}

func (p *fakeProvider) Release(_ context.Context, snap *snapshot.Snapshot) error {
	if snap == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.released++
	delete(p.live, snap.Revision.ID)

	return os.RemoveAll(snap.Dir)
}

func (p *fakeProvider) counts() (acquired, released, live int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.acquired, p.released, len(p.live)
}

// countingRunner records calls and answers with outcome, or a result
// naming the key by default.
type countingRunner struct {
	mu      sync.Mutex
	calls   []resultcache.Key
	outcome func(ctx context.Context, b bench.Benchmark, snap *snapshot.Snapshot, env *provision.Environment) runner.Outcome
}

func (r *countingRunner) Run(ctx context.Context, b bench.Benchmark, snap *snapshot.Snapshot, env *provision.Environment) runner.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, resultcache.Key{Revision: snap.Revision.ID, Benchmark: b.Name})
	r.mu.Unlock()

	version, err := os.ReadFile(filepath.Join(snap.Dir, "VERSION"))
	if err != nil || string(version) != snap.Revision.ID {
		return runner.Outcome{Status: runner.StatusFailed, Failure: &runner.ExecutionError{
			Kind: runner.KindStart, Err: fmt.Errorf("snapshot not isolated: %q %w", version, err),
		}}
	}

	if r.outcome != nil {
		return r.outcome(ctx, b, snap, env)
	}

	return okOutcome(snap.Revision.ID, b.Name)
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.calls)
}

func okOutcome(rev, name string) runner.Outcome {
	payload, _ := json.Marshal(map[string]string{"revision": rev, "benchmark": name})

	return runner.Outcome{Status: runner.StatusOK, Result: payload, Duration: time.Millisecond}
}

func failOutcome(kind runner.Kind) runner.Outcome {
	return runner.Outcome{Status: runner.StatusFailed, Failure: &runner.ExecutionError{Kind: kind, ExitCode: 1}}
}

// harness is a repository-free setup: a live benchmark dir with speed and
// accuracy, an fs store in its cache root, a fake provider and a counting
// runner.
type harness struct {
	t        *testing.T
	benchDir string
	store    *resultcache.FSStore
	provider *fakeProvider
	runner   *countingRunner
	reporter *recordingReporter
	opts     orchestrator.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	benchDir := filepath.Join(t.TempDir(), "benchmarks")
	require.NoError(t, os.MkdirAll(benchDir, 0o755))

	for _, name := range []string{"speed", "accuracy"} {
		require.NoError(t, os.WriteFile(filepath.Join(benchDir, name+".py"),
			[]byte("def run():\n    return 1\n"), 0o600))
	}

	cacheDir := resultcache.DefaultRoot(benchDir)

	store, err := resultcache.NewFSStore(cacheDir, "json")
	require.NoError(t, err)

	h := &harness{
		t:        t,
		benchDir: benchDir,
		store:    store,
		provider: newFakeProvider(t),
		runner:   &countingRunner{},
		reporter: &recordingReporter{},
	}

	h.opts = orchestrator.Options{
		Revisions:   history,
		Snapshots:   h.provider,
		Runner:      h.runner,
		Store:       store,
		BenchDir:    benchDir,
		BenchSource: bench.SourceRevision,
		CacheDir:    cacheDir,
		Reporter:    h.reporter,
	}

	return h
}

func (h *harness) run(req orchestrator.Request) (*orchestrator.Summary, error) {
	h.t.Helper()

	o, err := orchestrator.New(h.opts)
	require.NoError(h.t, err)

	return o.Run(context.Background(), req)
}

func (h *harness) entries() []resultcache.Key {
	h.t.Helper()

	keys, err := h.store.List(context.Background())
	require.NoError(h.t, err)

	return keys
}

func (h *harness) read(rev revision.Revision, name string) *resultcache.Entry {
	h.t.Helper()

	entry, err := h.store.Read(context.Background(), resultcache.Key{Revision: rev.ID, Benchmark: name})
	require.NoError(h.t, err)

	return entry
}

type transition struct {
	rev      string
	from, to orchestrator.State
}

type recordingReporter struct {
	mu          sync.Mutex
	transitions []transition
	events      []orchestrator.Event
}

func (r *recordingReporter) Transition(rev revision.Revision, from, to orchestrator.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions = append(r.transitions, transition{rev: rev.Summary, from: from, to: to})
}

func (r *recordingReporter) Event(ev orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recordingReporter) path(rev string) []orchestrator.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []orchestrator.State

	for _, tr := range r.transitions {
		if tr.rev != rev {
			continue
		}

		if len(states) == 0 {
			states = append(states, tr.from)
		}

		states = append(states, tr.to)
	}

	return states
}

func (r *recordingReporter) kinds(kind orchestrator.EventKind) []orchestrator.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []orchestrator.Event

	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}

	return out
}

// fakeProvisioner fails on demand.
type fakeProvisioner struct {
	provisionErr error
	installErr   error
}

func (p *fakeProvisioner) Provision(_ context.Context, snap *snapshot.Snapshot) (*provision.Environment, error) {
	if p.provisionErr != nil {
		return nil, &provision.Error{Revision: snap.Revision.ID, Stage: "venv", Err: p.provisionErr}
	}

	return &provision.Environment{Revision: snap.Revision.ID, Root: snap.Dir, Dir: filepath.Join(snap.Dir, ".venv")}, nil
}

func (p *fakeProvisioner) Install(_ context.Context, env *provision.Environment, _ ...provision.Source) (*provision.InstallReport, error) {
	if p.installErr != nil {
		return &provision.InstallReport{}, &provision.Error{Revision: env.Revision, Stage: "install", Err: p.installErr}
	}

	return &provision.InstallReport{}, nil
}

var errBoom = errors.New("boom")
