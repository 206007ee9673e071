package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runner"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

func summaries(revs []revision.Revision) []string {
	out := make([]string, len(revs))
	for i, r := range revs {
		out[i] = r.Summary
	}

	return out
}

func TestRun_FreshWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	summary, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	assert.Equal(t, 6, h.runner.count())
	assert.Len(t, h.entries(), 6)
	assert.Equal(t, orchestrator.Counts{Succeeded: 6}, summary.Counts)
	assert.Equal(t, []string{"accuracy", "speed"}, summary.Benchmarks)
	assert.Empty(t, summary.Missing)

	require.NotNil(t, summary.Result)
	assert.Equal(t, []string{"r1", "r2", "r3"}, summaries(summary.Result.Revisions))

	for _, name := range []string{"speed", "accuracy"} {
		points := summary.Result.Series[name]
		require.Len(t, points, 3, name)

		for i, rev := range []revision.Revision{r1, r2, r3} {
			assert.Equal(t, series.StateValue, points[i].State)
			assert.JSONEq(t, `{"revision":"`+rev.ID+`","benchmark":"`+name+`"}`, string(points[i].Value))
		}
	}

	acquired, released, live := h.provider.counts()
	assert.Equal(t, 3, acquired)
	assert.Equal(t, 3, released)
	assert.Zero(t, live)

	entry := h.read(r2, "speed")
	assert.Equal(t, summary.RunID, entry.RunID)
}

func TestRun_RerunSubsetExecutesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	first, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	before := h.read(r1, "accuracy")

	second, err := h.run(orchestrator.Request{Count: 3, Benchmarks: []string{"speed"}})
	require.NoError(t, err)

	assert.Equal(t, 6, h.runner.count(), "no new subprocess")
	assert.Equal(t, orchestrator.Counts{Cached: 3}, second.Counts)
	assert.Equal(t, []string{"speed"}, second.Benchmarks)
	assert.ElementsMatch(t, []string{r1.ID, r2.ID, r3.ID}, second.Skipped)

	after := h.read(r1, "accuracy")
	assert.Equal(t, before, after)
	assert.Equal(t, first.RunID, after.RunID)

	acquired, _, _ := h.provider.counts()
	assert.Equal(t, 3, acquired, "fully cached revisions take no snapshot")
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	first, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	second, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	assert.Equal(t, 6, h.runner.count())
	assert.Equal(t, 6, second.Counts.Cached)
	assert.Zero(t, second.Counts.Executed())
	assert.Equal(t, first.Result.Series, second.Result.Series)
}

func TestRun_ClearCacheReexecutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	summary, err := h.run(orchestrator.Request{Count: 3, ClearCache: true})
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Cleared)
	assert.Equal(t, 12, h.runner.count())
	assert.Equal(t, 6, summary.Counts.Succeeded)
	assert.Len(t, h.entries(), 6)
	assert.Equal(t, summary.RunID, h.read(r3, "accuracy").RunID)
}

func TestRun_ClearCacheOnlyTouchesSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	first, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	summary, err := h.run(orchestrator.Request{Count: 3, ClearCache: true, Benchmarks: []string{"speed"}})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Cleared)
	assert.Equal(t, first.RunID, h.read(r1, "accuracy").RunID)
	assert.Equal(t, summary.RunID, h.read(r1, "speed").RunID)
}

func TestRun_FailureContainment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.runner.outcome = func(_ context.Context, b bench.Benchmark, snap *snapshot.Snapshot, _ *provision.Environment) runner.Outcome {
		if b.Name == "speed" && snap.Revision.ID == r2.ID {
			return failOutcome(runner.KindExit)
		}

		return okOutcome(snap.Revision.ID, b.Name)
	}

	summary, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	assert.Equal(t, 6, h.runner.count())
	assert.Equal(t, orchestrator.Counts{Succeeded: 5, Failed: 1}, summary.Counts)
	assert.Len(t, h.entries(), 6)

	failed := h.read(r2, "speed")
	assert.False(t, failed.OK())
	assert.Equal(t, "exit", failed.Failure.Kind)
	assert.Equal(t, 1, failed.Failure.ExitCode)

	assert.True(t, h.read(r2, "accuracy").OK())
	assert.True(t, h.read(r1, "speed").OK())

	speed := summary.Result.Series["speed"]
	assert.Equal(t, []series.State{series.StateValue, series.StateFailed, series.StateValue},
		[]series.State{speed[0].State, speed[1].State, speed[2].State})
	assert.Empty(t, summary.Missing)
}

func TestRun_UnprocessableRevisionIsReconciled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.provider.fail[r2.ID] = snapshot.ErrRevisionUnresolvable

	summary, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	assert.Equal(t, 4, h.runner.count())
	assert.Len(t, h.entries(), 6, "completeness holds for unprocessable revisions")
	assert.Equal(t, orchestrator.Counts{Succeeded: 4, Reconciled: 2}, summary.Counts)

	require.Len(t, summary.Unprocessable, 1)
	assert.Equal(t, r2.ID, summary.Unprocessable[0].Revision.ID)
	assert.Contains(t, summary.Unprocessable[0].Error, "revision unresolvable")

	marker := h.read(r2, "speed")
	assert.False(t, marker.OK())
	assert.Equal(t, string(runner.KindNoResult), marker.Failure.Kind)

	assert.Equal(t,
		[]orchestrator.State{orchestrator.StatePending, orchestrator.StateTornDown},
		h.reporter.path("r2"))
	assert.Len(t, h.reporter.kinds(orchestrator.EventReconciled), 2)
}

func TestRun_StorageExhaustionAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.provider.fail[r3.ID] = snapshot.ErrStorageExhausted

	_, err := h.run(orchestrator.Request{Count: 3})
	require.ErrorIs(t, err, snapshot.ErrStorageExhausted)

	assert.Zero(t, h.runner.count())

	for _, key := range h.entries() {
		assert.NotEqual(t, r3.ID, key.Revision)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(h *harness)
		req    orchestrator.Request
		want   error
	}{
		{name: "count", req: orchestrator.Request{Count: 0}, want: orchestrator.ErrInvalidCount},
		{
			name:   "no repository",
			mutate: func(h *harness) { h.opts.Revisions = nil },
			req:    orchestrator.Request{Count: 1},
			want:   orchestrator.ErrInvalidRepository,
		},
		{
			name:   "empty history",
			mutate: func(h *harness) { h.opts.Revisions = revision.Static{} },
			req:    orchestrator.Request{Count: 1},
			want:   orchestrator.ErrInvalidRepository,
		},
		{
			name:   "missing benchmark dir",
			mutate: func(h *harness) { h.opts.BenchDir = filepath.Join(h.benchDir, "absent") },
			req:    orchestrator.Request{Count: 1},
			want:   orchestrator.ErrNoBenchmarkDir,
		},
		{
			name: "no benchmarks",
			mutate: func(h *harness) {
				empty := filepath.Join(h.t.TempDir(), "benchmarks")
				require.NoError(h.t, os.MkdirAll(empty, 0o755))
				require.NoError(h.t, os.WriteFile(filepath.Join(empty, "_helper.py"), []byte("x = 1\n"), 0o600))
				h.opts.BenchDir = empty
			},
			req:  orchestrator.Request{Count: 1},
			want: orchestrator.ErrNoBenchmarks,
		},
		{
			name: "empty selection",
			req:  orchestrator.Request{Count: 1, Benchmarks: []string{"nope"}},
			want: orchestrator.ErrEmptySelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			if tt.mutate != nil {
				tt.mutate(h)
			}

			_, err := h.run(tt.req)
			require.ErrorIs(t, err, tt.want)

			var cfgErr *orchestrator.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)

			acquired, _, _ := h.provider.counts()
			assert.Zero(t, acquired)
			assert.Zero(t, h.runner.count())
		})
	}
}

func TestRun_UnknownBenchmarksAreSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	summary, err := h.run(orchestrator.Request{Count: 1, Benchmarks: []string{"speed", "ghost"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"ghost"}, summary.Unknown)
	assert.Equal(t, []string{"speed"}, summary.Benchmarks)
	assert.Equal(t, 1, h.runner.count())

	unknown := h.reporter.kinds(orchestrator.EventUnknownBenchmark)
	require.Len(t, unknown, 1)
	assert.Equal(t, "ghost", unknown[0].Benchmark)
}

func TestRun_DuplicateWriteIsAnAnomaly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	intruder := resultcache.Success(resultcache.Key{Revision: r3.ID, Benchmark: "speed"}, json.RawMessage(`"first"`))

	h.runner.outcome = func(ctx context.Context, b bench.Benchmark, snap *snapshot.Snapshot, _ *provision.Environment) runner.Outcome {
		if b.Name == "speed" && snap.Revision.ID == r3.ID {
			assert.NoError(t, h.store.Write(ctx, intruder))
		}

		return okOutcome(snap.Revision.ID, b.Name)
	}

	summary, err := h.run(orchestrator.Request{Count: 1})
	require.NoError(t, err)

	require.Len(t, summary.Anomalies, 1)
	assert.Equal(t, intruder.Key(), summary.Anomalies[0].Key)
	assert.JSONEq(t, `"first"`, string(h.read(r3, "speed").Result), "existing entry is never overwritten")
	assert.Len(t, h.reporter.kinds(orchestrator.EventAnomaly), 1)
}

func TestRun_CancelWritesNoMarker(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	defer cancel()

	h.runner.outcome = func(_ context.Context, b bench.Benchmark, snap *snapshot.Snapshot, _ *provision.Environment) runner.Outcome {
		if b.Name == "speed" {
			cancel()

			return runner.Outcome{Status: runner.StatusFailed, Failure: &runner.ExecutionError{
				Kind: runner.KindCanceled, Err: context.Canceled,
			}}
		}

		return okOutcome(snap.Revision.ID, b.Name)
	}

	o, err := orchestrator.New(h.opts)
	require.NoError(t, err)

	_, err = o.Run(ctx, orchestrator.Request{Count: 3})
	require.ErrorIs(t, err, context.Canceled)

	has, err := h.store.Has(context.Background(), resultcache.Key{Revision: r3.ID, Benchmark: "speed"})
	require.NoError(t, err)
	assert.False(t, has)

	assert.True(t, h.read(r3, "accuracy").OK())

	acquired, released, live := h.provider.counts()
	assert.Equal(t, acquired, released)
	assert.Zero(t, live)
}

func TestRun_StatePaths(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.Provisioner = &fakeProvisioner{}

	_, err := h.run(orchestrator.Request{Count: 1, Provision: true})
	require.NoError(t, err)

	assert.Equal(t, []orchestrator.State{
		orchestrator.StatePending,
		orchestrator.StateSnapshotReady,
		orchestrator.StateProvisioning,
		orchestrator.StateRunning,
		orchestrator.StateCollected,
		orchestrator.StateTornDown,
	}, h.reporter.path("r3"))

	h.reporter = &recordingReporter{}
	h.opts.Reporter = h.reporter

	_, err = h.run(orchestrator.Request{Count: 1})
	require.NoError(t, err)

	assert.Equal(t, []orchestrator.State{
		orchestrator.StatePending,
		orchestrator.StateCollected,
		orchestrator.StateTornDown,
	}, h.reporter.path("r3"))
	assert.Len(t, h.reporter.kinds(orchestrator.EventRevisionSkipped), 1)
}

func TestRun_ProvisioningFailureIsDegraded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prov    *fakeProvisioner
		wantEnv bool
	}{
		{name: "provision", prov: &fakeProvisioner{provisionErr: errBoom}, wantEnv: false},
		{name: "install", prov: &fakeProvisioner{installErr: errBoom}, wantEnv: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.opts.Provisioner = tt.prov

			var sawEnv []bool

			h.runner.outcome = func(_ context.Context, b bench.Benchmark, snap *snapshot.Snapshot, env *provision.Environment) runner.Outcome {
				sawEnv = append(sawEnv, env != nil)

				return okOutcome(snap.Revision.ID, b.Name)
			}

			summary, err := h.run(orchestrator.Request{Count: 1, Provision: true})
			require.NoError(t, err)

			assert.Equal(t, 2, summary.Counts.Succeeded)
			require.Len(t, summary.Degraded, 1)
			assert.Contains(t, summary.Degraded[0].Error, "boom")
			assert.Equal(t, []bool{tt.wantEnv, tt.wantEnv}, sawEnv)
			assert.Len(t, h.reporter.kinds(orchestrator.EventProvisionFailed), 1)
		})
	}
}

func TestRun_LatestSourceStagesLiveBenchmarks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.BenchSource = bench.SourceLatest

	// Make sure a cache root exists before staging.
	_, err := h.run(orchestrator.Request{Count: 1, Benchmarks: []string{"speed"}})
	require.NoError(t, err)

	var staged, leaked []bool

	h.runner.outcome = func(_ context.Context, b bench.Benchmark, snap *snapshot.Snapshot, _ *provision.Environment) runner.Outcome {
		_, statErr := os.Stat(filepath.Join(snap.Dir, bench.DefaultDirName, b.File))
		staged = append(staged, statErr == nil)

		_, statErr = os.Stat(filepath.Join(snap.Dir, bench.DefaultDirName, resultcache.DefaultDirName))
		leaked = append(leaked, statErr == nil)

		return okOutcome(snap.Revision.ID, b.Name)
	}

	_, err = h.run(orchestrator.Request{Count: 1})
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, staged)
	assert.Equal(t, []bool{false}, leaked)
}

func TestRun_RevisionSourceDoesNotStage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var staged []bool

	h.runner.outcome = func(_ context.Context, b bench.Benchmark, snap *snapshot.Snapshot, _ *provision.Environment) runner.Outcome {
		_, statErr := os.Stat(filepath.Join(snap.Dir, bench.DefaultDirName, b.File))
		staged = append(staged, statErr == nil)

		return okOutcome(snap.Revision.ID, b.Name)
	}

	_, err := h.run(orchestrator.Request{Count: 1})
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false}, staged)
}

func TestRun_ParallelRevisions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.Jobs = 3

	summary, err := h.run(orchestrator.Request{Count: 3})
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Counts.Succeeded)
	assert.Len(t, h.entries(), 6)
	assert.Equal(t, []string{"r1", "r2", "r3"}, summaries(summary.Result.Revisions))

	acquired, released, live := h.provider.counts()
	assert.Equal(t, 3, acquired)
	assert.Equal(t, 3, released)
	assert.Zero(t, live)
	assert.LessOrEqual(t, h.provider.maxLive, 3)
}

type brokenStore struct {
	resultcache.Store
}

func (brokenStore) Has(context.Context, resultcache.Key) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.opts.Store = brokenStore{Store: h.store}

	_, err := h.run(orchestrator.Request{Count: 3})
	require.ErrorContains(t, err, "connection refused")

	var cfgErr *orchestrator.ConfigurationError
	assert.NotErrorAs(t, err, &cfgErr)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := orchestrator.New(orchestrator.Options{})
	require.ErrorIs(t, err, orchestrator.ErrMissingCollaborator)

	h := newHarness(t)
	h.opts.BenchSource = "tomorrow"

	_, err = orchestrator.New(h.opts)
	require.ErrorIs(t, err, bench.ErrUnknownSource)
}
