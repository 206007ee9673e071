package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/benchtrail/pkg/config"
	"github.com/Sumatoshi-tech/benchtrail/pkg/gitlib/gitlibtest"
	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runrecord"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

var (
	revOld = revision.Revision{ID: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Summary: "old", When: time.Unix(100, 0)}
	revNew = revision.Revision{ID: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Summary: "new", When: time.Unix(200, 0)}
)

type stubRunner struct {
	summary *orchestrator.Summary
	err     error
	req     orchestrator.Request
}

func (s *stubRunner) Run(_ context.Context, req orchestrator.Request) (*orchestrator.Summary, error) {
	s.req = req

	return s.summary, s.err
}

func sampleSummary() *orchestrator.Summary {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	return &orchestrator.Summary{
		RunID:      "run-0001",
		Started:    started,
		Finished:   started.Add(3 * time.Second),
		Revisions:  []revision.Revision{revNew, revOld},
		Benchmarks: []string{"speed"},
		Counts:     orchestrator.Counts{Succeeded: 2},
		Result: &series.RunResult{
			Revisions:  []revision.Revision{revOld, revNew},
			Benchmarks: []string{"speed"},
			Series: map[string][]series.Point{
				"speed": {
					{State: series.StateValue, Value: json.RawMessage(`{"seconds":1.5}`)},
					{State: series.StateValue, Value: json.RawMessage(`{"seconds":1.25}`)},
				},
			},
		},
	}
}

type runHarness struct {
	global  *GlobalOptions
	stub    *stubRunner
	setup   *runSetup
	calls   int
	records string
	out     bytes.Buffer
	errOut  bytes.Buffer
}

func newRunHarness(t *testing.T, repoDir string) *runHarness {
	t.Helper()

	h := &runHarness{
		global:  &GlobalOptions{Repo: repoDir},
		stub:    &stubRunner{summary: sampleSummary()},
		records: t.TempDir(),
	}

	return h
}

func (h *runHarness) execute(args ...string) error {
	factory := func(_ context.Context, setup *runSetup) (summaryRunner, func() error, error) {
		h.calls++
		h.setup = setup

		return h.stub, func() error { return nil }, nil
	}

	records := func(repoDir string, _ *config.Config) *runrecord.Manager {
		return runrecord.NewManager(h.records, repoDir)
	}

	cmd := newRunCommandWithDeps(h.global, factory, records)
	cmd.SetArgs(args)
	cmd.SetOut(&h.out)
	cmd.SetErr(&h.errOut)

	return cmd.Execute()
}

func (h *runHarness) savedRecords(t *testing.T, repoDir string) []*runrecord.Record {
	t.Helper()

	records, _, err := runrecord.NewManager(h.records, repoDir).List()
	require.NoError(t, err)

	return records
}

func TestRunCommand_FlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	h := newRunHarness(t, repoDir)

	err := h.execute("-n", "3", "-j", "2", "--timeout", "90s", "--source", "revision",
		"--snapshot-mode", "export", "-c", "--install", "--no-color", "speed", "memory")
	require.NoError(t, err)
	require.Equal(t, 1, h.calls)

	cfg := h.setup.Config
	assert.Equal(t, 3, cfg.Orchestrator.Count)
	assert.Equal(t, 2, cfg.Orchestrator.Jobs)
	assert.Equal(t, 90*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, "revision", cfg.Benchmarks.Source)
	assert.Equal(t, snapshot.ModeExport, cfg.Snapshot.Mode)

	assert.Equal(t, orchestrator.Request{
		Count:      3,
		Benchmarks: []string{"speed", "memory"},
		ClearCache: true,
		Provision:  true,
	}, h.stub.req)

	assert.Contains(t, h.out.String(), "benchtrail run run-0001")
	assert.NotContains(t, h.out.String(), "\x1b[")

	records := h.savedRecords(t, repoDir)
	require.Len(t, records, 1)
	assert.Equal(t, "run-0001", records[0].RunID)
	assert.Equal(t, 2, records[0].Counts.Succeeded)
	assert.Empty(t, records[0].Error)
}

func TestRunCommand_ConfigDefaults(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, ".benchtrail.yaml"),
		[]byte("orchestrator:\n  count: 4\nrunner:\n  timeout: 2m\n"), 0o600))

	h := newRunHarness(t, repoDir)

	require.NoError(t, h.execute("--no-record"))
	assert.Equal(t, 4, h.stub.req.Count)
	assert.Equal(t, 2*time.Minute, h.setup.Config.Runner.Timeout)
	assert.Empty(t, h.savedRecords(t, repoDir))
}

func TestRunCommand_InvalidFlagsFailBeforeRunning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"source", []string{"--source", "head"}, config.ErrInvalidSource},
		{"snapshot mode", []string{"--snapshot-mode", "clone"}, config.ErrInvalidSnapshotMode},
		{"count", []string{"-n", "0"}, config.ErrInvalidCount},
		{"jobs", []string{"-j", "0"}, config.ErrInvalidJobs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newRunHarness(t, t.TempDir())

			err := h.execute(tt.args...)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, h.calls)
		})
	}
}

func TestRunCommand_UnknownFormat(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, t.TempDir())

	err := h.execute("--format", "xml")
	require.Error(t, err)
	assert.Zero(t, h.calls)
}

func TestRunCommand_Outputs(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	outDir := t.TempDir()
	h := newRunHarness(t, repoDir)

	exportPath := filepath.Join(outDir, "series.yaml")
	imageDir := filepath.Join(outDir, "images")

	err := h.execute("--print", "--format", "json", "-o", exportPath, "-i", imageDir)
	require.NoError(t, err)

	assert.Contains(t, h.out.String(), `"name": "speed"`)
	assert.Contains(t, h.out.String(), "Series written to "+exportPath)
	assert.Contains(t, h.out.String(), "speed.html")

	exported, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(exported), "benchmarks:")

	page, err := os.ReadFile(filepath.Join(imageDir, "speed.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "old (aaaaaaa)")
}

func TestRunCommand_RunErrorIsRecorded(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	h := newRunHarness(t, repoDir)
	h.stub.err = snapshot.ErrStorageExhausted

	err := h.execute()
	require.ErrorIs(t, err, snapshot.ErrStorageExhausted)

	records := h.savedRecords(t, repoDir)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Error, "storage exhausted")
}

func TestRunCommand_CanceledRunIsNotRecorded(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	h := newRunHarness(t, repoDir)
	h.stub.err = context.Canceled

	err := h.execute()
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.savedRecords(t, repoDir))
}

func TestRunCommand_ConfigurationErrorHasNoSummary(t *testing.T) {
	t.Parallel()

	repoDir := t.TempDir()
	h := newRunHarness(t, repoDir)
	h.stub.summary = nil
	h.stub.err = &orchestrator.ConfigurationError{Err: orchestrator.ErrNoBenchmarks}

	err := h.execute()

	var cfgErr *orchestrator.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, h.savedRecords(t, repoDir))
	assert.Empty(t, h.out.String())
}

func TestRunCommand_EndToEnd(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	repo := gitlibtest.New(t)
	repo.WriteExecutable("benchmarks/speed.sh",
		"#!/bin/sh\necho measuring\necho '{\"seconds\": 2}' > \"$BENCHTRAIL_RESULT_FILE\"\n")
	repo.WriteExecutable("benchmarks/broken.sh", "#!/bin/sh\nexit 3\n")
	repo.Commit("add benchmarks")
	repo.WriteFile("lib.txt", "v2\n")
	repo.Commit("change lib")

	records := t.TempDir()
	global := &GlobalOptions{Repo: repo.Path}

	run := func(args ...string) string {
		var out bytes.Buffer

		cmd := newRunCommandWithDeps(global, buildOrchestrator, func(repoDir string, _ *config.Config) *runrecord.Manager {
			return runrecord.NewManager(records, repoDir)
		})
		cmd.SetArgs(args)
		cmd.SetOut(&out)
		cmd.SetErr(&out)

		require.NoError(t, cmd.Execute(), out.String())

		return out.String()
	}

	first := run("-n", "5", "--snapshot-mode", "export", "--no-color")
	assert.Contains(t, first, "|  measuring")
	assert.Contains(t, first, "PASS speed")
	assert.Contains(t, first, "FAIL broken")

	second := run("-n", "5", "--snapshot-mode", "export", "--no-color", "--print", "--format", "json")
	assert.NotContains(t, second, "|  measuring")
	assert.Contains(t, second, `"seconds": 2`)

	saved, _, err := runrecord.NewManager(records, repo.Path).List()
	require.NoError(t, err)
	require.Len(t, saved, 2)

	// Newest first.
	assert.Equal(t, 4, saved[0].Counts.Cached)
	assert.Equal(t, 2, saved[1].Counts.Succeeded)
	assert.Equal(t, 2, saved[1].Counts.Failed)

	var cacheOut bytes.Buffer

	ls := newCacheListCommand(global, time.Now)
	ls.SetArgs([]string{"--benchmark", "broken", "--format", "json"})
	ls.SetOut(&cacheOut)
	require.NoError(t, ls.Execute())

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(cacheOut.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "failed", entries[0]["status"])
}
