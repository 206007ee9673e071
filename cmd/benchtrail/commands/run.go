package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/config"
	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/report"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runner"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runrecord"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
	"github.com/Sumatoshi-tech/benchtrail/pkg/terminal"
	"github.com/Sumatoshi-tech/benchtrail/pkg/workspace"
)

const diagnosticsShutdownTimeout = 5 * time.Second

// summaryRunner runs one request.
type summaryRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Summary, error)
}

// runSetup is what an orchestrator is built from.
type runSetup struct {
	RepoDir   string
	Config    *config.Config
	Providers observability.Providers
	Reporter  orchestrator.Reporter
	// Output receives benchmark and installer output.
	Output io.Writer
}

type orchestratorFactory func(ctx context.Context, setup *runSetup) (summaryRunner, func() error, error)

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	global *GlobalOptions

	count        int
	clearCache   bool
	install      bool
	jobs         int
	timeout      time.Duration
	source       string
	snapshotMode string
	metricsAddr  string
	noColor      bool
	noRecord     bool
	out          outputOptions

	factory orchestratorFactory
	records func(repoDir string, cfg *config.Config) *runrecord.Manager
	now     func() time.Time
}

// NewRunCommand creates the run command.
func NewRunCommand(global *GlobalOptions) *cobra.Command {
	return newRunCommandWithDeps(global, buildOrchestrator, newRecordManager)
}

func newRunCommandWithDeps(
	global *GlobalOptions,
	factory orchestratorFactory,
	records func(repoDir string, cfg *config.Config) *runrecord.Manager,
) *cobra.Command {
	rc := &RunCommand{global: global, factory: factory, records: records, now: time.Now}

	cmd := &cobra.Command{
		Use:   "run [benchmarks...]",
		Short: "Benchmark the last N revisions",
		Long: `Run the selected benchmarks (default: all) against the last N first-parent
revisions. Cached (revision, benchmark) pairs are never executed again;
use --clear-cache to re-run them.`,
		RunE: rc.run,
	}

	cmd.Flags().IntVarP(&rc.count, "count", "n", config.DefaultCount, "Number of revisions back from HEAD")
	cmd.Flags().BoolVarP(&rc.clearCache, "clear-cache", "c", false, "Clear cached results of the window before running")
	cmd.Flags().BoolVar(&rc.install, "install", false, "Install each revision into its own virtualenv")
	cmd.Flags().IntVarP(&rc.jobs, "jobs", "j", config.DefaultJobs, "Revisions processed in parallel")
	cmd.Flags().DurationVar(&rc.timeout, "timeout", config.DefaultRunnerTimeout, "Per-benchmark timeout")
	cmd.Flags().StringVar(&rc.source, "source", config.DefaultBenchmarksSource, "Benchmark code source: latest, revision")
	cmd.Flags().StringVar(&rc.snapshotMode, "snapshot-mode", config.DefaultSnapshotMode, "Snapshot mode: worktree, export")
	cmd.Flags().StringVar(&rc.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /readyz on this address during the run")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&rc.noRecord, "no-record", false, "Do not save a run record")
	rc.out.bind(cmd, false)

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, args []string) error {
	repoDir, err := rc.global.repoDir()
	if err != nil {
		return err
	}

	cfg, err := rc.global.loadConfig(repoDir)
	if err != nil {
		return err
	}

	err = rc.applyFlags(cmd, cfg)
	if err != nil {
		return err
	}

	_, err = rc.out.parseFormat()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, shutdown, err := rc.global.initObservability(cfg, observability.ModeCLI, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer shutdown()

	if cfg.Observability.MetricsAddr != "" {
		closeDiag, diagErr := startDiagnostics(cfg.Observability.MetricsAddr, providers, cmd.ErrOrStderr())
		if diagErr != nil {
			return diagErr
		}
		defer closeDiag()
	}

	out := cmd.OutOrStdout()

	termCfg := terminal.NewConfig(out)
	if rc.noColor {
		termCfg.NoColor = true
	}

	progress := terminal.NewProgress(out, termCfg)
	progress.Tagged = cfg.Orchestrator.Jobs > 1
	progress.Transitions = rc.global.Verbosity > 1

	orch, closeOrch, err := rc.factory(ctx, &runSetup{
		RepoDir:   repoDir,
		Config:    cfg,
		Providers: providers,
		Reporter:  progress,
		Output:    out,
	})
	if err != nil {
		return err
	}
	defer closeOrch()

	req := orchestrator.Request{
		Count:      cfg.Orchestrator.Count,
		Benchmarks: args,
		ClearCache: rc.clearCache,
		Provision:  rc.install,
	}

	summary, runErr := orch.Run(ctx, req)

	if summary != nil && !rc.noRecord && !isCanceled(runErr) {
		rc.saveRecord(ctx, providers, repoDir, cfg, req, summary, runErr)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(out)

	err = report.WriteSummary(out, summary, report.FormatTable, termCfg)
	if err != nil {
		return err
	}

	if summary.Result == nil {
		return nil
	}

	return rc.out.write(out, out, summary.Result)
}

// applyFlags lets explicitly set flags override the configuration.
func (rc *RunCommand) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("count") {
		cfg.Orchestrator.Count = rc.count
	}

	if flags.Changed("jobs") {
		cfg.Orchestrator.Jobs = rc.jobs
	}

	if flags.Changed("timeout") {
		cfg.Runner.Timeout = rc.timeout
	}

	if flags.Changed("source") {
		cfg.Benchmarks.Source = rc.source
	}

	if flags.Changed("snapshot-mode") {
		cfg.Snapshot.Mode = rc.snapshotMode
	}

	if flags.Changed("metrics-addr") {
		cfg.Observability.MetricsAddr = rc.metricsAddr
	}

	err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("validate flags: %w", err)
	}

	return nil
}

func (rc *RunCommand) saveRecord(
	ctx context.Context,
	providers observability.Providers,
	repoDir string,
	cfg *config.Config,
	req orchestrator.Request,
	summary *orchestrator.Summary,
	runErr error,
) {
	manager := rc.records(repoDir, cfg)

	err := manager.Save(runrecord.FromSummary(repoDir, req, summary, runErr))
	if err != nil {
		providers.Logger.WarnContext(ctx, "save run record", "error", err)

		return
	}

	pruned, err := manager.Prune(rc.now())
	if err != nil {
		providers.Logger.WarnContext(ctx, "prune run records", "error", err)

		return
	}

	if pruned > 0 {
		providers.Logger.DebugContext(ctx, "pruned run records", "count", pruned)
	}
}

func newRecordManager(repoDir string, cfg *config.Config) *runrecord.Manager {
	baseDir := cfg.Runs.Dir
	if baseDir == "" {
		baseDir = runrecord.DefaultDir()
	}

	manager := runrecord.NewManager(baseDir, repoDir)
	manager.MaxAge = cfg.Runs.MaxAge
	manager.MaxCount = cfg.Runs.MaxCount

	return manager
}

func startDiagnostics(addr string, providers observability.Providers, notes io.Writer) (func(), error) {
	diag, err := observability.NewDiagnosticsServer(addr, providers.Tracer, providers.MetricsHandler, providers.Logger)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(notes, "Diagnostics on http://%s/metrics\n", diag.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), diagnosticsShutdownTimeout)
		defer cancel()

		closeErr := diag.Close(ctx)
		if closeErr != nil {
			providers.Logger.Warn("diagnostics shutdown failed", "error", closeErr)
		}
	}, nil
}

// buildOrchestrator wires the production collaborators.
func buildOrchestrator(ctx context.Context, setup *runSetup) (summaryRunner, func() error, error) {
	cfg := setup.Config
	logger := setup.Providers.Logger

	ws, err := workspace.OpenWith(ctx, setup.RepoDir, cfg)
	if err != nil {
		return nil, nil, err
	}

	snapshots, err := snapshot.New(cfg.Snapshot.Mode, ws.Repo, ws.RepoDir, cfg.Snapshot.Dir, logger)
	if err != nil {
		_ = ws.Close()

		return nil, nil, err
	}

	tail, err := cfg.TailBytes()
	if err != nil {
		_ = ws.Close()

		return nil, nil, err
	}

	metrics, err := observability.NewRunMetrics(setup.Providers.Meter)
	if err != nil {
		_ = ws.Close()

		return nil, nil, fmt.Errorf("run metrics: %w", err)
	}

	benchRel := cfg.BenchRel(ws.RepoDir)

	orch, err := orchestrator.New(orchestrator.Options{
		Revisions: ws.Revisions(),
		Snapshots: snapshots,
		Provisioner: &provision.VenvProvisioner{
			Python:  cfg.Provision.Python,
			Timeout: cfg.Provision.Timeout,
			Logger:  logger,
		},
		Sources: provisionSources(cfg),
		Runner: &runner.ProcessRunner{
			BenchDir: benchRel,
			Python:   cfg.Runner.Python,
			Timeout:  cfg.Runner.Timeout,
			Grace:    cfg.Runner.Grace,
			TailSize: tail,
			Output:   setup.Output,
			Logger:   logger,
		},
		Store:       ws.Store,
		BenchDir:    ws.BenchDir(),
		BenchRel:    benchRel,
		BenchSource: cfg.Benchmarks.Source,
		CacheDir:    ws.CacheDir(),
		Jobs:        cfg.Orchestrator.Jobs,
		Reporter:    setup.Reporter,
		Logger:      logger,
		Tracer:      setup.Providers.Tracer,
		Metrics:     metrics,
	})
	if err != nil {
		_ = ws.Close()

		return nil, nil, err
	}

	return orch, ws.Close, nil
}

func provisionSources(cfg *config.Config) []provision.Source {
	sources := []provision.Source{provision.SnapshotSource()}

	if len(cfg.Provision.Packages) > 0 {
		sources = append(sources, provision.PackagesSource(cfg.Provision.Packages...))
	}

	if cfg.Provision.Requirements != "" {
		sources = append(sources, provision.RequirementsSource(cfg.Provision.Requirements))
	}

	return sources
}

// isCanceled reports whether err comes from an interrupted run.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
