// Package orchestrator drives benchmark runs across a window of revisions:
// snapshot, optional provisioning, one process per uncached benchmark, a
// write-once cache entry per outcome and a reconciliation pass that leaves
// no requested key without an entry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runner"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

// Span and attribute names.
const (
	spanRun       = "benchtrail.run"
	spanRevision  = "benchtrail.revision"
	spanBenchmark = "benchtrail.benchmark"

	attrRunID     = "benchtrail.run_id"
	attrRevision  = "benchtrail.revision"
	attrBenchmark = "benchtrail.benchmark"
	attrCount     = "benchtrail.count"
	attrOutcome   = "benchtrail.outcome"
	attrKind      = "benchtrail.kind"
)

// Revision outcomes recorded in metrics.
const (
	outcomeProcessed     = "processed"
	outcomeSkipped       = "skipped"
	outcomeUnprocessable = "unprocessable"
)

// Request is one run.
type Request struct {
	// Count is the revision window size, first-parent from HEAD.
	Count int
	// Benchmarks restricts the run; empty means all discovered.
	Benchmarks []string
	// ClearCache removes the window's entries before running.
	ClearCache bool
	// Provision creates an environment per snapshot.
	Provision bool
}

// Options wires an Orchestrator.
type Options struct {
	Revisions revision.Source
	Snapshots snapshot.Provider
	// Provisioner is used when a request asks for it; Nop when nil.
	Provisioner provision.Provisioner
	// Sources are installed into every provisioned environment.
	Sources []provision.Source
	Runner  runner.Runner
	Store   resultcache.Store

	// BenchDir is the live benchmark directory.
	BenchDir string
	// BenchRel is the benchmark directory relative to the repository root.
	BenchRel string
	// BenchSource is bench.SourceLatest (default) or bench.SourceRevision.
	BenchSource string
	// CacheDir is excluded from discovery and staging when it lies in BenchDir.
	CacheDir string

	// Jobs is the number of revisions in flight; 1 when zero.
	Jobs int

	Reporter Reporter
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *observability.RunMetrics
	// NewRunID returns the id stamped on entries; uuid when nil.
	NewRunID func() string
}

// Orchestrator runs requests. It is safe to reuse across runs but not to
// run concurrently with itself.
type Orchestrator struct {
	opts Options
}

// ErrMissingCollaborator is returned by New when a required option is nil.
var ErrMissingCollaborator = errors.New("orchestrator: missing collaborator")

// New validates opts and fills defaults.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Snapshots == nil:
		return nil, fmt.Errorf("%w: snapshot provider", ErrMissingCollaborator)
	case opts.Runner == nil:
		return nil, fmt.Errorf("%w: runner", ErrMissingCollaborator)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: result store", ErrMissingCollaborator)
	}

	if opts.Provisioner == nil {
		opts.Provisioner = provision.Nop{}
	}

	if opts.BenchSource == "" {
		opts.BenchSource = bench.SourceLatest
	}

	if !bench.ValidSource(opts.BenchSource) {
		return nil, fmt.Errorf("%w: %q", bench.ErrUnknownSource, opts.BenchSource)
	}

	if opts.BenchRel == "" {
		opts.BenchRel = bench.DefaultDirName
	}

	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}

	if opts.Reporter == nil {
		opts.Reporter = NopReporter{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}

	return &Orchestrator{opts: opts}, nil
}

// Run processes every revision of the window and returns the summary. Only
// configuration problems, storage exhaustion, result store failures and
// cancellation return an error; everything else is recorded in the summary.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	plan, err := o.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:      o.opts.NewRunID(),
		Started:    time.Now(),
		Revisions:  plan.revisions,
		Benchmarks: bench.Names(plan.benchmarks),
		Unknown:    plan.unknown,
	}

	ctx, span := o.opts.Tracer.Start(ctx, spanRun, trace.WithAttributes(
		attribute.String(attrRunID, summary.RunID),
		attribute.Int(attrCount, len(plan.revisions)),
	))
	defer span.End()

	log := o.opts.Logger.With("run_id", summary.RunID)
	log.InfoContext(ctx, "run started",
		"revisions", len(plan.revisions), "benchmarks", strings.Join(summary.Benchmarks, ","))

	o.reconcileSnapshots(ctx, log)

	if req.ClearCache {
		cleared, clearErr := o.clear(ctx, plan)
		summary.Cleared = cleared

		if clearErr != nil {
			return o.fail(span, summary, clearErr)
		}
	}

	rec := &recorder{s: summary}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(o.opts.Jobs)

	for idx, rev := range plan.revisions {
		work := &revisionWork{
			o:         o,
			rec:       rec,
			log:       log.With("revision", rev.ID),
			runID:     summary.RunID,
			rev:       rev,
			index:     idx + 1,
			total:     len(plan.revisions),
			benches:   plan.benchmarks,
			provision: req.Provision,
		}

		group.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			return work.process(gctx)
		})
	}

	err = group.Wait()
	if err == nil {
		err = ctx.Err()
	}

	if err != nil {
		return o.fail(span, summary, err)
	}

	result, err := series.Assemble(ctx, o.opts.Store, plan.revisions, summary.Benchmarks)
	if err != nil {
		return o.fail(span, summary, err)
	}

	summary.Result = result
	summary.Missing = result.Missing
	summary.Finished = time.Now()

	log.InfoContext(ctx, "run finished",
		"succeeded", summary.Counts.Succeeded, "failed", summary.Counts.Failed,
		"cached", summary.Counts.Cached, "reconciled", summary.Counts.Reconciled,
		"unprocessable", len(summary.Unprocessable), "missing", len(summary.Missing))

	return summary, nil
}

func (o *Orchestrator) fail(span trace.Span, summary *Summary, err error) (*Summary, error) {
	summary.Finished = time.Now()

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return summary, err
}

type plan struct {
	revisions  []revision.Revision
	benchmarks []bench.Benchmark
	unknown    []string
}

// plan performs every configuration check.
func (o *Orchestrator) plan(ctx context.Context, req Request) (*plan, error) {
	if req.Count <= 0 {
		return nil, configErr(ErrInvalidCount, "%d", req.Count)
	}

	if o.opts.Revisions == nil {
		return nil, configErr(ErrInvalidRepository, "")
	}

	all, err := bench.Discover(o.opts.BenchDir, o.cacheDirName()...)
	if errors.Is(err, bench.ErrNoBenchmarkDir) {
		return nil, configErr(ErrNoBenchmarkDir, "%s", o.opts.BenchDir)
	}

	if err != nil {
		return nil, configErr(ErrNoBenchmarks, "%w", err)
	}

	if len(all) == 0 {
		return nil, configErr(ErrNoBenchmarks, "%s", o.opts.BenchDir)
	}

	selected, unknown := bench.Select(all, req.Benchmarks)

	for _, name := range unknown {
		o.opts.Logger.WarnContext(ctx, "unknown benchmark skipped", "benchmark", name)
		o.opts.Reporter.Event(Event{Kind: EventUnknownBenchmark, Benchmark: name})
	}

	if len(selected) == 0 {
		return nil, configErr(ErrEmptySelection, "%s", strings.Join(req.Benchmarks, ", "))
	}

	revs, err := o.opts.Revisions.Window(ctx, req.Count)
	if err != nil {
		return nil, configErr(ErrInvalidRepository, "%w", err)
	}

	return &plan{revisions: revs, benchmarks: selected, unknown: unknown}, nil
}

// cacheDirName returns the cache root's name when it lives directly in the
// benchmark directory.
func (o *Orchestrator) cacheDirName() []string {
	if o.opts.CacheDir == "" {
		return nil
	}

	if filepath.Clean(filepath.Dir(o.opts.CacheDir)) != filepath.Clean(o.opts.BenchDir) {
		return nil
	}

	return []string{filepath.Base(o.opts.CacheDir)}
}

func (o *Orchestrator) reconcileSnapshots(ctx context.Context, log *slog.Logger) {
	reconciler, ok := o.opts.Snapshots.(snapshot.Reconciler)
	if !ok {
		return
	}

	err := reconciler.Reconcile(ctx)
	if err != nil {
		log.WarnContext(ctx, "reconcile leaked snapshots", "error", err)
	}
}

func (o *Orchestrator) clear(ctx context.Context, p *plan) (int, error) {
	cleared := 0

	for _, rev := range p.revisions {
		for _, b := range p.benchmarks {
			key := resultcache.Key{Revision: rev.ID, Benchmark: b.Name}

			has, err := o.opts.Store.Has(ctx, key)
			if err != nil {
				return cleared, fmt.Errorf("clear cache: %w", err)
			}

			if !has {
				continue
			}

			err = o.opts.Store.Clear(ctx, key)
			if err != nil {
				return cleared, fmt.Errorf("clear cache: %w", err)
			}

			cleared++
		}
	}

	o.opts.Logger.InfoContext(ctx, "cache cleared", "entries", cleared)

	return cleared, nil
}
