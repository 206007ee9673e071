package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runner"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

// revisionWork processes one revision through its states.
type revisionWork struct {
	o         *Orchestrator
	rec       *recorder
	log       *slog.Logger
	runID     string
	rev       revision.Revision
	index     int
	total     int
	benches   []bench.Benchmark
	provision bool

	state State
}

func (w *revisionWork) to(next State) {
	w.o.opts.Reporter.Transition(w.rev, w.state, next)
	w.state = next
}

func (w *revisionWork) event(ev Event) {
	ev.Revision = w.rev
	ev.Index = w.index
	ev.Total = w.total
	w.o.opts.Reporter.Event(ev)
}

func (w *revisionWork) key(b bench.Benchmark) resultcache.Key {
	return resultcache.Key{Revision: w.rev.ID, Benchmark: b.Name}
}

// process returns an error only when the whole run must stop.
func (w *revisionWork) process(ctx context.Context) error {
	ctx, span := w.o.opts.Tracer.Start(ctx, spanRevision, trace.WithAttributes(
		attribute.String(attrRevision, w.rev.ID),
	))
	defer span.End()

	w.state = StatePending
	w.event(Event{Kind: EventRevisionStarted})

	pending, err := w.pending(ctx)
	if err != nil {
		return w.abort(span, err)
	}

	if len(pending) == 0 {
		w.to(StateCollected)
		w.to(StateTornDown)
		w.rec.update(func(s *Summary) { s.Skipped = append(s.Skipped, w.rev.ID) })
		w.event(Event{Kind: EventRevisionSkipped})
		w.o.opts.Metrics.RecordRevision(ctx, outcomeSkipped)
		span.SetAttributes(attribute.String(attrOutcome, outcomeSkipped))
		w.log.DebugContext(ctx, "revision fully cached")

		return nil
	}

	snap, err := w.acquire(ctx)
	if err != nil {
		if snapshot.Fatal(err) || ctx.Err() != nil {
			w.to(StateTornDown)

			return w.abort(span, err)
		}

		w.to(StateTornDown)

		return w.unprocessable(ctx, span, err)
	}

	defer w.teardown(ctx, snap)

	err = w.stage(snap)
	if err != nil {
		return w.unprocessable(ctx, span, err)
	}

	env := w.provisionEnv(ctx, snap)

	w.to(StateRunning)

	err = w.runAll(ctx, snap, env, pending)
	if err != nil {
		return w.abort(span, err)
	}

	w.to(StateCollected)

	err = w.reconcile(ctx, pending, "benchmark produced no cache entry")
	if err != nil {
		return w.abort(span, err)
	}

	w.o.opts.Metrics.RecordRevision(ctx, outcomeProcessed)
	span.SetAttributes(attribute.String(attrOutcome, outcomeProcessed))

	return nil
}

func (w *revisionWork) abort(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}

// pending returns the benchmarks without an entry and counts the others as
// cached.
func (w *revisionWork) pending(ctx context.Context) ([]bench.Benchmark, error) {
	var pending []bench.Benchmark

	for _, b := range w.benches {
		lookupCtx, span := w.o.opts.Tracer.Start(ctx, observability.SpanCacheLookup,
			trace.WithAttributes(attribute.String(attrBenchmark, b.Name)))

		has, err := w.o.opts.Store.Has(lookupCtx, w.key(b))

		span.End()

		if err != nil {
			return nil, fmt.Errorf("cache lookup %s: %w", w.key(b), err)
		}

		if has {
			w.event(Event{Kind: EventBenchmarkCached, Benchmark: b.Name})

			continue
		}

		pending = append(pending, b)
	}

	cached := len(w.benches) - len(pending)
	w.rec.update(func(s *Summary) { s.Counts.Cached += cached })
	w.o.opts.Metrics.RecordCacheLookups(ctx, cached, len(pending))

	return pending, nil
}

func (w *revisionWork) acquire(ctx context.Context) (*snapshot.Snapshot, error) {
	start := time.Now()

	snap, err := w.o.opts.Snapshots.Acquire(ctx, w.rev)
	if err != nil {
		return nil, err
	}

	w.o.opts.Metrics.RecordSnapshot(ctx, time.Since(start))
	w.to(StateSnapshotReady)

	return snap, nil
}

// unprocessable records a revision that could not be prepared and fills its
// keys with markers.
func (w *revisionWork) unprocessable(ctx context.Context, span trace.Span, cause error) error {
	w.log.WarnContext(ctx, "revision unprocessable", "error", cause)
	w.rec.update(func(s *Summary) {
		s.Unprocessable = append(s.Unprocessable, RevisionError{Revision: w.rev, Error: cause.Error()})
	})
	w.event(Event{Kind: EventUnprocessable, Err: cause})
	w.o.opts.Metrics.RecordRevision(ctx, outcomeUnprocessable)
	span.SetAttributes(attribute.String(attrOutcome, outcomeUnprocessable))

	err := w.reconcile(ctx, w.benches, "revision unprocessable: "+cause.Error())
	if err != nil {
		return w.abort(span, err)
	}

	return nil
}

// stage copies the live benchmark code into the snapshot when the latest
// source is selected.
func (w *revisionWork) stage(snap *snapshot.Snapshot) error {
	if w.o.opts.BenchSource != bench.SourceLatest {
		return nil
	}

	dst := filepath.Join(snap.Dir, w.o.opts.BenchRel)

	err := bench.Stage(w.o.opts.BenchDir, dst, w.o.cacheDirName()...)
	if err != nil {
		return fmt.Errorf("stage benchmarks: %w", err)
	}

	return nil
}

// provisionEnv returns nil when provisioning was not requested or failed.
func (w *revisionWork) provisionEnv(ctx context.Context, snap *snapshot.Snapshot) *provision.Environment {
	if !w.provision {
		return nil
	}

	w.to(StateProvisioning)

	env, err := w.o.opts.Provisioner.Provision(ctx, snap)
	if err != nil {
		w.degraded(ctx, err)

		return nil
	}

	report, err := w.o.opts.Provisioner.Install(ctx, env, w.o.opts.Sources...)
	if err != nil {
		w.degraded(ctx, err)
	}

	if report != nil {
		for _, step := range report.Steps {
			w.log.DebugContext(ctx, "install step", "source", step.Source, "output", step.Output)
		}
	}

	return env
}

func (w *revisionWork) degraded(ctx context.Context, err error) {
	w.log.WarnContext(ctx, "provisioning failed, continuing without a working environment", "error", err)
	w.rec.update(func(s *Summary) {
		s.Degraded = append(s.Degraded, RevisionError{Revision: w.rev, Error: err.Error()})
	})
	w.event(Event{Kind: EventProvisionFailed, Err: err})
}

// runAll executes every pending benchmark. It stops early only on
// cancellation or a result store failure.
func (w *revisionWork) runAll(ctx context.Context, snap *snapshot.Snapshot, env *provision.Environment, pending []bench.Benchmark) error {
	for _, b := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.runOne(ctx, snap, env, b)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *revisionWork) runOne(ctx context.Context, snap *snapshot.Snapshot, env *provision.Environment, b bench.Benchmark) error {
	ctx, span := w.o.opts.Tracer.Start(ctx, spanBenchmark, trace.WithAttributes(
		attribute.String(attrRevision, w.rev.ID),
		attribute.String(attrBenchmark, b.Name),
	))
	defer span.End()

	log := w.log.With("benchmark", b.Name)

	w.event(Event{Kind: EventBenchmarkStarted, Benchmark: b.Name})

	outcome := w.o.opts.Runner.Run(ctx, b, snap, env)

	if outcome.Canceled() {
		log.InfoContext(ctx, "benchmark canceled, no entry written")

		return ctx.Err()
	}

	w.event(Event{Kind: EventBenchmarkFinished, Benchmark: b.Name, Outcome: &outcome})

	kind := ""
	if outcome.Failure != nil {
		kind = string(outcome.Failure.Kind)
	}

	w.o.opts.Metrics.RecordBenchmark(ctx, string(outcome.Status), kind, outcome.Duration)
	span.SetAttributes(attribute.String(attrOutcome, string(outcome.Status)), attribute.String(attrKind, kind))

	if outcome.OK() {
		w.rec.update(func(s *Summary) { s.Counts.Succeeded++ })
		log.InfoContext(ctx, "benchmark succeeded", "duration", outcome.Duration)
	} else {
		w.rec.update(func(s *Summary) { s.Counts.Failed++ })
		log.WarnContext(ctx, "benchmark failed", "kind", kind, "error", outcome.Failure)
		span.SetStatus(codes.Error, kind)
	}

	_, err := w.write(ctx, log, w.entry(b, outcome))

	return err
}

func (w *revisionWork) entry(b bench.Benchmark, outcome runner.Outcome) *resultcache.Entry {
	var entry *resultcache.Entry

	if outcome.OK() {
		entry = resultcache.Success(w.key(b), outcome.Result)
	} else {
		entry = resultcache.Failed(w.key(b), failureOf(outcome.Failure))
	}

	entry.RunID = w.runID
	entry.Duration = outcome.Duration

	return entry
}

func failureOf(e *runner.ExecutionError) resultcache.Failure {
	if e == nil {
		return resultcache.Failure{Kind: string(runner.KindNoResult), Message: "no failure detail"}
	}

	return resultcache.Failure{
		Kind:     string(e.Kind),
		Message:  e.Error(),
		ExitCode: e.ExitCode,
		Signal:   e.Signal,
		Tail:     e.Tail,
	}
}

// write persists an entry and reports whether it was stored. A duplicate is
// an anomaly, never an overwrite.
func (w *revisionWork) write(ctx context.Context, log *slog.Logger, entry *resultcache.Entry) (bool, error) {
	err := w.o.opts.Store.Write(ctx, entry)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, resultcache.ErrEntryExists) {
		log.ErrorContext(ctx, "cache entry already exists, needs a manual clear", "error", err)
		w.rec.update(func(s *Summary) {
			s.Anomalies = append(s.Anomalies, Anomaly{Key: entry.Key(), Error: err.Error()})
		})
		w.event(Event{Kind: EventAnomaly, Benchmark: entry.Benchmark, Err: err})
		w.o.opts.Metrics.RecordAnomaly(ctx)

		return false, nil
	}

	return false, fmt.Errorf("write %s: %w", entry.Key(), err)
}

// reconcile fills every still-missing key with a no-result marker.
func (w *revisionWork) reconcile(ctx context.Context, benches []bench.Benchmark, reason string) error {
	for _, b := range benches {
		key := w.key(b)

		has, err := w.o.opts.Store.Has(ctx, key)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", key, err)
		}

		if has {
			continue
		}

		entry := resultcache.Failed(key, resultcache.Failure{Kind: string(runner.KindNoResult), Message: reason})
		entry.RunID = w.runID

		log := w.log.With("benchmark", b.Name)

		written, writeErr := w.write(ctx, log, entry)
		if writeErr != nil {
			return writeErr
		}

		if !written {
			continue
		}

		log.InfoContext(ctx, "missing entry reconciled", "reason", reason)
		w.rec.update(func(s *Summary) { s.Counts.Reconciled++ })
		w.event(Event{Kind: EventReconciled, Benchmark: b.Name})
	}

	return nil
}

// teardown releases the snapshot even when ctx is canceled.
func (w *revisionWork) teardown(ctx context.Context, snap *snapshot.Snapshot) {
	err := w.o.opts.Snapshots.Release(context.WithoutCancel(ctx), snap)
	if err != nil {
		w.log.WarnContext(ctx, "release snapshot", "error", err)
	}

	w.to(StateTornDown)
}
