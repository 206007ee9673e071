package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRevisionsTotal    = "benchtrail.revisions.total"
	metricBenchmarksTotal   = "benchtrail.benchmarks.total"
	metricBenchmarkDuration = "benchtrail.benchmark.duration.seconds"
	metricSnapshotDuration  = "benchtrail.snapshot.duration.seconds"
	metricCacheLookupsTotal = "benchtrail.cache.lookups.total"
	metricCacheAnomalies    = "benchtrail.cache.anomalies.total"

	attrOutcome = "outcome"
	attrKind    = "kind"
	attrHit     = "hit"
)

// RunMetrics holds the instruments recorded by the orchestrator.
type RunMetrics struct {
	revisions         metric.Int64Counter
	benchmarks        metric.Int64Counter
	benchmarkDuration metric.Float64Histogram
	snapshotDuration  metric.Float64Histogram
	cacheLookups      metric.Int64Counter
	anomalies         metric.Int64Counter
}

// NewRunMetrics creates the run instruments from mt.
func NewRunMetrics(mt metric.Meter) (*RunMetrics, error) {
	in := &instruments{meter: mt}

	rm := &RunMetrics{
		revisions:         in.counter(metricRevisionsTotal, "Revisions processed by outcome", "{revision}"),
		benchmarks:        in.counter(metricBenchmarksTotal, "Benchmark executions by outcome and failure kind", "{execution}"),
		benchmarkDuration: in.seconds(metricBenchmarkDuration, "Wall time of one benchmark process"),
		snapshotDuration:  in.seconds(metricSnapshotDuration, "Time to materialize a snapshot"),
		cacheLookups:      in.counter(metricCacheLookupsTotal, "Cache membership checks", "{lookup}"),
		anomalies:         in.counter(metricCacheAnomalies, "Rejected duplicate cache writes", "{write}"),
	}

	err := in.err()
	if err != nil {
		return nil, err
	}

	return rm, nil
}

// RecordRevision counts one revision reaching its terminal state with the
// given outcome (processed, skipped, unprocessable). Nil-safe.
func (rm *RunMetrics) RecordRevision(ctx context.Context, outcome string) {
	if rm == nil {
		return
	}

	rm.revisions.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordBenchmark counts one executed benchmark. kind is empty on success.
// Nil-safe.
func (rm *RunMetrics) RecordBenchmark(ctx context.Context, outcome, kind string, duration time.Duration) {
	if rm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOutcome, outcome),
		attribute.String(attrKind, kind),
	)

	rm.benchmarks.Add(ctx, 1, attrs)
	rm.benchmarkDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSnapshot records the time spent acquiring a snapshot. Nil-safe.
func (rm *RunMetrics) RecordSnapshot(ctx context.Context, duration time.Duration) {
	if rm == nil {
		return
	}

	rm.snapshotDuration.Record(ctx, duration.Seconds())
}

// RecordCacheLookups counts hits and misses of a membership pass. Nil-safe.
func (rm *RunMetrics) RecordCacheLookups(ctx context.Context, hits, misses int) {
	if rm == nil {
		return
	}

	rm.cacheLookups.Add(ctx, int64(hits), metric.WithAttributes(attribute.Bool(attrHit, true)))
	rm.cacheLookups.Add(ctx, int64(misses), metric.WithAttributes(attribute.Bool(attrHit, false)))
}

// RecordAnomaly counts one rejected duplicate write. Nil-safe.
func (rm *RunMetrics) RecordAnomaly(ctx context.Context) {
	if rm == nil {
		return
	}

	rm.anomalies.Add(ctx, 1)
}
