package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "benchtrail.requests.total"
	metricRequestDuration  = "benchtrail.request.duration.seconds"
	metricErrorsTotal      = "benchtrail.errors.total"
	metricInflightRequests = "benchtrail.inflight.requests"

	attrOp     = "op"
	attrStatus = "status"

	// StatusOK and StatusError label request outcomes.
	StatusOK    = "ok"
	StatusError = "error"
)

// durationBucketBoundaries covers 10ms to one hour: cache reads at the low
// end, whole benchmark processes at the high end.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

// REDMetrics holds rate, error and duration instruments for request-style
// operations such as MCP tool calls.
type REDMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewREDMetrics creates the instruments from mt.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	in := &instruments{meter: mt}

	rm := &REDMetrics{
		requestsTotal:    in.counter(metricRequestsTotal, "Requests by operation and status", "{request}"),
		requestDuration:  in.seconds(metricRequestDuration, "Request wall time"),
		errorsTotal:      in.counter(metricErrorsTotal, "Failed requests by operation", "{error}"),
		inflightRequests: in.gauge(metricInflightRequests, "Requests currently being served", "{request}"),
	}

	err := in.err()
	if err != nil {
		return nil, err
	}

	return rm, nil
}

// RecordRequest records one completed request. Nil-safe.
func (rm *REDMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	if rm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOp, op)))
	}
}

// TrackInflight increments the in-flight gauge for op and returns the
// matching decrement. Nil-safe.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	if rm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}
