package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestInit_NoopWithoutExporters(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	_, span := providers.Tracer.Start(context.Background(), "noop")
	span.End()

	require.NoError(t, providers.Shutdown(context.Background()))
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusServesRunMetrics(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true

	providers, err := observability.InitWriter(cfg, io.Discard)
	require.NoError(t, err)
	require.NotNil(t, providers.MetricsHandler)

	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	metrics, err := observability.NewRunMetrics(providers.Meter)
	require.NoError(t, err)

	metrics.RecordBenchmark(context.Background(), "failed", "timeout", 2*time.Second)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "benchtrail_benchmarks")
}

func TestRunMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	metrics, err := observability.NewRunMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRevision(ctx, "processed")
	metrics.RecordRevision(ctx, "skipped")
	metrics.RecordBenchmark(ctx, "ok", "", time.Second)
	metrics.RecordSnapshot(ctx, 300*time.Millisecond)
	metrics.RecordCacheLookups(ctx, 3, 1)
	metrics.RecordAnomaly(ctx)

	rm := collect(t, reader)

	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "benchtrail.revisions.total")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "benchtrail.benchmarks.total")))
	assert.Equal(t, int64(4), sumOf(t, findMetric(rm, "benchtrail.cache.lookups.total")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "benchtrail.cache.anomalies.total")))
	assert.NotNil(t, findMetric(rm, "benchtrail.snapshot.duration.seconds"))
}

func TestRunMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var metrics *observability.RunMetrics

	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordRevision(ctx, "processed")
		metrics.RecordBenchmark(ctx, "ok", "", time.Second)
		metrics.RecordSnapshot(ctx, time.Second)
		metrics.RecordCacheLookups(ctx, 1, 1)
		metrics.RecordAnomaly(ctx)
	})

	var red *observability.REDMetrics

	assert.NotPanics(t, func() {
		red.RecordRequest(ctx, "op", observability.StatusOK, time.Second)
		red.TrackInflight(ctx, "op")()
	})
}

func TestREDMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	done := red.TrackInflight(ctx, "get_series")
	red.RecordRequest(ctx, "get_series", observability.StatusOK, 10*time.Millisecond)
	red.RecordRequest(ctx, "get_series", observability.StatusError, 10*time.Millisecond)
	done()

	rm := collect(t, reader)

	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "benchtrail.requests.total")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "benchtrail.errors.total")))
	assert.Equal(t, int64(0), sumOf(t, findMetric(rm, "benchtrail.inflight.requests")))
}

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewTracingHandler(inner, "benchtrail", observability.ModeCLI))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")

	logger.With("revision", "abc").WithGroup("g").InfoContext(ctx, "hello", "k", "v")
	span.End()

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "benchtrail", record["service"])
	assert.Equal(t, "cli", record["mode"])
	assert.Equal(t, "abc", record["revision"])
	assert.Equal(t, span.SpanContext().TraceID().String(), record["g"].(map[string]any)["trace_id"])
}

func TestTracingHandler_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogLevel = slog.LevelInfo

	observability.NewLogger(&buf, cfg).Info("plain")

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "trace_id")
	assert.Equal(t, "benchtrail", record["service"])
}

func TestLevels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelWarn, observability.LevelFromVerbosity(slog.LevelWarn, 0))
	assert.Equal(t, slog.LevelInfo, observability.LevelFromVerbosity(slog.LevelWarn, 1))
	assert.Equal(t, slog.LevelDebug, observability.LevelFromVerbosity(slog.LevelWarn, 2))
	assert.Equal(t, slog.LevelDebug, observability.LevelFromVerbosity(slog.LevelDebug, 1))

	level, err := observability.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = observability.ParseLevel("loud")
	require.Error(t, err)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage"))
	assert.Equal(t,
		map[string]string{"authorization": "Bearer x", "team": "perf"},
		observability.ParseOTLPHeaders("authorization=Bearer x, team = perf"))
}

func TestAttributeFilter(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()

	var logs bytes.Buffer

	filter := observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter),
		slog.New(slog.NewTextHandler(&logs, nil)))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(filter), sdktrace.WithSampler(sdktrace.AlwaysSample()))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(
		attribute.String("benchtrail.revision", "abc"),
		attribute.String("benchtrail.output", "secret"),
		attribute.String("error.type", "timeout"),
		attribute.String("password", "hunter2"),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	keys := map[string]bool{}
	for _, kv := range spans[0].Attributes {
		keys[string(kv.Key)] = true
	}

	assert.True(t, keys["benchtrail.revision"])
	assert.True(t, keys["error.type"])
	assert.False(t, keys["benchtrail.output"])
	assert.False(t, keys["password"])
	assert.Contains(t, logs.String(), "password")
}

func TestFilteringTracerProvider(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := observability.NewFilteringTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample())))

	tracer := tp.Tracer("test")

	_, kept := tracer.Start(context.Background(), "benchtrail.revision")
	kept.End()

	_, dropped := tracer.Start(context.Background(), observability.SpanCacheLookup)
	dropped.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "benchtrail.revision", spans[0].Name)
}

func TestDiagnosticsServer(t *testing.T) {
	t.Parallel()

	ready := false
	check := func(context.Context) error {
		if !ready {
			return errors.New("warming up")
		}

		return nil
	}

	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write([]byte("benchtrail_up 1\n"))
	})

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", nooptrace.NewTracerProvider().Tracer("t"),
		metrics, slog.New(slog.NewTextHandler(io.Discard, nil)), check)
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.Close(context.Background()) })

	get := func(path string) (int, string) {
		resp, getErr := http.Get("http://" + srv.Addr() + path) //nolint:noctx
		require.NoError(t, getErr)

		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		require.NoError(t, readErr)

		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "benchtrail_up")
}

func TestTraceRoute(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))

	failing := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	})
	silent := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	for route, handler := range map[string]http.Handler{"/readyz": failing, "/healthz": silent} {
		rec := httptest.NewRecorder()
		observability.TraceRoute(tp.Tracer("test"), route, handler).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, route, nil))
	}

	byName := map[string]tracetest.SpanStub{}
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s
	}

	require.Len(t, byName, 2)
	assert.Equal(t, "Error", byName["GET /readyz"].Status.Code.String())
	assert.Equal(t, "Unset", byName["GET /healthz"].Status.Code.String())

	var status int64

	for _, kv := range byName["GET /healthz"].Attributes {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}

	assert.Equal(t, int64(http.StatusOK), status)
}
