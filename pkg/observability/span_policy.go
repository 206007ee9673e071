package observability

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// SpanCacheLookup is the per-key cache membership span. Exported runs drop
// it unless TraceVerbose is set.
const SpanCacheLookup = "benchtrail.cache.lookup"

// exportedPrefixes are the attribute key prefixes allowed to leave the
// process.
var exportedPrefixes = []string{"benchtrail.", "error", "http.", "mcp.", "cache."}

// redacted keys never leave the process. Benchmark output and environment
// variables may carry secrets.
var redacted = map[string]bool{
	"benchtrail.output": true,
	"benchtrail.env":    true,
}

func exportable(key string) bool {
	if redacted[key] {
		return false
	}

	for _, prefix := range exportedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

// NewAttributeFilter wraps delegate so ended spans carry only exportable
// attributes. With a logger, every dropped key is logged at warn level.
func NewAttributeFilter(delegate sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &redactingProcessor{SpanProcessor: delegate, logger: logger}
}

type redactingProcessor struct {
	sdktrace.SpanProcessor

	logger *slog.Logger
}

func (p *redactingProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.SpanProcessor.OnEnd(redactedSpan{ReadOnlySpan: s, keep: p.keep})
}

func (p *redactingProcessor) keep(key string) bool {
	ok := exportable(key)
	if !ok && p.logger != nil {
		p.logger.Warn("span attribute dropped", "key", key)
	}

	return ok
}

type redactedSpan struct {
	sdktrace.ReadOnlySpan

	keep func(key string) bool
}

func (s redactedSpan) Attributes() []attribute.KeyValue {
	all := s.ReadOnlySpan.Attributes()
	kept := make([]attribute.KeyValue, 0, len(all))

	for _, kv := range all {
		if s.keep(string(kv.Key)) {
			kept = append(kept, kv)
		}
	}

	return kept
}

// NewFilteringTracerProvider wraps delegate so hot-path spans such as
// SpanCacheLookup start as no-ops.
func NewFilteringTracerProvider(delegate trace.TracerProvider) trace.TracerProvider {
	return quietProvider{TracerProvider: delegate, quiet: map[string]bool{SpanCacheLookup: true}}
}

type quietProvider struct {
	trace.TracerProvider

	quiet map[string]bool
}

func (p quietProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return quietTracer{Tracer: p.TracerProvider.Tracer(name, opts...), quiet: p.quiet}
}

type quietTracer struct {
	trace.Tracer

	quiet map[string]bool
}

func (t quietTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t.quiet[name] {
		return nooptrace.Tracer{}.Start(ctx, name, opts...)
	}

	return t.Tracer.Start(ctx, name, opts...)
}
