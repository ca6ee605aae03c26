package telemetry

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMinLatency = time.Second

type slowSearchSpanExporter struct {
	wrappedExporter sdktrace.SpanExporter

	minLatency time.Duration
}

type SlowSearchSpanExporterOption func(e *slowSearchSpanExporter)

func WithMinLatency(latency time.Duration) SlowSearchSpanExporterOption {
	return func(e *slowSearchSpanExporter) {
		e.minLatency = latency
	}
}

var _ sdktrace.SpanExporter = (*slowSearchSpanExporter)(nil)

// NewSlowSearchSpanExporter returns a SpanExporter forwarding to exporter only
// the spans of traces whose root span lasted at least the minimum latency.
// Spans of a trace whose root is not part of the batch are dropped.
//
// A nil exporter drops everything.
func NewSlowSearchSpanExporter(exporter sdktrace.SpanExporter, options ...SlowSearchSpanExporterOption) sdktrace.SpanExporter {
	e := &slowSearchSpanExporter{
		wrappedExporter: exporter,
		minLatency:      DefaultMinLatency,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *slowSearchSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.wrappedExporter == nil {
		return nil
	}

	slowTraces := make(map[trace.TraceID]struct{})
	for _, span := range spans {
		if span.Parent().IsValid() {
			continue
		}
		if span.EndTime().Sub(span.StartTime()) >= e.minLatency {
			slowTraces[span.SpanContext().TraceID()] = struct{}{}
		}
	}
	if len(slowTraces) == 0 {
		return nil
	}

	selected := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, span := range spans {
		if _, ok := slowTraces[span.SpanContext().TraceID()]; ok {
			selected = append(selected, span)
		}
	}

	return e.wrappedExporter.ExportSpans(ctx, selected)
}

func (e *slowSearchSpanExporter) Shutdown(ctx context.Context) error {
	if e.wrappedExporter == nil {
		return nil
	}
	return e.wrappedExporter.Shutdown(ctx)
}
