package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider is the global tracer provider of a sieve process. Close
// flushes the spans of the searches still buffered.
type TracerProvider interface {
	trace.TracerProvider

	Close(context.Context) error
	RegisterSpanProcessor(sdktrace.SpanProcessor)
}

type tracerProvider struct {
	embedded.TracerProvider

	tp *sdktrace.TracerProvider
}

func (t *tracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return t.tp.Tracer(name, options...)
}

// Close is idempotent.
func (t *tracerProvider) Close(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	if err := t.tp.ForceFlush(ctx); err != nil {
		return err
	}
	if err := t.tp.Shutdown(ctx); err != nil {
		return err
	}
	t.tp = nil
	return nil
}

func (t *tracerProvider) RegisterSpanProcessor(spanProcessor sdktrace.SpanProcessor) {
	t.tp.RegisterSpanProcessor(spanProcessor)
}

type noopTracerProvider struct {
	noop.TracerProvider
}

func (noopTracerProvider) Close(context.Context) error { return nil }

func (noopTracerProvider) RegisterSpanProcessor(sdktrace.SpanProcessor) {}

// Noop returns a TracerProvider whose spans are never recorded.
func Noop() TracerProvider {
	return noopTracerProvider{TracerProvider: noop.NewTracerProvider()}
}

// SetNoop installs Noop as the global tracer provider, for processes running
// with tracing disabled.
func SetNoop() TracerProvider {
	tp := Noop()
	otel.SetTracerProvider(tp)
	return tp
}
