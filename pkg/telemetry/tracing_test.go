package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracing(t *testing.T) {
	tp := MustNewTracerProvider(
		WithServiceName("sieve-test"),
		WithSamplingRatio(1),
	)

	spanRecorder := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(spanRecorder)

	_, span := tp.Tracer("").Start(context.Background(), "test")
	span.End()

	spans := spanRecorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "test", spans[0].Name())
}

func TestTraceError(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))

	_, span := tp.Tracer("").Start(context.Background(), "failing")
	TraceError(span, errors.New("boom"))
	span.End()

	spans := spanRecorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "boom", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestNoop(t *testing.T) {
	tp := Noop()
	_, span := tp.Tracer("").Start(context.Background(), "ignored")
	span.End()

	require.False(t, span.SpanContext().IsValid())
	require.NoError(t, tp.Close(context.Background()))
}

func TestSetNoop(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	tp := SetNoop()
	require.Equal(t, tp, otel.GetTracerProvider())
}

func TestSlowSearchSpanExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(NewSlowSearchSpanExporter(exporter, WithMinLatency(100*time.Millisecond))),
	)
	tracer := tp.Tracer("")
	start := time.Now()

	_, fast := tracer.Start(context.Background(), "fast", trace.WithTimestamp(start))
	fast.End(trace.WithTimestamp(start.Add(10 * time.Millisecond)))

	_, slow := tracer.Start(context.Background(), "slow", trace.WithTimestamp(start))
	slow.End(trace.WithTimestamp(start.Add(time.Second)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "slow", spans[0].Name)
}

func TestSlowSearchSpanExporterNil(t *testing.T) {
	exporter := NewSlowSearchSpanExporter(nil)
	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
	require.NoError(t, exporter.Shutdown(context.Background()))
}
