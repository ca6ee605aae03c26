// Package telemetry sets up OpenTelemetry tracing for sieve.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sievesearch/sieve/internal/build"
)

type TracerOption func(d *customTracer)

func WithOTLPEndpoint(endpoint string) TracerOption {
	return func(d *customTracer) {
		d.endpoint = endpoint
	}
}

func WithServiceName(serviceName string) TracerOption {
	return func(d *customTracer) {
		d.serviceName = serviceName
	}
}

func WithSamplingRatio(samplingRatio float64) TracerOption {
	return func(d *customTracer) {
		d.samplingRatio = samplingRatio
	}
}

// WithSlowSearchThreshold only exports the traces whose root span lasted at
// least the given duration. Zero exports everything.
func WithSlowSearchThreshold(threshold time.Duration) TracerOption {
	return func(d *customTracer) {
		d.slowSearchThreshold = threshold
	}
}

type customTracer struct {
	endpoint    string
	serviceName string

	samplingRatio float64

	slowSearchThreshold time.Duration
}

// MustNewTracerProvider returns a TracerProvider exporting spans over OTLP/gRPC
// and installs it as the global provider. It panics if the exporter cannot be
// created.
func MustNewTracerProvider(opts ...TracerOption) TracerProvider {
	tracer := &customTracer{
		endpoint:      "localhost:4317",
		serviceName:   build.ProjectName,
		samplingRatio: 0,
	}

	for _, opt := range opts {
		opt(tracer)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(tracer.serviceName),
			semconv.ServiceVersionKey.String(build.Version),
		))
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var exp sdktrace.SpanExporter
	exp, err = otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tracer.endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to establish a connection with the otlp exporter: %v", err))
	}

	if tracer.slowSearchThreshold > 0 {
		exp = NewSlowSearchSpanExporter(exp, WithMinLatency(tracer.slowSearchThreshold))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tracer.samplingRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp)),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	otel.SetTracerProvider(tp)

	return &tracerProvider{tp: tp}
}

func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
