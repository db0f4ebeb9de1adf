// Package telemetry sets up OpenTelemetry tracing for outgoing backend calls.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.uber.org/zap"
)

// Options configures NewTracerProvider.
type Options struct {
	ServiceName string
	// SampleRatio is the share of root spans kept, in [0, 1].
	SampleRatio float64
	Logger      *zap.Logger
	// Exporter replaces the zap span exporter.
	Exporter sdktrace.SpanExporter
}

// NewTracerProvider builds a provider that batches finished spans into the
// exporter and installs it, plus the W3C propagators, as the otel globals.
// Callers must Shutdown the provider to flush pending spans.
func NewTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "mapcompute"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(opts.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	exporter := opts.Exporter
	if exporter == nil {
		exporter = NewLogExporter(opts.Logger)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return tp, nil
}
