package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// LogExporter writes finished spans to a zap logger at debug level, or warn
// for spans that ended with an error status.
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter returns an exporter that logs through logger.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		level := zap.DebugLevel
		if span.Status().Code == codes.Error {
			level = zap.WarnLevel
		}
		ce := e.logger.Check(level, "span")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("name", span.Name()),
			zap.Stringer("trace_id", span.SpanContext().TraceID()),
			zap.Stringer("span_id", span.SpanContext().SpanID()),
			zap.Duration("dur", span.EndTime().Sub(span.StartTime())),
		}
		if desc := span.Status().Description; desc != "" {
			fields = append(fields, zap.String("status", desc))
		}
		for _, kv := range span.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		ce.Write(fields...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
