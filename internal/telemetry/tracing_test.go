package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/mapcompute/internal/telemetry"
)

func TestLogExporterWritesSpans(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Options{
		SampleRatio: 1,
		Logger:      zap.New(core),
	})
	require.NoError(t, err)

	tracer := tp.Tracer("test")
	_, ping := tracer.Start(context.Background(), "backend ping")
	ping.SetAttributes(attribute.String("backend.endpoint", "ping"))
	ping.End()

	_, failed := tracer.Start(context.Background(), "backend compute_bundles")
	failed.RecordError(errors.New("boom"))
	failed.SetStatus(codes.Error, "boom")
	failed.End()

	require.NoError(t, tp.Shutdown(context.Background()))

	entries := logs.FilterMessage("span").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "backend ping", entries[0].ContextMap()["name"])
	assert.Equal(t, "ping", entries[0].ContextMap()["backend.endpoint"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["status"])
}

func TestSampleRatioZeroDropsRootSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Options{
		SampleRatio: 0,
		Exporter:    exp,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))
	assert.Empty(t, exp.GetSpans())
	require.NoError(t, tp.Shutdown(context.Background()))
}
