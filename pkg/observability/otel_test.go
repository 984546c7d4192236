package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, NewLogger(InfoLevel, &bytes.Buffer{}))
	assert.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, ShutdownTracing(context.Background(), nil, NewLogger(InfoLevel, &bytes.Buffer{})))
}

// OTLP exporters connect lazily, so an unreachable collector does not fail
// initialization.
func TestInitTracing_Enabled(t *testing.T) {
	previous := otel.GetTracerProvider()
	defer otel.SetTracerProvider(previous)

	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	tp, err := InitTracing(context.Background(), TracingConfig{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "registrygate-test",
		ServiceVersion: "test",
		Insecure:       true,
		SampleRatio:    0.5,
	}, logger)
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Same(t, tp, otel.GetTracerProvider())
	assert.Contains(t, buf.String(), "OpenTelemetry tracing initialized")

	assert.NoError(t, ShutdownTracing(context.Background(), tp, logger))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	t.Run("no span", func(t *testing.T) {
		logger := NewLogger(InfoLevel, &bytes.Buffer{})
		assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))
	})

	t.Run("recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		ctx, span := tp.Tracer("test").Start(context.Background(), "evaluate")
		defer span.End()

		var buf bytes.Buffer
		UpdateLoggerWithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("traced")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})

	t.Run("non-recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		ctx, span := tp.Tracer("test").Start(context.Background(), "evaluate")
		defer span.End()

		logger := NewLogger(InfoLevel, &bytes.Buffer{})
		assert.Same(t, logger, UpdateLoggerWithTraceContext(ctx, logger))
	})
}
