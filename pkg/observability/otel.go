package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName names the tracer of this module
const InstrumentationName = "github.com/platinummonkey/registrygate"

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRatio    float64 // 0 or >= 1 samples everything
}

// Tracer returns the module tracer from the global provider. Spans are
// no-ops until InitTracing installs an SDK provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// InitTracing installs an OTLP/gRPC tracer provider as the global provider.
// Returns (nil, nil) when tracing is disabled.
func InitTracing(ctx context.Context, cfg TracingConfig, logger *Logger) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		logger.Info("OpenTelemetry tracing is disabled")
		return nil, nil
	}

	logger.Infof("Initializing OpenTelemetry tracing with endpoint: %s", cfg.Endpoint)

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	grpcOpts := dialOptions(cfg)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpcOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry tracing initialized")
	return tp, nil
}

// InitMetrics installs an OTLP/gRPC meter provider as the global provider,
// exporting every 10 seconds. Returns (nil, nil) when disabled.
func InitMetrics(ctx context.Context, cfg TracingConfig, logger *Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(dialCtx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOptions(cfg)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
	)
	otel.SetMeterProvider(mp)

	logger.Info("OpenTelemetry meter provider initialized")
	return mp, nil
}

// ShutdownMetrics flushes and stops the meter provider
func ShutdownMetrics(ctx context.Context, mp *sdkmetric.MeterProvider, logger *Logger) error {
	if mp == nil {
		return nil
	}
	if err := mp.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to shutdown meter provider")
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	return nil
}

func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func dialOptions(cfg TracingConfig) []grpc.DialOption {
	if cfg.Insecure {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// ShutdownTracing flushes and stops the tracer provider
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider, logger *Logger) error {
	if tp == nil {
		return nil
	}

	logger.Info("Shutting down OpenTelemetry tracer provider")
	if err := tp.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to shutdown tracer provider")
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}

// UpdateLoggerWithTraceContext adds trace_id and span_id of a recording span
func UpdateLoggerWithTraceContext(ctx context.Context, logger *Logger) *Logger {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return logger
	}

	spanCtx := span.SpanContext()
	return logger.WithFields(map[string]interface{}{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	})
}
