// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("outcome", "not_found").Info("access decision")
//
// FromContext attaches request_id, principal and, when a span is recording,
// trace_id and span_id.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("forbidden", "write", "user", elapsed)
//
// All metric names start with registrygate_.
//
// # Health
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("store", true, store.HealthCheck)
//	checker.AddCheck("redis", false, cache.HealthCheck)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Tracing
//
// InitTracing installs an OTLP/gRPC tracer provider globally. Tracer returns
// the module tracer; without InitTracing its spans are no-ops.
package observability
