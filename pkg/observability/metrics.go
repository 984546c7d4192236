package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Access decision metrics
	AccessDecisionsTotal   *prometheus.CounterVec
	AccessDecisionDuration *prometheus.HistogramVec
	AccessDecisionErrors   *prometheus.CounterVec

	// Cache metrics
	CacheLookupsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge

	// Package metrics
	PackageTransferBytes *prometheus.HistogramVec

	// Maintenance metrics
	TokensPurgedTotal prometheus.Counter

	otel *OTelMetrics
}

// AttachOTel also forwards decisions, cache lookups and package transfers
// to o
func (m *Metrics) AttachOTel(o *OTelMetrics) {
	m.otel = o
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrygate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrygate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrygate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrygate_access_decisions_total",
				Help: "Total number of access decisions by outcome",
			},
			[]string{"outcome", "action", "principal_kind"},
		),
		AccessDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrygate_access_decision_duration_seconds",
				Help:    "Access decision evaluation time in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"action"},
		),
		AccessDecisionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrygate_access_decision_errors_total",
				Help: "Access evaluations aborted by a store failure",
			},
			[]string{"action"},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrygate_store_cache_lookups_total",
				Help: "Store cache lookups by result",
			},
			[]string{"cache", "result"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registrygate_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registrygate_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registrygate_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registrygate_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),

		PackageTransferBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrygate_package_transfer_bytes",
				Help:    "Package file bytes uploaded or downloaded",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"direction", "package_type"},
		),

		TokensPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registrygate_tokens_purged_total",
			Help: "Expired tokens deleted by maintenance",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AccessDecisionsTotal,
		m.AccessDecisionDuration,
		m.AccessDecisionErrors,
		m.CacheLookupsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
		m.PackageTransferBytes,
		m.TokensPurgedTotal,
	)

	return m
}

// ObserveDecision records one access decision
func (m *Metrics) ObserveDecision(outcome, action, principalKind string, elapsed time.Duration) {
	m.AccessDecisionsTotal.WithLabelValues(outcome, action, principalKind).Inc()
	m.AccessDecisionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
	if m.otel != nil {
		m.otel.RecordDecision(context.Background(), outcome, action, principalKind, elapsed)
	}
}

// ObserveCacheLookup records a store cache hit or miss
func (m *Metrics) ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
	if m.otel != nil {
		m.otel.RecordCacheLookup(context.Background(), cache, hit)
	}
}

// ObservePackageTransfer records a package file upload or download
func (m *Metrics) ObservePackageTransfer(ctx context.Context, direction, packageType string, bytes int64) {
	m.PackageTransferBytes.WithLabelValues(direction, packageType).Observe(float64(bytes))
	if m.otel != nil {
		m.otel.RecordPackageTransfer(ctx, direction, packageType, bytes)
	}
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// RouteFunc returns the low-cardinality route label of a request
type RouteFunc func(r *http.Request) string

// HTTPMetricsMiddleware instruments HTTP requests. A nil route uses the URL
// path, which is only suitable for fixed paths.
func HTTPMetricsMiddleware(metrics *Metrics, route RouteFunc) func(http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			label := route(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, label).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
