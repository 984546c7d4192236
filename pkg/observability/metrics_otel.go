package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the decision and cache metrics as OpenTelemetry
// instruments, for deployments that push to a collector instead of being
// scraped
type OTelMetrics struct {
	decisionsTotal   metric.Int64Counter
	decisionDuration metric.Float64Histogram
	cacheLookups     metric.Int64Counter
	packageBytes     metric.Int64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"access.decisions",
		metric.WithDescription("Total number of access decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access.decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"access.decision.duration",
		metric.WithDescription("Access decision latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access.decision.duration histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Store cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.lookups counter: %w", err)
	}

	m.packageBytes, err = meter.Int64Histogram(
		"packages.transfer.size",
		metric.WithDescription("Package file bytes uploaded or downloaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create packages.transfer.size histogram: %w", err)
	}

	return m, nil
}

// RecordDecision records one access decision
func (m *OTelMetrics) RecordDecision(ctx context.Context, outcome, action, principalKind string, elapsed time.Duration) {
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("access.outcome", outcome),
		attribute.String("access.action", action),
		attribute.String("access.principal_kind", principalKind),
	))
	m.decisionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("access.action", action),
	))
}

// RecordCacheLookup records a cache hit or miss
func (m *OTelMetrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.type", cache),
		attribute.Bool("cache.hit", hit),
	))
}

// RecordPackageTransfer records the size of an uploaded or downloaded file
func (m *OTelMetrics) RecordPackageTransfer(ctx context.Context, direction, packageType string, bytes int64) {
	m.packageBytes.Record(ctx, bytes, metric.WithAttributes(
		attribute.String("packages.direction", direction),
		attribute.String("packages.type", packageType),
	))
}
