// Package observability exposes admission metrics through OpenTelemetry
// with a Prometheus exporter. Instruments degrade to no-ops when metrics
// are disabled, so call sites never branch on configuration.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records admission outcomes. The zero value is a no-op.
type Metrics struct {
	decisionsTotal metric.Int64Counter
	degradedTotal  metric.Int64Counter
	throttledTotal metric.Int64Counter
	storeDuration  metric.Float64Histogram
}

// InitMetrics wires the admission instruments to a Prometheus exporter
// registered on the default registry. When disabled it returns a no-op
// Metrics.
func InitMetrics(ctx context.Context, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("gatewarden")

	decisionsTotal, err := meter.Int64Counter(
		"gatewarden_admission_decisions_total",
		metric.WithDescription("Admission decisions by outcome and tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	degradedTotal, err := meter.Int64Counter(
		"gatewarden_degraded_admissions_total",
		metric.WithDescription("Admissions granted while the quota store was unreachable"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create degraded counter: %w", err)
	}

	throttledTotal, err := meter.Int64Counter(
		"gatewarden_throttled_total",
		metric.WithDescription("Rejections due to exhausted quota, by tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create throttled counter: %w", err)
	}

	storeDuration, err := meter.Float64Histogram(
		"gatewarden_store_roundtrip_seconds",
		metric.WithDescription("Quota store round-trip duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	return &Metrics{
		decisionsTotal: decisionsTotal,
		degradedTotal:  degradedTotal,
		throttledTotal: throttledTotal,
		storeDuration:  storeDuration,
	}, nil
}

// RecordDecision counts one admission decision.
func (m *Metrics) RecordDecision(ctx context.Context, outcome, tier string) {
	if m == nil || m.decisionsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
		attribute.String("tier", tier),
	}
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if outcome == "rate_limited" && m.throttledTotal != nil {
		m.throttledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
}

// RecordDegraded counts one admission granted without a quota verdict.
func (m *Metrics) RecordDegraded(ctx context.Context) {
	if m == nil || m.degradedTotal == nil {
		return
	}
	m.degradedTotal.Add(ctx, 1)
}

// RecordStoreRoundTrip observes one quota store call.
func (m *Metrics) RecordStoreRoundTrip(ctx context.Context, duration time.Duration, err error) {
	if m == nil || m.storeDuration == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.storeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}
