package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the engine's OTEL instruments
type Metrics struct {
	// Counters
	AllocatedRecords  metric.Int64Counter
	PolicyEvaluations metric.Int64Counter
	PolicyErrors      metric.Int64Counter
	Notifications     metric.Int64Counter
	GovernanceEvents  metric.Int64Counter
	ReportsGenerated  metric.Int64Counter
	StorageOperations metric.Int64Counter

	// Histograms
	PassDuration metric.Float64Histogram
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
// Instruments created before InitOTEL delegate once a provider is installed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(InstrumentationName))
		if err != nil {
			m = NoopMetrics()
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// NoopMetrics returns instruments that record nothing
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

// NewMetrics creates all instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}
	if err := m.initHistograms(meter); err != nil {
		return nil, err
	}
	return m, nil
}

// initCounters initializes counter metrics
func (m *Metrics) initCounters(meter metric.Meter) error {
	var err error

	m.AllocatedRecords, err = meter.Int64Counter(
		"allot.allocation.records.total",
		metric.WithDescription("Cost records processed by the allocation engine"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return err
	}

	m.PolicyEvaluations, err = meter.Int64Counter(
		"allot.policy.evaluations.total",
		metric.WithDescription("Governance policies evaluated"),
		metric.WithUnit("{policy}"),
	)
	if err != nil {
		return err
	}

	m.PolicyErrors, err = meter.Int64Counter(
		"allot.policy.errors.total",
		metric.WithDescription("Governance policies that failed during evaluation"),
		metric.WithUnit("{policy}"),
	)
	if err != nil {
		return err
	}

	m.Notifications, err = meter.Int64Counter(
		"allot.notifications.total",
		metric.WithDescription("Outbound enforcement notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return err
	}

	m.GovernanceEvents, err = meter.Int64Counter(
		"allot.governance.events.total",
		metric.WithDescription("Governance events appended"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	m.ReportsGenerated, err = meter.Int64Counter(
		"allot.reports.generated.total",
		metric.WithDescription("Chargeback reports generated"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return err
	}

	m.StorageOperations, err = meter.Int64Counter(
		"allot.storage.operations.total",
		metric.WithDescription("Storage operations"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// initHistograms initializes histogram metrics
func (m *Metrics) initHistograms(meter metric.Meter) error {
	var err error

	m.PassDuration, err = meter.Float64Histogram(
		"allot.pass.duration.seconds",
		metric.WithDescription("Duration of allocation, enforcement and aggregation passes"),
		metric.WithUnit("s"),
	)
	return err
}

// RecordAllocation records the outcome counts of one allocation pass
func (m *Metrics) RecordAllocation(ctx context.Context, assigned, unassigned, skipped int) {
	for outcome, n := range map[string]int{"assigned": assigned, "unassigned": unassigned, "skipped": skipped} {
		if n == 0 {
			continue
		}
		m.AllocatedRecords.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordPolicyEvaluation records one evaluated policy
func (m *Metrics) RecordPolicyEvaluation(ctx context.Context, policyType string, enforced bool) {
	m.PolicyEvaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy.type", policyType),
		attribute.Bool("enforced", enforced),
	))
}

// RecordPolicyError records a policy whose evaluation failed
func (m *Metrics) RecordPolicyError(ctx context.Context, policyType string) {
	m.PolicyErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("policy.type", policyType)))
}

// RecordNotification records a delivery attempt
func (m *Metrics) RecordNotification(ctx context.Context, channel, status string) {
	m.Notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}

// RecordGovernanceEvent records an appended event
func (m *Metrics) RecordGovernanceEvent(ctx context.Context, eventType string) {
	m.GovernanceEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", eventType)))
}

// RecordReport records a generated chargeback report
func (m *Metrics) RecordReport(ctx context.Context, period string) {
	m.ReportsGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("period", period)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

// RecordDuration records how long a pass took
func (m *Metrics) RecordDuration(ctx context.Context, operation string, start time.Time) {
	m.PassDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
