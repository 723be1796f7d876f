package emitter

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
)

// PrometheusEmitter exposes the latest report per tenant and period as
// OTEL gauges, which the Prometheus exporter serves on /metrics.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger *telemetry.Logger

	// Metrics
	reportCost        metric.Float64ObservableGauge
	costCenterCost    metric.Float64ObservableGauge
	reportsEmitted    metric.Int64Counter
	costCenterChanges metric.Int64Counter
	registration      metric.Registration

	// State for observable gauges, keyed by tenant and period
	mu      sync.RWMutex
	reports map[string]types.ChargebackReport

	diffTracker *DiffTracker
}

// PrometheusOption configures a PrometheusEmitter
type PrometheusOption func(*PrometheusEmitter)

// WithMeter overrides the global meter
func WithMeter(meter metric.Meter) PrometheusOption {
	return func(e *PrometheusEmitter) {
		e.meter = meter
	}
}

// WithLogger overrides the emitter logger
func WithLogger(logger *telemetry.Logger) PrometheusOption {
	return func(e *PrometheusEmitter) {
		e.logger = logger
	}
}

// NewPrometheusEmitter creates a Prometheus emitter.
func NewPrometheusEmitter(opts ...PrometheusOption) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:       otel.Meter(telemetry.InstrumentationName),
		logger:      telemetry.NewLogger("emitter"),
		reports:     make(map[string]types.ChargebackReport),
		diffTracker: NewDiffTracker(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.reportCost, err = e.meter.Float64ObservableGauge(
		"allot_report_total_cost",
		metric.WithDescription("Total cost of the latest chargeback report"),
	)
	if err != nil {
		return fmt.Errorf("create report_total_cost gauge: %w", err)
	}

	e.costCenterCost, err = e.meter.Float64ObservableGauge(
		"allot_cost_center_cost",
		metric.WithDescription("Allocated cost per cost center in the latest chargeback report"),
	)
	if err != nil {
		return fmt.Errorf("create cost_center_cost gauge: %w", err)
	}

	e.reportsEmitted, err = e.meter.Int64Counter(
		"allot_reports_emitted_total",
		metric.WithDescription("Total chargeback reports emitted"),
	)
	if err != nil {
		return fmt.Errorf("create reports_emitted counter: %w", err)
	}

	e.costCenterChanges, err = e.meter.Int64Counter(
		"allot_cost_center_changes_total",
		metric.WithDescription("Total cost center changes between consecutive reports"),
	)
	if err != nil {
		return fmt.Errorf("create cost_center_changes counter: %w", err)
	}

	e.registration, err = e.meter.RegisterCallback(e.observe, e.reportCost, e.costCenterCost)
	if err != nil {
		return fmt.Errorf("register gauge callback: %w", err)
	}

	return nil
}

// Emit records the report as the latest for its tenant and period unless a
// newer report of that series was already emitted.
func (e *PrometheusEmitter) Emit(ctx context.Context, report types.ChargebackReport) error {
	attrs := seriesAttributes(report)
	e.reportsEmitted.Add(ctx, 1, metric.WithAttributes(attrs...))

	e.mu.Lock()
	diffs, advanced := e.diffTracker.Advance(report)
	if advanced {
		e.reports[seriesKey(report)] = report
	}
	e.mu.Unlock()

	if !advanced {
		e.logger.WithTenant(ctx, report.TenantID).Debug().
			Str("report_id", report.ID).
			Str("report_date", report.ReportDate).
			Msg("report older than the current one, gauges unchanged")
		return nil
	}

	e.emitDiffs(ctx, report, diffs)

	e.logger.WithTenant(ctx, report.TenantID).Debug().
		Str("report_id", report.ID).
		Str("period", report.ReportPeriod).
		Int("groups", len(report.AllocationBreakdown)).
		Msg("report emitted")

	return nil
}

// emitDiffs counts and logs cost center changes since the previous report.
func (e *PrometheusEmitter) emitDiffs(ctx context.Context, report types.ChargebackReport, diffs []CostCenterDiff) {
	for _, diff := range diffs {
		attrs := append(seriesAttributes(report),
			attribute.String("cost_center", diff.CostCenter),
			attribute.String("change_type", string(diff.Type)),
		)
		e.costCenterChanges.Add(ctx, 1, metric.WithAttributes(attrs...))

		e.logger.WithTenant(ctx, report.TenantID).Info().
			Str("period", report.ReportPeriod).
			Str("cost_center", diff.CostCenter).
			Str("department", diff.Department).
			Str("project", diff.Project).
			Str("change", string(diff.Type)).
			Str("cost.from", diff.Previous.String()).
			Str("cost.to", diff.Current.String()).
			Msg("cost center changed")
	}
}

// observe is the callback for both gauges.
func (e *PrometheusEmitter) observe(_ context.Context, o metric.Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.reports {
		attrs := seriesAttributes(r)
		o.ObserveFloat64(e.reportCost, r.TotalCost.Float64(), metric.WithAttributes(attrs...))

		for _, g := range r.AllocationBreakdown {
			groupAttrs := append(seriesAttributes(r),
				attribute.String("cost_center", g.CostCenter),
				attribute.String("department", g.Department),
				attribute.String("project", g.Project),
			)
			o.ObserveFloat64(e.costCenterCost, g.Cost.Float64(), metric.WithAttributes(groupAttrs...))
		}
	}

	return nil
}

func seriesAttributes(r types.ChargebackReport) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant_id", strconv.FormatInt(r.TenantID, 10)),
		attribute.String("period", r.ReportPeriod),
	}
}

// Close unregisters the gauge callback.
func (e *PrometheusEmitter) Close() error {
	return e.registration.Unregister()
}
