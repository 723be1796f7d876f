package chargeback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Aggregator builds chargeback reports from allocated records
type Aggregator struct {
	now     func() time.Time
	logger  *telemetry.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock sets the clock used for CreatedAt
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithLogger overrides the aggregator logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMetrics overrides the aggregator instruments
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = metrics
	}
}

// NewAggregator creates an aggregator
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:     time.Now,
		logger:  telemetry.NewLogger("chargeback"),
		tracer:  otel.Tracer("allot/chargeback"),
		metrics: telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type allocationKey struct {
	costCenter string
	department string
	project    string
}

// Aggregate sums records along each report axis. Records are not filtered
// by the period window; callers pass the records they want reported.
func (a *Aggregator) Aggregate(ctx context.Context, period, reportDate string, records []types.AllocatedCostRecord) (types.ChargebackReport, error) {
	ctx, span := a.tracer.Start(ctx, "chargeback.aggregate",
		trace.WithAttributes(
			attribute.String("report.period", period),
			attribute.String("report.date", reportDate),
			attribute.Int("records.count", len(records)),
		))
	defer span.End()
	start := time.Now()

	periodStart, periodEnd, err := WindowDays(period, reportDate)
	if err != nil {
		span.RecordError(err)
		return types.ChargebackReport{}, err
	}
	day, _ := types.DayKey(reportDate)

	report := types.ChargebackReport{
		ID:                uuid.NewString(),
		ReportPeriod:      period,
		ReportDate:        day,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
		RecordCount:       len(records),
		ServiceBreakdown:  make(map[string]types.Money),
		ResourceBreakdown: make(map[string]types.Money),
		TagBreakdown:      make(map[string]types.Money),
		CreatedAt:         a.now().UTC(),
	}

	if len(records) > 0 {
		report.TenantID = records[0].TenantID
	}

	allocations := make(map[allocationKey]*types.AllocationGroup)
	for _, r := range records {
		total, err := report.TotalCost.Sum(r.Amount)
		if err != nil {
			span.RecordError(err)
			return types.ChargebackReport{}, fmt.Errorf("failed to sum report total: %w", err)
		}
		report.TotalCost = total
		report.ServiceBreakdown[r.ServiceName] = report.ServiceBreakdown[r.ServiceName].Add(r.Amount)

		key := allocationKey{
			costCenter: types.DimensionOrUnassigned(r.CostCenter),
			department: types.DimensionOrUnassigned(r.Department),
			project:    types.DimensionOrUnassigned(r.Project),
		}
		g, ok := allocations[key]
		if !ok {
			g = &types.AllocationGroup{CostCenter: key.costCenter, Department: key.department, Project: key.project}
			allocations[key] = g
		}
		g.Cost = g.Cost.Add(r.Amount)
		g.RecordCount++

		if r.ResourceID != "" {
			report.ResourceBreakdown[r.ResourceID] = report.ResourceBreakdown[r.ResourceID].Add(r.Amount)
		}

		tags, err := r.ParseTags()
		if err != nil {
			a.logger.LogSkippedRecord(ctx, r.ResourceID, "unparseable tags", err)
			report.SkippedTagRecords++
			continue
		}
		for k, v := range tags {
			key := k + ":" + v
			report.TagBreakdown[key] = report.TagBreakdown[key].Add(r.Amount)
		}
	}

	report.AllocationBreakdown = sortedGroups(allocations)

	a.metrics.RecordReport(ctx, period)
	a.metrics.RecordDuration(ctx, "aggregate", start)
	telemetry.RecordReportGeneratedEvent(span, report.TenantID, report.ID, period, report.TotalCost.String(), report.RecordCount)

	return report, nil
}

// sortedGroups orders allocation groups by cost, highest first
func sortedGroups(groups map[allocationKey]*types.AllocationGroup) []types.AllocationGroup {
	out := make([]types.AllocationGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		if out[i].CostCenter != out[j].CostCenter {
			return out[i].CostCenter < out[j].CostCenter
		}
		if out[i].Department != out[j].Department {
			return out[i].Department < out[j].Department
		}
		return out[i].Project < out[j].Project
	})
	return out
}
