package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordAllocationCompletedEvent attaches the outcome of an allocation pass to span
func RecordAllocationCompletedEvent(
	span trace.Span,
	tenantID int64,
	rulesUsed int,
	usedDefaults bool,
	assigned int,
	unassigned int,
	skipped int,
	durationSeconds float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("cost.allocation.completed", trace.WithAttributes(
		attribute.String("event.type", "cost.allocation.completed"),
		attribute.Int64("tenant.id", tenantID),
		attribute.Int("rules.used", rulesUsed),
		attribute.Bool("rules.defaults", usedDefaults),
		attribute.Int("records.assigned", assigned),
		attribute.Int("records.unassigned", unassigned),
		attribute.Int("records.skipped", skipped),
		attribute.Float64("duration.seconds", durationSeconds),
	))
}

// RecordPolicyEvaluatedEvent attaches a single policy decision to span
func RecordPolicyEvaluatedEvent(
	span trace.Span,
	policyID string,
	policyType string,
	enforced bool,
	reason string,
	errorMsg string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "cost.policy.evaluated"),
		attribute.String("policy.id", policyID),
		attribute.String("policy.type", policyType),
		attribute.Bool("enforced", enforced),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("cost.policy.evaluated", trace.WithAttributes(attrs...))
}

// RecordNotificationEvent attaches a notification delivery attempt to span
func RecordNotificationEvent(
	span trace.Span,
	policyID string,
	channel string,
	status string,
	errorMsg string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "cost.notification.sent"),
		attribute.String("policy.id", policyID),
		attribute.String("channel", channel),
		attribute.String("status", status),
	}
	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("cost.notification.sent", trace.WithAttributes(attrs...))
}

// RecordReportGeneratedEvent attaches a chargeback summary to span
func RecordReportGeneratedEvent(
	span trace.Span,
	tenantID int64,
	reportID string,
	period string,
	totalCost string,
	recordCount int,
) {
	if span == nil {
		return
	}

	span.AddEvent("cost.report.generated", trace.WithAttributes(
		attribute.String("event.type", "cost.report.generated"),
		attribute.Int64("tenant.id", tenantID),
		attribute.String("report.id", reportID),
		attribute.String("report.period", period),
		attribute.String("report.total_cost", totalCost),
		attribute.Int("report.record_count", recordCount),
	))
}
