package types

import "time"

// Report periods
const (
	ReportDaily     = "daily"
	ReportWeekly    = "weekly"
	ReportMonthly   = "monthly"
	ReportQuarterly = "quarterly"
	ReportYearly    = "yearly"
)

// AllocationGroup is one flattened (cost center, department, project) row
type AllocationGroup struct {
	CostCenter  string `json:"costCenter"`
	Department  string `json:"department"`
	Project     string `json:"project"`
	Cost        Money  `json:"cost"`
	RecordCount int    `json:"recordCount"`
}

// ChargebackReport is a period-scoped aggregation of allocated cost.
// Immutable once created.
type ChargebackReport struct {
	ID                  string            `json:"id"`
	TenantID            int64             `json:"tenantId"`
	ReportPeriod        string            `json:"reportPeriod"`
	ReportDate          string            `json:"reportDate"`
	PeriodStart         string            `json:"periodStart"`
	PeriodEnd           string            `json:"periodEnd"`
	TotalCost           Money             `json:"totalCost"`
	RecordCount         int               `json:"recordCount"`
	ServiceBreakdown    map[string]Money  `json:"serviceBreakdown"`
	AllocationBreakdown []AllocationGroup `json:"allocationBreakdown"`
	ResourceBreakdown   map[string]Money  `json:"resourceBreakdown"`
	TagBreakdown        map[string]Money  `json:"tagBreakdown"`
	SkippedTagRecords   int               `json:"skippedTagRecords"`
	CreatedAt           time.Time         `json:"createdAt"`
}
