package storage

import (
	"context"
	"time"

	"github.com/yairfalse/allot/types"
)

// CostWriter stores ingested cost records
type CostWriter interface {
	PutCostRecords(ctx context.Context, records []types.CostRecord) error
}

// CostReader queries cost records
type CostReader interface {
	CostRecords(ctx context.Context, tenantID int64, from, to string) ([]types.CostRecord, error)
}

// RuleStore manages allocation rules
type RuleStore interface {
	PutRule(ctx context.Context, rule types.AllocationRule) error
	DeleteRule(ctx context.Context, tenantID int64, id string) error
	Rules(ctx context.Context, tenantID int64) ([]types.AllocationRule, error)
}

// PolicyStore manages governance policies
type PolicyStore interface {
	PutPolicy(ctx context.Context, policy types.GovernancePolicy) error
	SetPolicyActive(ctx context.Context, tenantID int64, id string, active bool) (types.GovernancePolicy, error)
	Policies(ctx context.Context, tenantID int64) ([]types.GovernancePolicy, error)
}

// EventWriter appends governance events
type EventWriter interface {
	AppendEvent(ctx context.Context, event types.GovernanceEvent) error
}

// EventReader queries governance events
type EventReader interface {
	Events(ctx context.Context, tenantID int64, since time.Time) ([]types.GovernanceEvent, error)
}

// ReportWriter stores and deletes chargeback reports
type ReportWriter interface {
	SaveReport(ctx context.Context, report types.ChargebackReport) error
	DeleteReports(ctx context.Context, tenantID int64, ids []string) (int, error)
}

// ReportReader queries chargeback reports
type ReportReader interface {
	Report(ctx context.Context, id string) (types.ChargebackReport, error)
	ReportsByTenant(ctx context.Context, tenantID int64) ([]types.ChargebackReport, error)
}

// Snapshotter reads a consistent per-tenant view
type Snapshotter interface {
	Snapshot(ctx context.Context, tenantID int64, from, to string) (Snapshot, error)
}

// StorageStats provides operational metrics
type StorageStats interface {
	Stats() (reportCount int, dbSizeBytes int64)
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}

// Storage is the complete storage interface combining all capabilities
type Storage interface {
	CostWriter
	CostReader
	RuleStore
	PolicyStore
	EventWriter
	EventReader
	ReportWriter
	ReportReader
	Snapshotter
	StorageStats
	Lifecycle
}
