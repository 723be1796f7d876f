package storage

import (
	"fmt"

	"github.com/yairfalse/allot/types"
)

// validateCostRecord validates a CostRecord before storage and returns its day key
func validateCostRecord(r types.CostRecord) (string, error) {
	if r.TenantID < 0 {
		return "", fmt.Errorf("cost record tenant_id cannot be negative")
	}
	if r.ServiceName == "" {
		return "", fmt.Errorf("cost record service_name cannot be empty")
	}
	day, err := r.Day()
	if err != nil {
		return "", fmt.Errorf("cost record date: %w", err)
	}
	return day, nil
}

// validateEvent validates a GovernanceEvent before storage
func validateEvent(e types.GovernanceEvent) error {
	if e.ID == "" {
		return fmt.Errorf("governance event id cannot be empty")
	}
	if e.EventType == "" {
		return fmt.Errorf("governance event event_type cannot be empty")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("governance event timestamp cannot be zero")
	}
	return nil
}

// validateReport validates a ChargebackReport before storage
func validateReport(r types.ChargebackReport) error {
	if r.ID == "" {
		return fmt.Errorf("report id cannot be empty")
	}
	if r.ReportPeriod == "" {
		return fmt.Errorf("report period cannot be empty")
	}
	if _, err := types.DayKey(r.ReportDate); err != nil {
		return fmt.Errorf("report date: %w", err)
	}
	return nil
}
