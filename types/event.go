package types

import (
	"encoding/json"
	"time"
)

// Governance event types
const (
	EventBudgetExceeded         = "budget_threshold_exceeded"
	EventTagComplianceViolation = "tag_compliance_violation"
	EventRegoPolicyEnforced     = "rego_policy_enforced"
)

// GovernanceEvent is the append-only audit record of one enforcement outcome
type GovernanceEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	PolicyID  string          `json:"policyId"`
	Details   json.RawMessage `json:"details"`
	Timestamp time.Time       `json:"timestamp"`
	TenantID  int64           `json:"tenantId"`
}
