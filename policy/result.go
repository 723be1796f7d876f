// Package policy evaluates governance policies over tenant cost records.
package policy

import "github.com/yairfalse/allot/types"

// Result is the outcome of one active policy.
// Details holds one of the *Details types below or the string "unknown_type".
type Result struct {
	PolicyID string           `json:"policyId"`
	Type     types.PolicyType `json:"type"`
	Enforced bool             `json:"enforced"`
	Details  any              `json:"details"`
}

// Detail codes reported when a policy cannot be evaluated
const (
	DetailUnknownType   = "unknown_type"
	DetailInvalidParams = "invalid_params"
)

// ErrorDetails reports why a policy could not be evaluated
type ErrorDetails struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BudgetDetails reports spend against a budget
type BudgetDetails struct {
	Period       string      `json:"period"`
	PeriodStart  string      `json:"periodStart"`
	Spend        types.Money `json:"spend"`
	BudgetAmount types.Money `json:"budgetAmount"`
	RecordCount  int         `json:"recordCount"`
	Notified     bool        `json:"notified"`
}

// OffenderGroup is one (service, region) pair with untagged spend.
// Daily billing lines for one resource collapse into a single group.
type OffenderGroup struct {
	ServiceName string      `json:"serviceName"`
	Region      string      `json:"region"`
	TotalCost   types.Money `json:"totalCost"`
	RecordCount int         `json:"recordCount"`
	FirstSeen   string      `json:"firstSeen"`
	LastSeen    string      `json:"lastSeen"`
	MissingTags []string    `json:"missingTags"`
}

// TagComplianceDetails reports untagged spend
type TagComplianceDetails struct {
	RequiredTags     []string        `json:"requiredTags"`
	ViolatingRecords int             `json:"violatingRecords"`
	UntaggedCost     types.Money     `json:"untaggedCost"`
	GroupedResources []OffenderGroup `json:"groupedResources"`
	AutoRemediate    bool            `json:"autoRemediate"`
}

// RegoDetails reports the decision of a rego policy
type RegoDetails struct {
	Query  string `json:"query"`
	Reason string `json:"reason,omitempty"`
}

// CountEnforced returns how many results were enforced
func CountEnforced(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Enforced {
			n++
		}
	}
	return n
}
