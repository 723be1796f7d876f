package types

// RuleType selects how a rule's condition is interpreted
type RuleType string

const (
	RuleServiceBased RuleType = "service_based"
	RuleRegionBased  RuleType = "region_based"
	RuleTagBased     RuleType = "tag_based"
)

// Known reports whether the engine has a matcher for t
func (t RuleType) Known() bool {
	switch t {
	case RuleServiceBased, RuleRegionBased, RuleTagBased:
		return true
	default:
		return false
	}
}

// RuleCondition holds the predicate data for every rule type.
// Only the field belonging to the rule's type is consulted.
type RuleCondition struct {
	Services []string          `json:"services,omitempty" yaml:"services,omitempty"`
	Regions  []string          `json:"regions,omitempty" yaml:"regions,omitempty"`
	Tags     map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// AllocationTarget is the set of dimensions a matching rule assigns
type AllocationTarget struct {
	CostCenter   *string `json:"costCenter,omitempty" yaml:"costCenter,omitempty"`
	Department   *string `json:"department,omitempty" yaml:"department,omitempty"`
	Project      *string `json:"project,omitempty" yaml:"project,omitempty"`
	Environment  *string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Team         *string `json:"team,omitempty" yaml:"team,omitempty"`
	BusinessUnit *string `json:"businessUnit,omitempty" yaml:"businessUnit,omitempty"`
}

// AllocationRule assigns ownership dimensions to matching cost records.
// Lower Priority values are evaluated first.
type AllocationRule struct {
	ID               string           `json:"id" yaml:"id" validate:"required"`
	RuleType         RuleType         `json:"ruleType" yaml:"ruleType" validate:"required,oneof=service_based region_based tag_based"`
	Condition        RuleCondition    `json:"condition" yaml:"condition"`
	AllocationTarget AllocationTarget `json:"allocationTarget" yaml:"allocationTarget"`
	Priority         int              `json:"priority" yaml:"priority"`
	IsActive         bool             `json:"isActive" yaml:"isActive"`
	TenantID         int64            `json:"tenantId" yaml:"tenantId" validate:"gte=0"`
}
