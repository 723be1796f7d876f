package types

// PolicyType selects the handler that evaluates a governance policy
type PolicyType string

const (
	PolicyBudgetThreshold PolicyType = "budget_threshold"
	PolicyTagCompliance   PolicyType = "tag_compliance"
	PolicyRego            PolicyType = "rego"
)

// Budget periods
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// PolicyParams carries the parameters of every policy type.
// No maps! Each handler reads only its own fields.
type PolicyParams struct {
	// budget_threshold
	BudgetAmount   RawDecimal `json:"budgetAmount,omitempty" yaml:"budgetAmount,omitempty"`
	Period         string     `json:"period,omitempty" yaml:"period,omitempty"`
	NotifyWebhook  string     `json:"notifyWebhook,omitempty" yaml:"notifyWebhook,omitempty" validate:"omitempty,url"`
	NotifyQueueURL string     `json:"notifyQueueUrl,omitempty" yaml:"notifyQueueUrl,omitempty" validate:"omitempty,url"`

	// tag_compliance
	RequiredTagKeys []string `json:"requiredTagKeys,omitempty" yaml:"requiredTagKeys,omitempty"`
	AutoRemediate   bool     `json:"autoRemediate,omitempty" yaml:"autoRemediate,omitempty"`

	// rego
	Module string `json:"module,omitempty" yaml:"module,omitempty"`
	Query  string `json:"query,omitempty" yaml:"query,omitempty"`
}

// GovernancePolicy is a configured check evaluated on demand
type GovernancePolicy struct {
	ID       string       `json:"id" yaml:"id" validate:"required"`
	Type     PolicyType   `json:"type" yaml:"type" validate:"required,oneof=budget_threshold tag_compliance rego"`
	Params   PolicyParams `json:"params" yaml:"params"`
	Priority int          `json:"priority" yaml:"priority"`
	IsActive bool         `json:"isActive" yaml:"isActive"`
	TenantID int64        `json:"tenantId" yaml:"tenantId" validate:"gte=0"`
}
