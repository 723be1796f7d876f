package allocation

import "github.com/yairfalse/allot/types"

// DefaultRules returns the built-in rule table used when a tenant has no
// active rules or the rule store cannot be read.
func DefaultRules() []types.AllocationRule {
	return []types.AllocationRule{
		{
			ID:       "default-ec2",
			RuleType: types.RuleServiceBased,
			Condition: types.RuleCondition{
				Services: []string{"EC2"},
			},
			AllocationTarget: types.AllocationTarget{
				CostCenter:  types.StringPtr("infrastructure"),
				Department:  types.StringPtr("engineering"),
				Environment: types.StringPtr("production"),
			},
			Priority: 1,
			IsActive: true,
		},
		{
			ID:       "default-s3",
			RuleType: types.RuleServiceBased,
			Condition: types.RuleCondition{
				Services: []string{"S3"},
			},
			AllocationTarget: types.AllocationTarget{
				CostCenter:  types.StringPtr("storage"),
				Department:  types.StringPtr("engineering"),
				Environment: types.StringPtr("production"),
			},
			Priority: 2,
			IsActive: true,
		},
	}
}
