package service

import (
	"context"
	"fmt"

	"github.com/yairfalse/allot/types"
)

// RuleResponse carries a single rule
type RuleResponse struct {
	Status
	Rule *types.AllocationRule `json:"rule,omitempty"`
}

// RuleListResponse carries a tenant's rules
type RuleListResponse struct {
	Status
	Rules []types.AllocationRule `json:"rules"`
}

// PolicyResponse carries a single policy
type PolicyResponse struct {
	Status
	Policy *types.GovernancePolicy `json:"policy,omitempty"`
}

// PolicyListResponse carries a tenant's policies
type PolicyListResponse struct {
	Status
	Policies []types.GovernancePolicy `json:"policies"`
}

// ImportResponse reports how many records were stored
type ImportResponse struct {
	Status
	Imported int `json:"imported"`
}

// CreateRule validates and stores a rule for the tenant
func (s *Service) CreateRule(ctx context.Context, tenantID int64, rule types.AllocationRule) RuleResponse {
	rule.TenantID = tenantID
	if err := s.validate.StructCtx(ctx, rule); err != nil {
		return RuleResponse{Status: failed(invalid("rule: %v", err))}
	}
	if err := s.store.PutRule(ctx, rule); err != nil {
		return RuleResponse{Status: failed(err)}
	}
	return RuleResponse{Status: ok(), Rule: &rule}
}

// DeleteRule removes a tenant's rule
func (s *Service) DeleteRule(ctx context.Context, tenantID int64, id string) DeleteResponse {
	if err := s.store.DeleteRule(ctx, tenantID, id); err != nil {
		return DeleteResponse{Status: failed(err)}
	}
	return DeleteResponse{Status: ok(), Deleted: 1}
}

// ListRules returns a tenant's rules
func (s *Service) ListRules(ctx context.Context, tenantID int64) RuleListResponse {
	rules, err := s.store.Rules(ctx, tenantID)
	if err != nil {
		return RuleListResponse{Status: failed(err)}
	}
	if rules == nil {
		rules = []types.AllocationRule{}
	}
	return RuleListResponse{Status: ok(), Rules: rules}
}

// CreatePolicy validates and stores a policy for the tenant
func (s *Service) CreatePolicy(ctx context.Context, tenantID int64, p types.GovernancePolicy) PolicyResponse {
	p.TenantID = tenantID
	if err := s.validate.StructCtx(ctx, p); err != nil {
		return PolicyResponse{Status: failed(invalid("policy: %v", err))}
	}
	if p.Type == types.PolicyBudgetThreshold {
		if _, err := p.Params.BudgetAmount.Parse(); err != nil {
			return PolicyResponse{Status: failed(invalid("policy %s: budgetAmount: %v", p.ID, err))}
		}
	}
	if len(p.Params.RequiredTagKeys) > 0 {
		// tag compliance checks the evaluator's configured keys
		s.logger.WithTenant(ctx, tenantID).Warn().
			Str("policy_id", p.ID).
			Strs("required_tag_keys", p.Params.RequiredTagKeys).
			Msg("requiredTagKeys is not supported per policy, ignoring; set policy.required_tags instead")
		p.Params.RequiredTagKeys = nil
	}
	if err := s.store.PutPolicy(ctx, p); err != nil {
		return PolicyResponse{Status: failed(err)}
	}
	return PolicyResponse{Status: ok(), Policy: &p}
}

// TogglePolicy activates or deactivates a policy
func (s *Service) TogglePolicy(ctx context.Context, tenantID int64, id string, active bool) PolicyResponse {
	p, err := s.store.SetPolicyActive(ctx, tenantID, id, active)
	if err != nil {
		return PolicyResponse{Status: failed(err)}
	}
	return PolicyResponse{Status: ok(), Policy: &p}
}

// ListPolicies returns a tenant's policies
func (s *Service) ListPolicies(ctx context.Context, tenantID int64) PolicyListResponse {
	policies, err := s.store.Policies(ctx, tenantID)
	if err != nil {
		return PolicyListResponse{Status: failed(err)}
	}
	if policies == nil {
		policies = []types.GovernancePolicy{}
	}
	return PolicyListResponse{Status: ok(), Policies: policies}
}

// ImportRecords stores billing records for the tenant. The batch is
// rejected as a whole if any record is invalid.
func (s *Service) ImportRecords(ctx context.Context, tenantID int64, records []types.CostRecord) ImportResponse {
	if len(records) == 0 {
		return ImportResponse{Status: failed(invalid("no records given"))}
	}

	for i := range records {
		records[i].TenantID = tenantID
		if err := s.validate.StructCtx(ctx, records[i]); err != nil {
			return ImportResponse{Status: failed(invalid("record %d: %v", i, err))}
		}
		if _, err := records[i].Day(); err != nil {
			return ImportResponse{Status: failed(invalid("record %d: %v", i, err))}
		}
	}

	if err := s.store.PutCostRecords(ctx, records); err != nil {
		return ImportResponse{Status: failed(fmt.Errorf("failed to import records: %w", err))}
	}
	return ImportResponse{Status: ok(), Imported: len(records)}
}
