package storage

import (
	"context"
	"fmt"

	"github.com/yairfalse/allot/types"
	"go.etcd.io/bbolt"
)

// PutRule creates or replaces an allocation rule
func (s *Store) PutRule(ctx context.Context, rule types.AllocationRule) error {
	if rule.ID == "" {
		return s.record(ctx, "put_rule", fmt.Errorf("rule id cannot be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketRules), tenantKey(rule.TenantID, []byte(rule.ID)), rule)
	})
	if err != nil {
		err = fmt.Errorf("failed to store rule %s: %w", rule.ID, err)
	}
	return s.record(ctx, "put_rule", err)
}

// DeleteRule removes a tenant's rule
func (s *Store) DeleteRule(ctx context.Context, tenantID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRules)
		key := tenantKey(tenantID, []byte(id))
		if bucket.Get(key) == nil {
			return fmt.Errorf("rule %s: %w", id, ErrNotFound)
		}
		return bucket.Delete(key)
	})
	return s.record(ctx, "delete_rule", err)
}

// Rules returns every rule of a tenant ordered by id
func (s *Store) Rules(ctx context.Context, tenantID int64) ([]types.AllocationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rules []types.AllocationRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rules, err = scanPrefix[types.AllocationRule](ctx, tx.Bucket(bucketRules), tenantPrefix(tenantID), nil)
		return err
	})
	if err != nil {
		return nil, s.record(ctx, "rules", fmt.Errorf("query failed: %w", err))
	}
	return rules, s.record(ctx, "rules", nil)
}

// PutPolicy creates or replaces a governance policy
func (s *Store) PutPolicy(ctx context.Context, policy types.GovernancePolicy) error {
	if policy.ID == "" {
		return s.record(ctx, "put_policy", fmt.Errorf("policy id cannot be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketPolicies), tenantKey(policy.TenantID, []byte(policy.ID)), policy)
	})
	if err != nil {
		err = fmt.Errorf("failed to store policy %s: %w", policy.ID, err)
	}
	return s.record(ctx, "put_policy", err)
}

// SetPolicyActive toggles a policy and returns the updated policy
func (s *Store) SetPolicyActive(ctx context.Context, tenantID int64, id string, active bool) (types.GovernancePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var policy types.GovernancePolicy
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPolicies)
		key := tenantKey(tenantID, []byte(id))

		data := bucket.Get(key)
		if data == nil {
			return fmt.Errorf("policy %s: %w", id, ErrNotFound)
		}
		if err := decode(data, &policy); err != nil {
			return fmt.Errorf("failed to decode policy %s: %w", id, err)
		}

		policy.IsActive = active
		return putJSON(bucket, key, policy)
	})
	if err != nil {
		return types.GovernancePolicy{}, s.record(ctx, "set_policy_active", err)
	}
	return policy, s.record(ctx, "set_policy_active", nil)
}

// Policies returns every policy of a tenant ordered by id
func (s *Store) Policies(ctx context.Context, tenantID int64) ([]types.GovernancePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var policies []types.GovernancePolicy
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		policies, err = scanPrefix[types.GovernancePolicy](ctx, tx.Bucket(bucketPolicies), tenantPrefix(tenantID), nil)
		return err
	})
	if err != nil {
		return nil, s.record(ctx, "policies", fmt.Errorf("query failed: %w", err))
	}
	return policies, s.record(ctx, "policies", nil)
}
