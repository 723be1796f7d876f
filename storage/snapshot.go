package storage

import (
	"context"
	"fmt"

	"github.com/yairfalse/allot/types"
	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Snapshot is a consistent view of one tenant's configuration and records
type Snapshot struct {
	TenantID int64
	Rules    []types.AllocationRule
	Policies []types.GovernancePolicy
	Records  []types.CostRecord
}

// Snapshot reads rules, policies and the records dated within [from, to]
// in a single read transaction, so concurrent edits are either fully
// visible or not at all.
func (s *Store) Snapshot(ctx context.Context, tenantID int64, from, to string) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "storage.snapshot",
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenantID),
			attribute.String("from", from),
			attribute.String("to", to),
		))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{TenantID: tenantID}
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		prefix := tenantPrefix(tenantID)

		if snap.Rules, err = scanPrefix[types.AllocationRule](ctx, tx.Bucket(bucketRules), prefix, nil); err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		if snap.Policies, err = scanPrefix[types.GovernancePolicy](ctx, tx.Bucket(bucketPolicies), prefix, nil); err != nil {
			return fmt.Errorf("policies: %w", err)
		}
		if snap.Records, err = costRecordsTx(ctx, tx, tenantID, from, to); err != nil {
			return fmt.Errorf("cost records: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, s.record(ctx, "snapshot", fmt.Errorf("snapshot failed: %w", err))
	}

	span.SetAttributes(
		attribute.Int("rules.count", len(snap.Rules)),
		attribute.Int("policies.count", len(snap.Policies)),
		attribute.Int("records.count", len(snap.Records)),
	)
	return snap, s.record(ctx, "snapshot", nil)
}
