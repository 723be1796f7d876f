package service

import (
	"context"
	"fmt"

	"github.com/yairfalse/allot/allocation"
	"github.com/yairfalse/allot/storage"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AllocationResponse is the result of an allocation request
type AllocationResponse struct {
	Status
	AllocatedRecords []types.AllocatedCostRecord `json:"allocatedRecords"`
	Summary          allocation.Summary          `json:"summary"`
	SkippedRecords   int                         `json:"skippedRecords"`
	UsedFallback     bool                        `json:"usedFallbackRules"`
}

// Allocate allocates a tenant's records dated within [from, to]
func (s *Service) Allocate(ctx context.Context, tenantID int64, from, to string) AllocationResponse {
	ctx, span := s.tracer.Start(ctx, "service.allocate",
		trace.WithAttributes(attribute.Int64("tenant.id", tenantID)))
	defer span.End()

	snap, err := s.loadSnapshot(ctx, tenantID, from, to)
	if err != nil {
		return AllocationResponse{Status: failed(err)}
	}

	result := s.runAllocation(ctx, snap)
	return AllocationResponse{
		Status:           ok(),
		AllocatedRecords: result.Records,
		Summary:          allocation.Summarize(result.Records),
		SkippedRecords:   result.Skipped,
		UsedFallback:     result.UsedFallback,
	}
}

// loadSnapshot reads rules and records together. When the snapshot cannot
// be taken the records are read alone and rules are left empty so the
// engine uses its fallback table.
func (s *Service) loadSnapshot(ctx context.Context, tenantID int64, from, to string) (storage.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx, tenantID, from, to)
	if err == nil {
		return snap, nil
	}

	s.logger.WithContext(ctx).Warn().Err(err).
		Int64("tenant_id", tenantID).
		Msg("snapshot failed, allocating with fallback rules")

	records, err := s.store.CostRecords(ctx, tenantID, from, to)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("failed to load cost records: %w", err)
	}
	return storage.Snapshot{TenantID: tenantID, Records: records}, nil
}

// runAllocation never fails. A panic inside the engine yields every
// record unassigned rather than a partial result.
func (s *Service) runAllocation(ctx context.Context, snap storage.Snapshot) (result allocation.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithContext(ctx).Error().
				Interface("panic", r).
				Int64("tenant_id", snap.TenantID).
				Msg("allocation pass panicked, returning records unassigned")
			result = unassignedResult(snap.Records)
		}
	}()
	return s.engine.Run(ctx, snap.Records, snap.Rules)
}

func unassignedResult(records []types.CostRecord) allocation.Result {
	result := allocation.Result{Records: make([]types.AllocatedCostRecord, 0, len(records))}
	for _, r := range records {
		amount, err := r.CostAmount.Parse()
		if err != nil {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, types.Unallocated(r, amount))
		result.Unassigned++
	}
	return result
}
