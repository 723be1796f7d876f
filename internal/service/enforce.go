package service

import (
	"context"
	"time"

	"github.com/yairfalse/allot/policy"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EnforcementResponse is the result of evaluating a tenant's policies
type EnforcementResponse struct {
	Status
	Results       []policy.Result `json:"results"`
	EnforcedCount int             `json:"enforcedCount"`
}

// EventsResponse lists governance events
type EventsResponse struct {
	Status
	Events []types.GovernanceEvent `json:"events"`
}

// Enforce evaluates every active policy of a tenant over all its records.
// A storage failure degrades to an empty successful result.
func (s *Service) Enforce(ctx context.Context, tenantID int64) EnforcementResponse {
	ctx, span := s.tracer.Start(ctx, "service.enforce",
		trace.WithAttributes(attribute.Int64("tenant.id", tenantID)))
	defer span.End()

	snap, err := s.store.Snapshot(ctx, tenantID, "", "")
	if err != nil {
		span.RecordError(err)
		s.logger.WithContext(ctx).Warn().Err(err).
			Int64("tenant_id", tenantID).
			Msg("policy store unavailable, skipping enforcement")
		return EnforcementResponse{Status: ok(), Results: []policy.Result{}}
	}

	results := s.evaluator.Enforce(ctx, snap.Policies, tenantID, snap.Records)
	if results == nil {
		results = []policy.Result{}
	}

	return EnforcementResponse{
		Status:        ok(),
		Results:       results,
		EnforcedCount: policy.CountEnforced(results),
	}
}

// Events lists a tenant's governance events at or after since
func (s *Service) Events(ctx context.Context, tenantID int64, since time.Time) EventsResponse {
	events, err := s.store.Events(ctx, tenantID, since)
	if err != nil {
		return EventsResponse{Status: failed(err)}
	}
	if events == nil {
		events = []types.GovernanceEvent{}
	}
	return EventsResponse{Status: ok(), Events: events}
}
