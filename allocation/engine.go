package allocation

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine assigns ownership dimensions to cost records using
// priority-ordered allocation rules. First matching rule wins.
//
// Rules are scanned linearly per record. Rule sets are bounded by
// configuration size, not record volume, so no index is kept.
type Engine struct {
	fallback []types.AllocationRule
	logger   *telemetry.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger overrides the engine logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics overrides the engine instruments
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates an engine that falls back to the given rule table
// when a pass has no active rules.
func NewEngine(fallback []types.AllocationRule, opts ...Option) *Engine {
	e := &Engine{
		fallback: fallback,
		logger:   telemetry.NewLogger("allocation"),
		tracer:   otel.Tracer("allot/allocation"),
		metrics:  telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one allocation pass
type Result struct {
	Records      []types.AllocatedCostRecord
	Assigned     int
	Unassigned   int
	Skipped      int
	RulesUsed    int
	UsedFallback bool
}

// compiledRule pairs a rule with its matcher for the duration of a pass
type compiledRule struct {
	rule    types.AllocationRule
	matcher matcher
}

// Allocate returns one allocated record per input record with a
// parseable amount, in input order.
func (e *Engine) Allocate(ctx context.Context, records []types.CostRecord, rules []types.AllocationRule) []types.AllocatedCostRecord {
	return e.Run(ctx, records, rules).Records
}

// Run allocates records and reports pass statistics
func (e *Engine) Run(ctx context.Context, records []types.CostRecord, rules []types.AllocationRule) Result {
	ctx, span := e.tracer.Start(ctx, "allocation.run",
		trace.WithAttributes(
			attribute.Int("records.count", len(records)),
			attribute.Int("rules.count", len(rules)),
		))
	defer span.End()
	start := time.Now()

	compiled, usedFallback := e.compile(ctx, rules)
	result := Result{
		Records:      make([]types.AllocatedCostRecord, 0, len(records)),
		RulesUsed:    len(compiled),
		UsedFallback: usedFallback,
	}

	for _, record := range records {
		amount, err := record.CostAmount.Parse()
		if err != nil {
			e.logger.LogSkippedRecord(ctx, record.ResourceID, "unparseable cost amount", err)
			result.Skipped++
			continue
		}

		allocated := allocateOne(record, amount, compiled)
		if allocated.IsAssigned() {
			result.Assigned++
		} else {
			result.Unassigned++
		}
		result.Records = append(result.Records, allocated)
	}

	var tenantID int64
	if len(records) > 0 {
		tenantID = records[0].TenantID
	}

	e.metrics.RecordAllocation(ctx, result.Assigned, result.Unassigned, result.Skipped)
	e.metrics.RecordDuration(ctx, "allocate", start)
	telemetry.RecordAllocationCompletedEvent(span, tenantID, result.RulesUsed, usedFallback,
		result.Assigned, result.Unassigned, result.Skipped, time.Since(start).Seconds())

	e.logger.WithContext(ctx).Debug().
		Int("assigned", result.Assigned).
		Int("unassigned", result.Unassigned).
		Int("skipped", result.Skipped).
		Bool("fallback_rules", usedFallback).
		Msg("allocation pass completed")

	return result
}

// compile keeps active rules, substitutes the active part of the fallback
// table when none remain, and orders the result by ascending priority.
func (e *Engine) compile(ctx context.Context, rules []types.AllocationRule) ([]compiledRule, bool) {
	active := activeRules(rules)

	usedFallback := false
	if len(active) == 0 {
		active = activeRules(e.fallback)
		usedFallback = true
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	compiled := make([]compiledRule, 0, len(active))
	for _, rule := range active {
		m := matcherFor(rule)
		if u, ok := m.(unknownMatcher); ok {
			e.logger.WithContext(ctx).Warn().
				Str("rule_id", rule.ID).
				Str("rule_type", string(u.ruleType)).
				Msg("rule has unknown type and will never match")
		}
		compiled = append(compiled, compiledRule{rule: rule, matcher: m})
	}
	return compiled, usedFallback
}

func activeRules(rules []types.AllocationRule) []types.AllocationRule {
	return lo.Filter(rules, func(r types.AllocationRule, _ int) bool {
		return r.IsActive
	})
}

// allocateOne applies the first matching rule or marks the record unassigned
func allocateOne(record types.CostRecord, amount types.Money, rules []compiledRule) types.AllocatedCostRecord {
	c := newCandidate(record)
	for _, cr := range rules {
		if !cr.matcher.match(c) {
			continue
		}

		target := cr.rule.AllocationTarget
		return types.AllocatedCostRecord{
			CostRecord:   record,
			Amount:       amount,
			RuleID:       types.StringPtr(cr.rule.ID),
			CostCenter:   copyDim(target.CostCenter),
			Department:   copyDim(target.Department),
			Project:      copyDim(target.Project),
			Environment:  copyDim(target.Environment),
			Team:         copyDim(target.Team),
			BusinessUnit: copyDim(target.BusinessUnit),
		}
	}
	return types.Unallocated(record, amount)
}

// copyDim detaches a target value so allocated records never alias rule state
func copyDim(v *string) *string {
	if v == nil {
		return nil
	}
	return types.StringPtr(*v)
}
