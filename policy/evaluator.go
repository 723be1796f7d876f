package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/yairfalse/allot/notify"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRequiredTags are the tag keys every billable resource must carry
var DefaultRequiredTags = []string{"Owner", "CostCenter", "Environment"}

// DefaultMaxOffenders caps the records a tag compliance scan considers
const DefaultMaxOffenders = 100

// EventSink persists governance events
type EventSink interface {
	AppendEvent(ctx context.Context, event types.GovernanceEvent) error
}

// Notifier starts best-effort delivery of a notification
type Notifier interface {
	Dispatch(n notify.Notification)
}

// Evaluator runs a tenant's active governance policies over its cost records.
// Policies are independent: a failing policy yields enforced=false and the
// rest of the batch still runs.
type Evaluator struct {
	events       EventSink
	notifier     Notifier
	now          func() time.Time
	requiredTags []string
	maxOffenders int
	rego         *regoCache
	logger       *telemetry.Logger
	tracer       trace.Tracer
	metrics      *telemetry.Metrics
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock sets the clock that anchors budget periods
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithRequiredTags overrides the tag keys checked by tag compliance
func WithRequiredTags(keys []string) Option {
	return func(e *Evaluator) {
		if len(keys) > 0 {
			e.requiredTags = keys
		}
	}
}

// WithMaxOffenders overrides the tag compliance scan cap
func WithMaxOffenders(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxOffenders = n
		}
	}
}

// WithLogger overrides the evaluator logger
func WithLogger(logger *telemetry.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithMetrics overrides the evaluator instruments
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = metrics
	}
}

// NewEvaluator creates an evaluator. Either collaborator may be nil.
func NewEvaluator(events EventSink, notifier Notifier, opts ...Option) *Evaluator {
	e := &Evaluator{
		events:       events,
		notifier:     notifier,
		now:          time.Now,
		requiredTags: DefaultRequiredTags,
		maxOffenders: DefaultMaxOffenders,
		rego:         newRegoCache(),
		logger:       telemetry.NewLogger("policy"),
		tracer:       otel.Tracer("allot/policy"),
		metrics:      telemetry.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outcome is what a handler decided about one policy
type outcome struct {
	enforced  bool
	details   any
	eventType string
	message   string
}

// handler evaluates one policy type
type handler interface {
	evaluate(ctx context.Context, p types.GovernancePolicy, v *tenantView) (outcome, error)
}

// handlerFor selects the handler for a policy type
func (e *Evaluator) handlerFor(t types.PolicyType) handler {
	switch t {
	case types.PolicyBudgetThreshold:
		return budgetHandler{now: e.now}
	case types.PolicyTagCompliance:
		return tagComplianceHandler{required: e.requiredTags, max: e.maxOffenders}
	case types.PolicyRego:
		return regoHandler{cache: e.rego, now: e.now, required: e.requiredTags}
	default:
		return unknownHandler{}
	}
}

// Enforce evaluates every active policy in priority order and returns one
// result per active policy.
func (e *Evaluator) Enforce(ctx context.Context, policies []types.GovernancePolicy, tenantID int64, records []types.CostRecord) []Result {
	ctx, span := e.tracer.Start(ctx, "policy.enforce",
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenantID),
			attribute.Int("policies.count", len(policies)),
			attribute.Int("records.count", len(records)),
		))
	defer span.End()
	start := time.Now()

	active := lo.Filter(policies, func(p types.GovernancePolicy, _ int) bool {
		return p.IsActive
	})
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	view := newTenantView(ctx, e.logger, tenantID, records)

	results := make([]Result, 0, len(active))
	for _, p := range active {
		results = append(results, e.evaluate(ctx, p, view))
	}

	e.metrics.RecordDuration(ctx, "enforce", start)
	e.logger.WithTenant(ctx, tenantID).Info().
		Int("policies", len(active)).
		Int("enforced", CountEnforced(results)).
		Int("skipped_records", view.skipped).
		Msg("policy enforcement completed")

	return results
}

// evaluate runs a single policy, converting panics and handler errors
// into a non-enforced result.
func (e *Evaluator) evaluate(ctx context.Context, p types.GovernancePolicy, v *tenantView) (result Result) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("policy.id", p.ID),
			attribute.String("policy.type", string(p.Type)),
		))
	defer span.End()

	result = Result{PolicyID: p.ID, Type: p.Type}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("policy evaluation panicked: %v", r)
			result.Enforced = false
			result.Details = ErrorDetails{Error: msg}
			e.logger.WithContext(ctx).Error().
				Str("policy_id", p.ID).
				Str("policy_type", string(p.Type)).
				Msg(msg)
			e.metrics.RecordPolicyError(ctx, string(p.Type))
			telemetry.RecordPolicyEvaluatedEvent(span, p.ID, string(p.Type), false, "", msg)
		}
	}()

	out, err := e.handlerFor(p.Type).evaluate(ctx, p, v)
	if err != nil {
		result.Details = ErrorDetails{Error: err.Error()}
		e.logger.WithContext(ctx).Warn().
			Err(err).
			Str("policy_id", p.ID).
			Str("policy_type", string(p.Type)).
			Msg("policy evaluation failed")
		e.metrics.RecordPolicyError(ctx, string(p.Type))
		telemetry.RecordPolicyEvaluatedEvent(span, p.ID, string(p.Type), false, "", err.Error())
		return result
	}

	if out.details == DetailUnknownType {
		e.logger.WithContext(ctx).Warn().
			Str("policy_id", p.ID).
			Str("policy_type", string(p.Type)).
			Msg("policy has unknown type")
	}

	if out.enforced {
		if e.notify(ctx, p, v.tenantID, out) {
			out.details = markNotified(out.details)
		}
		e.recordEvent(ctx, p, v.tenantID, out)
	}

	result.Enforced = out.enforced
	result.Details = out.details

	e.metrics.RecordPolicyEvaluation(ctx, string(p.Type), out.enforced)
	telemetry.RecordPolicyEvaluatedEvent(span, p.ID, string(p.Type), out.enforced, out.message, "")
	return result
}

// recordEvent appends the audit event for an enforced policy.
// Failures are logged and never change the result.
func (e *Evaluator) recordEvent(ctx context.Context, p types.GovernancePolicy, tenantID int64, out outcome) {
	if e.events == nil || out.eventType == "" {
		return
	}

	details, err := json.Marshal(out.details)
	if err != nil {
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("policy_id", p.ID).
			Msg("failed to encode event details")
		return
	}

	event := types.GovernanceEvent{
		ID:        uuid.NewString(),
		EventType: out.eventType,
		PolicyID:  p.ID,
		Details:   details,
		Timestamp: e.now().UTC(),
		TenantID:  tenantID,
	}
	if err := e.events.AppendEvent(ctx, event); err != nil {
		e.logger.LogStorageError(ctx, "append_event", err)
		return
	}
	e.metrics.RecordGovernanceEvent(ctx, out.eventType)
}

// notify hands an enforced policy to the notifier when it names a destination.
// It reports whether the notifier accepted it. A panicking notifier is logged
// and counted; the policy result stands.
func (e *Evaluator) notify(ctx context.Context, p types.GovernancePolicy, tenantID int64, out outcome) (dispatched bool) {
	if p.Params.NotifyWebhook == "" && p.Params.NotifyQueueURL == "" {
		return false
	}
	if e.notifier == nil {
		e.logger.WithContext(ctx).Warn().
			Str("policy_id", p.ID).
			Msg("policy requests notification but no notifier is configured")
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			dispatched = false
			e.logger.WithContext(ctx).Error().
				Interface("panic", r).
				Str("policy_id", p.ID).
				Msg("notification dispatch panicked")
			e.metrics.RecordNotification(ctx, "dispatch", "failed")
		}
	}()

	details, _ := json.Marshal(out.details)
	e.notifier.Dispatch(notify.Notification{
		PolicyID:   p.ID,
		PolicyType: string(p.Type),
		EventType:  out.eventType,
		TenantID:   tenantID,
		Message:    out.message,
		Details:    details,
		Timestamp:  e.now().UTC(),
		WebhookURL: p.Params.NotifyWebhook,
		QueueURL:   p.Params.NotifyQueueURL,
	})
	return true
}

// markNotified flags details that report notification hand-off
func markNotified(details any) any {
	if d, ok := details.(BudgetDetails); ok {
		d.Notified = true
		return d
	}
	return details
}

// unknownHandler answers for policy types the evaluator does not know
type unknownHandler struct{}

func (unknownHandler) evaluate(context.Context, types.GovernancePolicy, *tenantView) (outcome, error) {
	return outcome{details: DetailUnknownType}, nil
}
