package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/yairfalse/allot/types"
)

// DefaultRegoQuery is evaluated when a rego policy names no query
const DefaultRegoQuery = "data.allot"

// RegoInput is the document a rego policy is evaluated against
type RegoInput struct {
	TenantID        int64              `json:"tenant_id"`
	Now             string             `json:"now"`
	DailySpend      float64            `json:"daily_spend"`
	MonthlySpend    float64            `json:"monthly_spend"`
	ServiceSpend    map[string]float64 `json:"service_spend"`
	UntaggedRecords int                `json:"untagged_records"`
}

// regoCache keeps compiled queries keyed by query and module source
type regoCache struct {
	mu      sync.Mutex
	queries map[string]rego.PreparedEvalQuery
}

func newRegoCache() *regoCache {
	return &regoCache{queries: make(map[string]rego.PreparedEvalQuery)}
}

func (c *regoCache) prepare(ctx context.Context, name, query, module string) (rego.PreparedEvalQuery, error) {
	key := query + "\x00" + module

	c.mu.Lock()
	defer c.mu.Unlock()

	if pq, ok := c.queries[key]; ok {
		return pq, nil
	}

	pq, err := rego.New(
		rego.Query(query),
		rego.Module(name+".rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	c.queries[key] = pq
	return pq, nil
}

// regoHandler evaluates a policy-supplied OPA module. The decision is read
// from the enforced and reason fields of the query result.
type regoHandler struct {
	cache    *regoCache
	now      func() time.Time
	required []string
}

func (h regoHandler) evaluate(ctx context.Context, p types.GovernancePolicy, v *tenantView) (outcome, error) {
	if p.Params.Module == "" {
		return outcome{}, errors.New("rego policy has no module")
	}

	query := p.Params.Query
	if query == "" {
		query = DefaultRegoQuery
	}

	pq, err := h.cache.prepare(ctx, p.ID, query, p.Params.Module)
	if err != nil {
		return outcome{}, err
	}

	results, err := pq.Eval(ctx, rego.EvalInput(h.buildInput(v)))
	if err != nil {
		return outcome{}, fmt.Errorf("evaluation failed: %w", err)
	}

	enforced, reason, err := parseRegoDecision(results)
	if err != nil {
		return outcome{}, err
	}

	return outcome{
		enforced:  enforced,
		details:   RegoDetails{Query: query, Reason: reason},
		eventType: types.EventRegoPolicyEnforced,
		message:   reason,
	}, nil
}

func (h regoHandler) buildInput(v *tenantView) RegoInput {
	now := h.now().UTC()
	_, today := budgetPeriod(types.PeriodDaily, now)
	_, month := budgetPeriod(types.PeriodMonthly, now)

	daily, _ := v.spendSince(today)
	monthly, _ := v.spendSince(month)

	services := make(map[string]float64)
	for name, spend := range v.serviceSpendSince(month) {
		services[name] = spend.Float64()
	}

	return RegoInput{
		TenantID:        v.tenantID,
		Now:             now.Format(time.RFC3339),
		DailySpend:      daily.Float64(),
		MonthlySpend:    monthly.Float64(),
		ServiceSpend:    services,
		UntaggedRecords: len(v.untagged(h.required)),
	}
}

// parseRegoDecision reads the decision from a result set. The query may
// produce an object with enforced/reason fields or a bare boolean.
// An undefined result is not enforced.
func parseRegoDecision(results rego.ResultSet) (bool, string, error) {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "", nil
	}

	switch value := results[0].Expressions[0].Value.(type) {
	case bool:
		return value, "", nil
	case map[string]interface{}:
		enforced, _ := value["enforced"].(bool)
		reason, _ := value["reason"].(string)
		return enforced, reason, nil
	default:
		return false, "", fmt.Errorf("unexpected policy result type %T", value)
	}
}
