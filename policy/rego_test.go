package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/allot/types"
)

const spendModule = `package allot

default enforced := false

enforced if input.monthly_spend > 50

reason := "monthly spend above 50" if enforced
`

func regoPolicy(id, module, query string) types.GovernancePolicy {
	return types.GovernancePolicy{
		ID:       id,
		Type:     types.PolicyRego,
		Params:   types.PolicyParams{Module: module, Query: query},
		IsActive: true,
		TenantID: 1,
	}
}

func TestRego_Enforced(t *testing.T) {
	sink := &fakeEventSink{}
	evaluator, _ := newTestEvaluator(sink, nil)
	records := []types.CostRecord{
		costRecord("2024-03-10", "EC2", "us-east-1", "40", ""),
		costRecord("2024-03-15", "S3", "us-east-1", "20", ""),
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{regoPolicy("r", spendModule, "")}, 1, records)

	require.Len(t, results, 1)
	assert.True(t, results[0].Enforced)
	details, ok := results[0].Details.(RegoDetails)
	require.True(t, ok)
	assert.Equal(t, DefaultRegoQuery, details.Query)
	assert.Equal(t, "monthly spend above 50", details.Reason)

	require.Len(t, sink.events, 1)
	assert.Equal(t, types.EventRegoPolicyEnforced, sink.events[0].EventType)
}

func TestRego_NotEnforced(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)
	records := []types.CostRecord{costRecord("2024-03-10", "EC2", "us-east-1", "10", "")}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{regoPolicy("r", spendModule, "")}, 1, records)

	require.Len(t, results, 1)
	assert.False(t, results[0].Enforced)
	assert.Empty(t, results[0].Details.(RegoDetails).Reason)
}

func TestRego_BooleanQuery(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)
	records := []types.CostRecord{costRecord("2024-03-15", "EC2", "us-east-1", "60", "")}

	results := evaluator.Enforce(context.Background(),
		[]types.GovernancePolicy{regoPolicy("r", spendModule, "data.allot.enforced")}, 1, records)

	require.Len(t, results, 1)
	assert.True(t, results[0].Enforced)
}

func TestRego_Input(t *testing.T) {
	module := `package allot

enforced if {
	input.tenant_id == 1
	input.daily_spend == 20
	input.monthly_spend == 60
	input.service_spend.EC2 == 40
	input.untagged_records == 2
	input.now == "2024-03-15T12:00:00Z"
}
`
	evaluator, _ := newTestEvaluator(nil, nil)
	records := []types.CostRecord{
		costRecord("2024-03-10", "EC2", "us-east-1", "40", ""),
		costRecord("2024-03-15", "S3", "us-east-1", "20", ""),
		costRecord("2024-02-10", "S3", "us-east-1", "999", fullyTagged),
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{regoPolicy("r", module, "")}, 1, records)

	require.Len(t, results, 1)
	assert.True(t, results[0].Enforced)
}

func TestRego_Errors(t *testing.T) {
	tests := []struct {
		name   string
		module string
		query  string
		want   string
	}{
		{name: "missing module", module: "", want: "no module"},
		{name: "compile error", module: "package allot\n\nenforced if {", want: "failed to compile"},
		{name: "unexpected result", module: "package allot\n\nlimit := 5\n", query: "data.allot.limit", want: "unexpected policy result"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator, _ := newTestEvaluator(nil, nil)

			results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{regoPolicy("r", tt.module, tt.query)}, 1, nil)

			require.Len(t, results, 1)
			assert.False(t, results[0].Enforced)
			details, ok := results[0].Details.(ErrorDetails)
			require.True(t, ok)
			assert.Contains(t, details.Error, tt.want)
		})
	}
}

func TestRegoCache_ReusesCompiledQuery(t *testing.T) {
	cache := newRegoCache()
	ctx := context.Background()

	_, err := cache.prepare(ctx, "a", DefaultRegoQuery, spendModule)
	require.NoError(t, err)
	_, err = cache.prepare(ctx, "b", DefaultRegoQuery, spendModule)
	require.NoError(t, err)

	assert.Len(t, cache.queries, 1)
}
