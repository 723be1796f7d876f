package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/allot/types"
)

func tagPolicy(id string) types.GovernancePolicy {
	return types.GovernancePolicy{
		ID:       id,
		Type:     types.PolicyTagCompliance,
		IsActive: true,
		TenantID: 1,
	}
}

const fullyTagged = `{"Owner":"alice","CostCenter":"cc-1","Environment":"prod"}`

func TestTagCompliance_GroupsByServiceAndRegion(t *testing.T) {
	sink := &fakeEventSink{}
	evaluator, _ := newTestEvaluator(sink, nil)

	var records []types.CostRecord
	for day := 1; day <= 5; day++ {
		records = append(records, costRecord(fmt.Sprintf("2024-03-%02d", day), "S3", "us-east-1", "2.00", `{"CostCenter":"cc-1","Environment":"prod"}`))
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{tagPolicy("tags")}, 1, records)

	require.Len(t, results, 1)
	assert.True(t, results[0].Enforced)
	details, ok := results[0].Details.(TagComplianceDetails)
	require.True(t, ok)
	require.Len(t, details.GroupedResources, 1)

	group := details.GroupedResources[0]
	assert.Equal(t, "S3", group.ServiceName)
	assert.Equal(t, "us-east-1", group.Region)
	assert.Equal(t, 5, group.RecordCount)
	assert.Equal(t, "10.00", group.TotalCost.String())
	assert.Equal(t, "2024-03-01", group.FirstSeen)
	assert.Equal(t, "2024-03-05", group.LastSeen)
	assert.Equal(t, []string{"Owner"}, group.MissingTags)

	require.Len(t, sink.events, 1)
	assert.Equal(t, types.EventTagComplianceViolation, sink.events[0].EventType)
}

func TestTagCompliance_Selection(t *testing.T) {
	records := []types.CostRecord{
		costRecord("2024-03-01", "EC2", "us-east-1", "10", fullyTagged),
		costRecord("2024-03-01", "Tax", "global", "99", ""),
		costRecord("2024-03-01", "AWS Data Transfer", "us-east-1", "99", ""),
		costRecord("2024-03-01", "AWS Support (Business)", "global", "99", ""),
		costRecord("2024-03-01", "Amazon Registrar", "global", "99", ""),
		costRecord("2024-03-01", "RDS", "eu-west-1", "3", `{"Owner":"","CostCenter":"cc","Environment":"dev"}`),
		costRecord("2024-03-01", "Lambda", "eu-west-1", "4", `["not","an","object"]`),
	}

	evaluator, _ := newTestEvaluator(nil, nil)
	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{tagPolicy("tags")}, 1, records)

	require.Len(t, results, 1)
	details := results[0].Details.(TagComplianceDetails)
	require.Len(t, details.GroupedResources, 2)

	// highest cost first
	assert.Equal(t, "Lambda", details.GroupedResources[0].ServiceName)
	assert.Equal(t, []string{"CostCenter", "Environment", "Owner"}, details.GroupedResources[0].MissingTags)
	assert.Equal(t, "RDS", details.GroupedResources[1].ServiceName)
	assert.Equal(t, []string{"Owner"}, details.GroupedResources[1].MissingTags)
	assert.Equal(t, "7", details.UntaggedCost.String())
}

func TestTagCompliance_CompliantTenantNotEnforced(t *testing.T) {
	sink := &fakeEventSink{}
	evaluator, _ := newTestEvaluator(sink, nil)
	records := []types.CostRecord{
		costRecord("2024-03-01", "EC2", "us-east-1", "10", fullyTagged),
		costRecord("2024-03-01", "Tax", "global", "1", ""),
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{tagPolicy("tags")}, 1, records)

	require.Len(t, results, 1)
	assert.False(t, results[0].Enforced)
	assert.Empty(t, results[0].Details.(TagComplianceDetails).GroupedResources)
	assert.Empty(t, sink.events)
}

func TestTagCompliance_CapsScanAtHighestCost(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil, WithMaxOffenders(2))
	records := []types.CostRecord{
		costRecord("2024-03-01", "EC2", "us-east-1", "1", ""),
		costRecord("2024-03-02", "RDS", "us-east-1", "50", ""),
		costRecord("2024-03-01", "S3", "us-east-1", "50", ""),
		costRecord("2024-03-03", "Lambda", "us-east-1", "5", ""),
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{tagPolicy("tags")}, 1, records)

	details := results[0].Details.(TagComplianceDetails)
	assert.Equal(t, 2, details.ViolatingRecords)
	require.Len(t, details.GroupedResources, 2)
	services := []string{details.GroupedResources[0].ServiceName, details.GroupedResources[1].ServiceName}
	// equal totals order by service name
	assert.Equal(t, []string{"RDS", "S3"}, services)
}

func TestTagCompliance_DefaultCap(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)

	var records []types.CostRecord
	for i := 0; i < 150; i++ {
		r := costRecord("2024-03-01", "EC2", fmt.Sprintf("region-%03d", i), "1", "")
		records = append(records, r)
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{tagPolicy("tags")}, 1, records)

	details := results[0].Details.(TagComplianceDetails)
	assert.Equal(t, DefaultMaxOffenders, details.ViolatingRecords)
	assert.Len(t, details.GroupedResources, DefaultMaxOffenders)
}

func TestTagCompliance_ReportsAutoRemediate(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)
	p := tagPolicy("tags")
	p.Params.AutoRemediate = true

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{p}, 1,
		[]types.CostRecord{costRecord("2024-03-01", "EC2", "us-east-1", "1", "")})

	assert.True(t, results[0].Details.(TagComplianceDetails).AutoRemediate)
}

func TestTagCompliance_CustomRequiredTags(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil, WithRequiredTags([]string{"team"}))

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{tagPolicy("tags")}, 1,
		[]types.CostRecord{costRecord("2024-03-01", "EC2", "us-east-1", "1", `{"team":"core"}`)})

	assert.False(t, results[0].Enforced)
}
