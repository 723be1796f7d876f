package chargeback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
)

var createdAt = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestAggregator() (*Aggregator, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewAggregator(
		WithClock(func() time.Time { return createdAt }),
		WithLogger(telemetry.NewLoggerWithWriter("chargeback", &buf)),
		WithMetrics(telemetry.NoopMetrics()),
	), &buf
}

func allocated(service, resource, amount, tags string, costCenter, project *string) types.AllocatedCostRecord {
	r := types.AllocatedCostRecord{
		CostRecord: types.CostRecord{
			Date:        "2024-03-10",
			ServiceName: service,
			Region:      "us-east-1",
			ResourceID:  resource,
			CostAmount:  types.RawDecimal(amount),
			TenantID:    3,
		},
		Amount:     types.MustMoney(amount),
		RuleID:     types.StringPtr("rule"),
		CostCenter: costCenter,
		Department: types.StringPtr("engineering"),
		Project:    project,
	}
	if tags != "" {
		r.Tags = json.RawMessage(tags)
	}
	return r
}

func TestAggregate(t *testing.T) {
	aggregator, logs := newTestAggregator()
	infra := types.StringPtr("infra")
	records := []types.AllocatedCostRecord{
		allocated("EC2", "i-1", "10.50", `{"team":"core"}`, infra, types.StringPtr("alpha")),
		allocated("EC2", "i-1", "4.50", `{"team":"core","env":"prod"}`, infra, types.StringPtr("alpha")),
		allocated("S3", "", "5", "", infra, nil),
		allocated("Lambda", "fn-1", "2.25", `{"team":`, nil, nil),
		types.Unallocated(types.CostRecord{ServiceName: "Support", TenantID: 3}, types.MustMoney("1")),
	}

	report, err := aggregator.Aggregate(context.Background(), "monthly", "2024-03-15", records)
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, int64(3), report.TenantID)
	assert.Equal(t, "monthly", report.ReportPeriod)
	assert.Equal(t, "2024-03-15", report.ReportDate)
	assert.Equal(t, "2024-03-01", report.PeriodStart)
	assert.Equal(t, "2024-03-31", report.PeriodEnd)
	assert.Equal(t, createdAt, report.CreatedAt)
	assert.Equal(t, 5, report.RecordCount)
	assert.Equal(t, "23.25", report.TotalCost.String())

	assert.Equal(t, "15.00", report.ServiceBreakdown["EC2"].String())
	assert.Equal(t, "5", report.ServiceBreakdown["S3"].String())

	assert.Equal(t, "15.00", report.ResourceBreakdown["i-1"].String())
	assert.Len(t, report.ResourceBreakdown, 2)

	assert.Equal(t, "15.00", report.TagBreakdown["team:core"].String())
	assert.Equal(t, "4.50", report.TagBreakdown["env:prod"].String())
	assert.Equal(t, 1, report.SkippedTagRecords)
	assert.Contains(t, logs.String(), "unparseable tags")

	require.Len(t, report.AllocationBreakdown, 4)
	top := report.AllocationBreakdown[0]
	assert.Equal(t, types.AllocationGroup{CostCenter: "infra", Department: "engineering", Project: "alpha", Cost: top.Cost, RecordCount: 2}, top)
	assert.Equal(t, "15.00", top.Cost.String())

	second := report.AllocationBreakdown[1]
	assert.Equal(t, "infra", second.CostCenter)
	assert.Equal(t, types.Unassigned, second.Project)
}

func TestAggregate_TotalEqualsInputSum(t *testing.T) {
	aggregator, _ := newTestAggregator()
	amounts := []string{"0.1", "0.2", "0.3", "1e2", "-5.05"}

	var records []types.AllocatedCostRecord
	var want types.Money
	for i, a := range amounts {
		records = append(records, allocated("EC2", string(rune('a'+i)), a, "", nil, nil))
		want = want.Add(types.MustMoney(a))
	}

	report, err := aggregator.Aggregate(context.Background(), "daily", "2024-03-10", records)
	require.NoError(t, err)

	assert.Equal(t, 0, want.Cmp(report.TotalCost))
	assert.Equal(t, "95.55", report.TotalCost.String())
}

func TestAggregate_Empty(t *testing.T) {
	aggregator, _ := newTestAggregator()

	report, err := aggregator.Aggregate(context.Background(), "weekly", "2024-03-15", nil)
	require.NoError(t, err)

	assert.True(t, report.TotalCost.IsZero())
	assert.NotNil(t, report.ServiceBreakdown)
	assert.NotNil(t, report.ResourceBreakdown)
	assert.NotNil(t, report.TagBreakdown)
	assert.NotNil(t, report.AllocationBreakdown)
	assert.Empty(t, report.AllocationBreakdown)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"serviceBreakdown":{}`)
	assert.Contains(t, string(data), `"allocationBreakdown":[]`)
	assert.Contains(t, string(data), `"totalCost":0`)
}

func TestAggregate_UnknownPeriod(t *testing.T) {
	aggregator, _ := newTestAggregator()

	_, err := aggregator.Aggregate(context.Background(), "hourly", "2024-03-15", nil)

	assert.True(t, errors.Is(err, ErrUnknownPeriod))
}

func TestAggregate_InexactTotalFails(t *testing.T) {
	aggregator, _ := newTestAggregator()
	records := []types.AllocatedCostRecord{
		allocated("EC2", "i-1", "1E+40", "", nil, nil),
		allocated("EC2", "i-2", "1", "", nil, nil),
	}

	_, err := aggregator.Aggregate(context.Background(), "monthly", "2024-03-15", records)

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInexactSum))
}

func TestAggregate_Deterministic(t *testing.T) {
	aggregator, _ := newTestAggregator()
	records := []types.AllocatedCostRecord{
		allocated("EC2", "i-1", "1", `{"a":"1"}`, types.StringPtr("x"), nil),
		allocated("S3", "b-1", "1", `{"b":"2"}`, types.StringPtr("y"), nil),
		allocated("RDS", "d-1", "1", `{"c":"3"}`, types.StringPtr("z"), nil),
	}

	first, err := aggregator.Aggregate(context.Background(), "monthly", "2024-03-15", records)
	require.NoError(t, err)
	second, err := aggregator.Aggregate(context.Background(), "monthly", "2024-03-15", records)
	require.NoError(t, err)

	assert.Equal(t, first.AllocationBreakdown, second.AllocationBreakdown)
	assert.Equal(t, first.TagBreakdown, second.TagBreakdown)
	assert.Equal(t, []string{"x", "y", "z"}, []string{
		first.AllocationBreakdown[0].CostCenter,
		first.AllocationBreakdown[1].CostCenter,
		first.AllocationBreakdown[2].CostCenter,
	})
}
