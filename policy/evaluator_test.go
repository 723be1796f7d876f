package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/allot/notify"
	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeEventSink struct {
	mu     sync.Mutex
	events []types.GovernanceEvent
	err    error
}

func (s *fakeEventSink) AppendEvent(_ context.Context, event types.GovernanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (n *fakeNotifier) Dispatch(notification notify.Notification) {
	n.sent = append(n.sent, notification)
}

type panicNotifier struct{}

func (panicNotifier) Dispatch(notify.Notification) {
	panic("notifier exploded")
}

func newTestEvaluator(events EventSink, notifier Notifier, opts ...Option) (*Evaluator, *bytes.Buffer) {
	var buf bytes.Buffer
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithLogger(telemetry.NewLoggerWithWriter("policy", &buf)),
		WithMetrics(telemetry.NoopMetrics()),
	}, opts...)
	return NewEvaluator(events, notifier, opts...), &buf
}

func costRecord(date, service, region, amount string, tags string) types.CostRecord {
	r := types.CostRecord{
		Date:        date,
		ServiceName: service,
		Region:      region,
		ResourceID:  fmt.Sprintf("%s-%s-%s", service, region, date),
		CostAmount:  types.RawDecimal(amount),
		Currency:    "USD",
		TenantID:    1,
	}
	if tags != "" {
		r.Tags = json.RawMessage(tags)
	}
	return r
}

func budgetPolicy(id, amount, period string) types.GovernancePolicy {
	return types.GovernancePolicy{
		ID:       id,
		Type:     types.PolicyBudgetThreshold,
		Params:   types.PolicyParams{BudgetAmount: types.RawDecimal(amount), Period: period},
		IsActive: true,
		TenantID: 1,
	}
}

func TestBudget_MonthlyEqualSpendEnforces(t *testing.T) {
	sink := &fakeEventSink{}
	evaluator, _ := newTestEvaluator(sink, nil)
	records := []types.CostRecord{
		costRecord("2024-03-01", "EC2", "us-east-1", "60.00", ""),
		costRecord("2024-03-14", "S3", "us-east-1", "40.00", ""),
		costRecord("2024-02-28", "EC2", "us-east-1", "500.00", ""),
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b1", "100", "monthly")}, 1, records)

	require.Len(t, results, 1)
	assert.True(t, results[0].Enforced)
	details, ok := results[0].Details.(BudgetDetails)
	require.True(t, ok)
	assert.Equal(t, "100.00", details.Spend.String())
	assert.Equal(t, "2024-03-01", details.PeriodStart)
	assert.Equal(t, 2, details.RecordCount)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, types.EventBudgetExceeded, event.EventType)
	assert.Equal(t, "b1", event.PolicyID)
	assert.Equal(t, int64(1), event.TenantID)
	assert.Equal(t, testNow, event.Timestamp)
	assert.NotEmpty(t, event.ID)
	assert.Contains(t, string(event.Details), `"spend":100.00`)
}

func TestBudget_Boundary(t *testing.T) {
	tests := []struct {
		spend    string
		enforced bool
	}{
		{spend: "99.99", enforced: false},
		{spend: "100", enforced: true},
		{spend: "100.01", enforced: true},
	}

	for _, tt := range tests {
		t.Run(tt.spend, func(t *testing.T) {
			evaluator, _ := newTestEvaluator(nil, nil)
			records := []types.CostRecord{costRecord("2024-03-10", "EC2", "us-east-1", tt.spend, "")}

			results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b", "100.00", "monthly")}, 1, records)

			require.Len(t, results, 1)
			assert.Equal(t, tt.enforced, results[0].Enforced)
		})
	}
}

func TestBudget_Periods(t *testing.T) {
	records := []types.CostRecord{
		costRecord("2024-03-15", "EC2", "us-east-1", "30", ""),
		costRecord("2024-03-15T08:30:00Z", "EC2", "us-east-1", "10", ""),
		costRecord("2024-03-14", "EC2", "us-east-1", "50", ""),
	}

	tests := []struct {
		period     string
		wantPeriod string
		wantSpend  string
	}{
		{period: "daily", wantPeriod: "daily", wantSpend: "40"},
		{period: "monthly", wantPeriod: "monthly", wantSpend: "90"},
		{period: "weekly", wantPeriod: "monthly", wantSpend: "90"},
		{period: "", wantPeriod: "monthly", wantSpend: "90"},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			evaluator, _ := newTestEvaluator(nil, nil)

			results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b", "1000", tt.period)}, 1, records)

			require.Len(t, results, 1)
			details := results[0].Details.(BudgetDetails)
			assert.Equal(t, tt.wantPeriod, details.Period)
			assert.Equal(t, tt.wantSpend, details.Spend.String())
			assert.False(t, results[0].Enforced)
		})
	}
}

func TestBudget_InvalidParams(t *testing.T) {
	for _, amount := range []string{"", "lots", "NaN"} {
		t.Run(amount, func(t *testing.T) {
			sink := &fakeEventSink{}
			evaluator, _ := newTestEvaluator(sink, nil)

			results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b", amount, "monthly")}, 1, nil)

			require.Len(t, results, 1)
			assert.False(t, results[0].Enforced)
			details, ok := results[0].Details.(ErrorDetails)
			require.True(t, ok)
			assert.Equal(t, DetailInvalidParams, details.Error)
			assert.Empty(t, sink.events)
		})
	}
}

func TestBudget_TenantFilter(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)
	other := costRecord("2024-03-10", "EC2", "us-east-1", "1000", "")
	other.TenantID = 2
	records := []types.CostRecord{other, costRecord("2024-03-10", "EC2", "us-east-1", "5", "")}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b", "100", "monthly")}, 1, records)

	require.Len(t, results, 1)
	assert.False(t, results[0].Enforced)
	assert.Equal(t, "5", results[0].Details.(BudgetDetails).Spend.String())
}

func TestBudget_Notification(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := &fakeEventSink{}
	evaluator, _ := newTestEvaluator(sink, notifier)

	p := budgetPolicy("b", "10", "monthly")
	p.Params.NotifyWebhook = "https://hooks.example.com/budget"
	quiet := budgetPolicy("quiet", "10", "monthly")
	records := []types.CostRecord{costRecord("2024-03-10", "EC2", "us-east-1", "20", "")}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{p, quiet}, 1, records)

	require.Len(t, results, 2)
	assert.True(t, results[0].Enforced)
	assert.True(t, results[1].Enforced)
	require.Len(t, notifier.sent, 1)
	sent := notifier.sent[0]
	assert.Equal(t, "https://hooks.example.com/budget", sent.WebhookURL)
	assert.Equal(t, types.EventBudgetExceeded, sent.EventType)
	assert.Equal(t, int64(1), sent.TenantID)
	assert.Contains(t, sent.Message, "monthly spend 20 reached budget 10")

	assert.True(t, results[0].Details.(BudgetDetails).Notified)
	assert.False(t, results[1].Details.(BudgetDetails).Notified)
	require.Len(t, sink.events, 2)
	assert.Contains(t, string(sink.events[0].Details), `"notified":true`)
	assert.Contains(t, string(sink.events[1].Details), `"notified":false`)
}

func TestBudget_NotEnforcedDoesNotNotify(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := &fakeEventSink{}
	evaluator, _ := newTestEvaluator(sink, notifier)

	p := budgetPolicy("b", "100", "monthly")
	p.Params.NotifyWebhook = "https://hooks.example.com/budget"

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{p}, 1, nil)

	require.Len(t, results, 1)
	assert.False(t, results[0].Enforced)
	assert.Empty(t, notifier.sent)
	assert.Empty(t, sink.events)
}

func TestEnforce_EventFailureDoesNotChangeResult(t *testing.T) {
	sink := &fakeEventSink{err: errors.New("database is locked")}
	evaluator, logs := newTestEvaluator(sink, nil)
	records := []types.CostRecord{costRecord("2024-03-10", "EC2", "us-east-1", "200", "")}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b", "100", "monthly")}, 1, records)

	require.Len(t, results, 1)
	assert.True(t, results[0].Enforced)
	assert.Contains(t, logs.String(), "database is locked")
}

func TestEnforce_UnknownType(t *testing.T) {
	evaluator, logs := newTestEvaluator(nil, nil)
	p := types.GovernancePolicy{ID: "x", Type: "anomaly_detection", IsActive: true}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{p}, 1, nil)

	require.Len(t, results, 1)
	assert.False(t, results[0].Enforced)
	assert.Equal(t, DetailUnknownType, results[0].Details)
	assert.Contains(t, logs.String(), "unknown type")
}

func TestEnforce_SkipsInactiveAndOrdersByPriority(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)

	late := budgetPolicy("late", "1", "monthly")
	late.Priority = 20
	early := budgetPolicy("early", "1", "monthly")
	early.Priority = 5
	off := budgetPolicy("off", "1", "monthly")
	off.IsActive = false
	tieA := budgetPolicy("tie-a", "1", "monthly")
	tieA.Priority = 10
	tieB := budgetPolicy("tie-b", "1", "monthly")
	tieB.Priority = 10

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{late, off, tieA, early, tieB}, 1, nil)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.PolicyID)
	}
	assert.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, ids)
}

func TestEnforce_NotifierPanicKeepsResult(t *testing.T) {
	sink := &fakeEventSink{}
	evaluator, logs := newTestEvaluator(sink, panicNotifier{})

	boom := budgetPolicy("boom", "1", "monthly")
	boom.Priority = 1
	boom.Params.NotifyWebhook = "https://hooks.example.com/x"
	next := budgetPolicy("next", "1", "monthly")
	next.Priority = 2
	records := []types.CostRecord{costRecord("2024-03-10", "EC2", "us-east-1", "5", "")}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{boom, next}, 1, records)

	require.Len(t, results, 2)
	assert.True(t, results[0].Enforced)
	details, ok := results[0].Details.(BudgetDetails)
	require.True(t, ok)
	assert.False(t, details.Notified)
	assert.True(t, results[1].Enforced)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "boom", sink.events[0].PolicyID)
	assert.Contains(t, logs.String(), "notification dispatch panicked")
}

func TestEnforce_PanicIsolatedToPolicy(t *testing.T) {
	// a nil clock makes the budget handler panic; tag compliance never reads it
	evaluator, logs := newTestEvaluator(nil, nil, WithClock(nil))

	boom := budgetPolicy("boom", "1", "monthly")
	boom.Priority = 1
	next := tagPolicy("next")
	next.Priority = 2
	records := []types.CostRecord{costRecord("2024-03-10", "EC2", "us-east-1", "5", "")}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{boom, next}, 1, records)

	require.Len(t, results, 2)
	assert.False(t, results[0].Enforced)
	details, ok := results[0].Details.(ErrorDetails)
	require.True(t, ok)
	assert.Contains(t, details.Error, "policy evaluation panicked")
	assert.True(t, results[1].Enforced)
	assert.Contains(t, logs.String(), "policy evaluation panicked")
}

func TestEnforce_SkipsMalformedRecords(t *testing.T) {
	evaluator, _ := newTestEvaluator(nil, nil)
	records := []types.CostRecord{
		costRecord("2024-03-10", "EC2", "us-east-1", "bogus", ""),
		costRecord("not-a-date", "EC2", "us-east-1", "1000", ""),
		costRecord("2024-03-10", "EC2", "us-east-1", "7", ""),
	}

	results := evaluator.Enforce(context.Background(), []types.GovernancePolicy{budgetPolicy("b", "100", "monthly")}, 1, records)

	require.Len(t, results, 1)
	assert.Equal(t, "7", results[0].Details.(BudgetDetails).Spend.String())
}

func TestCountEnforced(t *testing.T) {
	results := []Result{{Enforced: true}, {Enforced: false}, {Enforced: true}}
	assert.Equal(t, 2, CountEnforced(results))
	assert.Equal(t, 0, CountEnforced(nil))
}
