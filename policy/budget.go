package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/allot/types"
)

// budgetHandler compares period spend to a budget.
// Daily periods start today; every other period starts on the first of
// the current month. Both are anchored to the evaluator clock in UTC.
type budgetHandler struct {
	now func() time.Time
}

func (h budgetHandler) evaluate(_ context.Context, p types.GovernancePolicy, v *tenantView) (outcome, error) {
	budget, err := p.Params.BudgetAmount.Parse()
	if err != nil {
		return outcome{details: ErrorDetails{Error: DetailInvalidParams, Message: err.Error()}}, nil
	}

	period, start := budgetPeriod(p.Params.Period, h.now())
	spend, n := v.spendSince(start)
	enforced := spend.Cmp(budget) >= 0

	return outcome{
		enforced: enforced,
		details: BudgetDetails{
			Period:       period,
			PeriodStart:  start,
			Spend:        spend,
			BudgetAmount: budget,
			RecordCount:  n,
		},
		eventType: types.EventBudgetExceeded,
		message:   fmt.Sprintf("%s spend %s reached budget %s", period, spend, budget),
	}, nil
}

// budgetPeriod resolves the period name and its first day
func budgetPeriod(period string, now time.Time) (string, string) {
	now = now.UTC()
	if period == types.PeriodDaily {
		return types.PeriodDaily, types.FormatDay(now)
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return types.PeriodMonthly, types.FormatDay(first)
}
