package policy

import (
	"context"
	"strings"

	"github.com/yairfalse/allot/telemetry"
	"github.com/yairfalse/allot/types"
)

// nonResourceLineItems are billing lines that cannot carry resource tags
var nonResourceLineItems = []string{"tax", "data transfer", "support", "registrar"}

// entry is a tenant record with its amount and day already parsed
type entry struct {
	record types.CostRecord
	amount types.Money
	day    string
}

// untaggedEntry is a billable record missing at least one required tag
type untaggedEntry struct {
	entry
	missing []string
}

// tenantView is the parsed record set shared by every policy in one pass
type tenantView struct {
	tenantID int64
	entries  []entry
	skipped  int

	untaggedDone bool
	untaggedList []untaggedEntry
}

func newTenantView(ctx context.Context, logger *telemetry.Logger, tenantID int64, records []types.CostRecord) *tenantView {
	v := &tenantView{tenantID: tenantID}

	for _, r := range records {
		if r.TenantID != tenantID {
			continue
		}

		amount, err := r.CostAmount.Parse()
		if err != nil {
			logger.LogSkippedRecord(ctx, r.ResourceID, "unparseable cost amount", err)
			v.skipped++
			continue
		}
		day, err := r.Day()
		if err != nil {
			logger.LogSkippedRecord(ctx, r.ResourceID, "unparseable date", err)
			v.skipped++
			continue
		}

		v.entries = append(v.entries, entry{record: r, amount: amount, day: day})
	}
	return v
}

// spendSince sums records dated on or after day
func (v *tenantView) spendSince(day string) (types.Money, int) {
	var total types.Money
	n := 0
	for _, e := range v.entries {
		if e.day >= day {
			total = total.Add(e.amount)
			n++
		}
	}
	return total, n
}

// serviceSpendSince sums records dated on or after day by service
func (v *tenantView) serviceSpendSince(day string) map[string]types.Money {
	out := make(map[string]types.Money)
	for _, e := range v.entries {
		if e.day >= day {
			out[e.record.ServiceName] = out[e.record.ServiceName].Add(e.amount)
		}
	}
	return out
}

// untagged returns billable records missing any required tag.
// The result is computed once per view.
func (v *tenantView) untagged(required []string) []untaggedEntry {
	if v.untaggedDone {
		return v.untaggedList
	}
	v.untaggedDone = true

	for _, e := range v.entries {
		if isNonResourceLineItem(e.record.ServiceName) {
			continue
		}
		if missing := missingTags(e.record, required); len(missing) > 0 {
			v.untaggedList = append(v.untaggedList, untaggedEntry{entry: e, missing: missing})
		}
	}
	return v.untaggedList
}

func isNonResourceLineItem(service string) bool {
	lower := strings.ToLower(service)
	for _, item := range nonResourceLineItems {
		if strings.Contains(lower, item) {
			return true
		}
	}
	return false
}

// missingTags lists required keys that are absent or empty.
// Unreadable tags count as missing every key.
func missingTags(record types.CostRecord, required []string) []string {
	tags, err := record.ParseTags()
	if err != nil {
		return append([]string(nil), required...)
	}

	var missing []string
	for _, k := range required {
		if tags[k] == "" {
			missing = append(missing, k)
		}
	}
	return missing
}
