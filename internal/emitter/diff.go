package emitter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/allot/types"
)

// ChangeType classifies a cost center change between two reports
type ChangeType string

const (
	CostCenterAdded   ChangeType = "added"
	CostCenterRemoved ChangeType = "removed"
	CostCenterChanged ChangeType = "changed"
)

// CostCenterDiff is one allocation group whose cost moved between reports.
type CostCenterDiff struct {
	Type       ChangeType
	CostCenter string
	Department string
	Project    string
	Previous   types.Money
	Current    types.Money
}

// DiffTracker remembers the newest report per tenant and period and detects
// allocation groups that appeared, disappeared or changed cost.
type DiffTracker struct {
	mu       sync.Mutex
	previous map[string]baseline
}

type baseline struct {
	reportDate string
	groups     map[string]types.AllocationGroup
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]baseline),
	}
}

func seriesKey(report types.ChargebackReport) string {
	return fmt.Sprintf("%d/%s", report.TenantID, report.ReportPeriod)
}

func groupKey(g types.AllocationGroup) string {
	return g.CostCenter + "|" + g.Department + "|" + g.Project
}

func indexGroups(groups []types.AllocationGroup) map[string]types.AllocationGroup {
	m := make(map[string]types.AllocationGroup, len(groups))
	for _, g := range groups {
		m[groupKey(g)] = g
	}
	return m
}

// Advance compares the report with the baseline of its tenant and period and
// makes it the new baseline. Reports dated before the baseline are ignored
// and return advanced=false. Diffs are nil when there was no baseline.
func (d *DiffTracker) Advance(report types.ChargebackReport) (diffs []CostCenterDiff, advanced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := seriesKey(report)
	curr := indexGroups(report.AllocationBreakdown)

	prev, ok := d.previous[key]
	if ok && report.ReportDate < prev.reportDate {
		return nil, false
	}
	if ok {
		diffs = diffGroups(prev.groups, curr)
	}
	d.previous[key] = baseline{reportDate: report.ReportDate, groups: curr}
	return diffs, true
}

func diffGroups(prev, curr map[string]types.AllocationGroup) []CostCenterDiff {
	diffs := make([]CostCenterDiff, 0)

	for key, p := range prev {
		c, exists := curr[key]
		switch {
		case !exists:
			diffs = append(diffs, newDiff(CostCenterRemoved, p, p.Cost, types.Money{}))
		case c.Cost.Cmp(p.Cost) != 0:
			diffs = append(diffs, newDiff(CostCenterChanged, c, p.Cost, c.Cost))
		}
	}
	for key, c := range curr {
		if _, exists := prev[key]; !exists {
			diffs = append(diffs, newDiff(CostCenterAdded, c, types.Money{}, c.Cost))
		}
	}

	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].CostCenter != diffs[j].CostCenter {
			return diffs[i].CostCenter < diffs[j].CostCenter
		}
		if diffs[i].Department != diffs[j].Department {
			return diffs[i].Department < diffs[j].Department
		}
		return diffs[i].Project < diffs[j].Project
	})
	return diffs
}

func newDiff(t ChangeType, g types.AllocationGroup, prev, curr types.Money) CostCenterDiff {
	return CostCenterDiff{
		Type:       t,
		CostCenter: g.CostCenter,
		Department: g.Department,
		Project:    g.Project,
		Previous:   prev,
		Current:    curr,
	}
}
