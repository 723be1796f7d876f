package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/yairfalse/allot/types"
)

// tagComplianceHandler finds the highest-cost untagged billing lines and
// groups them by (service, region). A resource billed daily produces many
// lines; grouping keeps it a single offender.
type tagComplianceHandler struct {
	required []string
	max      int
}

func (h tagComplianceHandler) evaluate(_ context.Context, p types.GovernancePolicy, v *tenantView) (outcome, error) {
	candidates := append([]untaggedEntry(nil), v.untagged(h.required)...)

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := a.amount.Cmp(b.amount); c != 0 {
			return c > 0
		}
		if a.day != b.day {
			return a.day < b.day
		}
		return a.record.ResourceID < b.record.ResourceID
	})
	if len(candidates) > h.max {
		candidates = candidates[:h.max]
	}

	groups, untaggedCost := groupOffenders(candidates)

	return outcome{
		enforced: len(groups) > 0,
		details: TagComplianceDetails{
			RequiredTags:     h.required,
			ViolatingRecords: len(candidates),
			UntaggedCost:     untaggedCost,
			GroupedResources: groups,
			AutoRemediate:    p.Params.AutoRemediate,
		},
		eventType: types.EventTagComplianceViolation,
		message:   fmt.Sprintf("%d service/region groups with untagged spend %s", len(groups), untaggedCost),
	}, nil
}

type groupKey struct {
	service string
	region  string
}

// groupOffenders collapses records into (service, region) groups ordered
// by total cost, highest first.
func groupOffenders(entries []untaggedEntry) ([]OffenderGroup, types.Money) {
	var total types.Money
	index := make(map[groupKey]int)
	missing := make(map[groupKey]map[string]bool)
	groups := make([]OffenderGroup, 0)

	for _, e := range entries {
		total = total.Add(e.amount)
		key := groupKey{service: e.record.ServiceName, region: e.record.Region}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			missing[key] = make(map[string]bool)
			groups = append(groups, OffenderGroup{
				ServiceName: key.service,
				Region:      key.region,
				FirstSeen:   e.day,
				LastSeen:    e.day,
			})
		}

		g := &groups[i]
		g.TotalCost = g.TotalCost.Add(e.amount)
		g.RecordCount++
		if e.day < g.FirstSeen {
			g.FirstSeen = e.day
		}
		if e.day > g.LastSeen {
			g.LastSeen = e.day
		}
		for _, k := range e.missing {
			missing[key][k] = true
		}
	}

	for i := range groups {
		key := groupKey{service: groups[i].ServiceName, region: groups[i].Region}
		tags := make([]string, 0, len(missing[key]))
		for k := range missing[key] {
			tags = append(tags, k)
		}
		sort.Strings(tags)
		groups[i].MissingTags = tags
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if c := groups[i].TotalCost.Cmp(groups[j].TotalCost); c != 0 {
			return c > 0
		}
		if groups[i].ServiceName != groups[j].ServiceName {
			return groups[i].ServiceName < groups[j].ServiceName
		}
		return groups[i].Region < groups[j].Region
	})
	return groups, total
}
