package allocation

import (
	"sort"

	"github.com/yairfalse/allot/types"
)

// Breakdown sums allocated cost along each reporting axis
type Breakdown struct {
	Services    map[string]types.Money `json:"services"`
	CostCenters map[string]types.Money `json:"costCenters"`
	Departments map[string]types.Money `json:"departments"`
	Projects    map[string]types.Money `json:"projects"`
	Resources   map[string]types.Money `json:"resources"`
	Tags        map[string]types.Money `json:"tags"`
}

// Percentages is the cost-weighted split between assigned and unassigned records
type Percentages struct {
	Assigned   float64 `json:"assigned"`
	Unassigned float64 `json:"unassigned"`
}

// Summary describes the output of an allocation pass
type Summary struct {
	TotalCost             types.Money `json:"totalCost"`
	Breakdown             Breakdown   `json:"breakdown"`
	AllocationPercentages Percentages `json:"allocationPercentages"`
	TotalRecords          int         `json:"totalRecords"`
}

// Summarize totals allocated records. Null dimensions are reported as
// unassigned. Records without a resource id are left out of the resource
// axis and records with unreadable tags out of the tag axis.
func Summarize(allocated []types.AllocatedCostRecord) Summary {
	summary := Summary{
		Breakdown: Breakdown{
			Services:    make(map[string]types.Money),
			CostCenters: make(map[string]types.Money),
			Departments: make(map[string]types.Money),
			Projects:    make(map[string]types.Money),
			Resources:   make(map[string]types.Money),
			Tags:        make(map[string]types.Money),
		},
		TotalRecords: len(allocated),
	}

	var assigned, unassigned types.Money
	for _, a := range allocated {
		summary.TotalCost = summary.TotalCost.Add(a.Amount)
		if a.IsAssigned() {
			assigned = assigned.Add(a.Amount)
		} else {
			unassigned = unassigned.Add(a.Amount)
		}

		b := &summary.Breakdown
		addTo(b.Services, a.ServiceName, a.Amount)
		addTo(b.CostCenters, types.DimensionOrUnassigned(a.CostCenter), a.Amount)
		addTo(b.Departments, types.DimensionOrUnassigned(a.Department), a.Amount)
		addTo(b.Projects, types.DimensionOrUnassigned(a.Project), a.Amount)
		if a.ResourceID != "" {
			addTo(b.Resources, a.ResourceID, a.Amount)
		}

		tags, err := a.ParseTags()
		if err != nil {
			continue
		}
		for _, k := range sortedKeys(tags) {
			addTo(b.Tags, k+":"+tags[k], a.Amount)
		}
	}

	summary.AllocationPercentages = Percentages{
		Assigned:   assigned.PercentOf(summary.TotalCost),
		Unassigned: unassigned.PercentOf(summary.TotalCost),
	}
	return summary
}

func addTo(m map[string]types.Money, key string, amount types.Money) {
	m[key] = m[key].Add(amount)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
