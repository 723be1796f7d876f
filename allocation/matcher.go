// Package allocation attaches ownership dimensions to cost records.
package allocation

import (
	"strings"

	"github.com/yairfalse/allot/types"
)

// candidate is a record under evaluation. Tags are decoded at most once
// no matter how many tag rules look at the record.
type candidate struct {
	record  types.CostRecord
	tags    map[string]string
	tagsErr error
	decoded bool
}

func newCandidate(record types.CostRecord) *candidate {
	return &candidate{record: record}
}

func (c *candidate) recordTags() (map[string]string, bool) {
	if !c.decoded {
		c.tags, c.tagsErr = c.record.ParseTags()
		c.decoded = true
	}
	return c.tags, c.tagsErr == nil
}

// matcher is the per-type predicate of an allocation rule
type matcher interface {
	match(c *candidate) bool
}

// serviceMatcher claims records whose service name contains any configured
// service, ignoring case. Blank entries never match.
type serviceMatcher struct {
	services []string
}

func (m serviceMatcher) match(c *candidate) bool {
	name := strings.ToLower(c.record.ServiceName)
	for _, s := range m.services {
		if s == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// regionMatcher claims records whose region is listed exactly
type regionMatcher struct {
	regions []string
}

func (m regionMatcher) match(c *candidate) bool {
	for _, r := range m.regions {
		if r == c.record.Region {
			return true
		}
	}
	return false
}

// tagMatcher claims records carrying every configured tag with the exact value
type tagMatcher struct {
	tags map[string]string
}

func (m tagMatcher) match(c *candidate) bool {
	if len(m.tags) == 0 {
		return false
	}

	tags, ok := c.recordTags()
	if !ok {
		return false
	}

	for k, want := range m.tags {
		got, exists := tags[k]
		if !exists || got != want {
			return false
		}
	}
	return true
}

// unknownMatcher stands in for rule types the engine does not understand
type unknownMatcher struct {
	ruleType types.RuleType
}

func (unknownMatcher) match(*candidate) bool {
	return false
}

// matcherFor builds the matcher for a rule's type
func matcherFor(rule types.AllocationRule) matcher {
	switch rule.RuleType {
	case types.RuleServiceBased:
		return serviceMatcher{services: rule.Condition.Services}
	case types.RuleRegionBased:
		return regionMatcher{regions: rule.Condition.Regions}
	case types.RuleTagBased:
		return tagMatcher{tags: rule.Condition.Tags}
	default:
		return unknownMatcher{ruleType: rule.RuleType}
	}
}

// Matches reports whether rule claims record
func Matches(record types.CostRecord, rule types.AllocationRule) bool {
	return matcherFor(rule).match(newCandidate(record))
}
