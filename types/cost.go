package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 calendar date used for billing line items
const DateLayout = "2006-01-02"

// Unassigned marks an allocation dimension no rule claimed
const Unassigned = "unassigned"

// CostRecord is one billing line item as supplied by ingestion
type CostRecord struct {
	Date        string          `json:"date" yaml:"date" validate:"required"`
	ServiceName string          `json:"serviceName" yaml:"serviceName" validate:"required"`
	Region      string          `json:"region,omitempty" yaml:"region,omitempty"`
	ResourceID  string          `json:"resourceId,omitempty" yaml:"resourceId,omitempty"`
	CostAmount  RawDecimal      `json:"costAmount" yaml:"costAmount" validate:"required"`
	Currency    string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	Tags        json.RawMessage `json:"tags,omitempty" yaml:"-"`
	TenantID    int64           `json:"tenantId" yaml:"tenantId" validate:"gte=0"`
}

// ParseTags decodes the record's tag object.
// Absent or null tags yield an empty map; anything other than an
// object of string values is an error.
func (r CostRecord) ParseTags() (map[string]string, error) {
	trimmed := bytes.TrimSpace(r.Tags)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]string{}, nil
	}

	tags := make(map[string]string)
	if err := json.Unmarshal(trimmed, &tags); err != nil {
		return nil, fmt.Errorf("invalid tags for resource %q: %w", r.ResourceID, err)
	}
	return tags, nil
}

// Day returns the record date normalized to YYYY-MM-DD.
// Full RFC 3339 timestamps are accepted and truncated to their date.
func (r CostRecord) Day() (string, error) {
	return DayKey(r.Date)
}

// DayKey normalizes a date or timestamp string to YYYY-MM-DD
func DayKey(s string) (string, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t.UTC().Format(DateLayout), nil
}

// FormatDay renders t as a billing date in UTC
func FormatDay(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// AllocatedCostRecord is a CostRecord with ownership dimensions attached.
// A record no rule matched carries Unassigned in all six dimensions.
// A matched record copies the rule target; absent target fields stay nil.
type AllocatedCostRecord struct {
	CostRecord
	Amount       Money   `json:"amount"`
	RuleID       *string `json:"ruleId"`
	CostCenter   *string `json:"costCenter"`
	Department   *string `json:"department"`
	Project      *string `json:"project"`
	Environment  *string `json:"environment"`
	Team         *string `json:"team"`
	BusinessUnit *string `json:"businessUnit"`
}

// IsAssigned reports whether a rule claimed the record
func (a AllocatedCostRecord) IsAssigned() bool {
	return a.RuleID != nil
}

// Unallocated wraps a record with every dimension set to Unassigned
func Unallocated(record CostRecord, amount Money) AllocatedCostRecord {
	return AllocatedCostRecord{
		CostRecord:   record,
		Amount:       amount,
		CostCenter:   StringPtr(Unassigned),
		Department:   StringPtr(Unassigned),
		Project:      StringPtr(Unassigned),
		Environment:  StringPtr(Unassigned),
		Team:         StringPtr(Unassigned),
		BusinessUnit: StringPtr(Unassigned),
	}
}

// DimensionOrUnassigned dereferences an allocation dimension for grouping
func DimensionOrUnassigned(v *string) string {
	if v == nil || *v == "" {
		return Unassigned
	}
	return *v
}
