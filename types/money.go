package types

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// moneyContext is shared by every Money operation so sums are exact up to 34 digits
var moneyContext = apd.BaseContext.WithPrecision(34)

// Money is an exact decimal cost amount
// Operations never mutate the receiver; each returns a fresh value
type Money struct {
	value apd.Decimal
}

// ParseMoney parses a decimal string such as "12.50"
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("empty amount")
	}

	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return Money{}, fmt.Errorf("invalid amount %q: not a finite number", s)
	}
	return Money{value: d}, nil
}

// MustMoney parses s and panics on error. Intended for tests and constant tables.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromInt converts a whole amount
func MoneyFromInt(i int64) Money {
	var d apd.Decimal
	d.SetInt64(i)
	return Money{value: d}
}

// ErrInexactSum is returned when a sum cannot be represented exactly
var ErrInexactSum = errors.New("money sum is not exact")

// Sum returns m + other, failing when the result overflows or would be
// rounded to fit the 34 digit precision.
func (m Money) Sum(other Money) (Money, error) {
	var result apd.Decimal
	cond, err := moneyContext.Add(&result, &m.value, &other.value)
	if err != nil {
		return Money{value: result}, fmt.Errorf("%w: %s + %s: %w", ErrInexactSum, m, other, err)
	}
	if cond.Inexact() {
		return Money{value: result}, fmt.Errorf("%w: %s + %s: %s", ErrInexactSum, m, other, cond)
	}
	return Money{value: result}, nil
}

// Add returns m + other. Sums that are not exact are logged; callers that
// must fail on them use Sum.
func (m Money) Add(other Money) Money {
	result, err := m.Sum(other)
	if err != nil {
		log.Error().Err(err).Msg("inexact money sum")
	}
	return result
}

// Cmp compares m and other: -1, 0 or +1
func (m Money) Cmp(other Money) int {
	return m.value.Cmp(&other.value)
}

// IsZero reports whether the amount is zero
func (m Money) IsZero() bool {
	return m.value.IsZero()
}

// String renders the amount without exponent notation
func (m Money) String() string {
	return m.value.Text('f')
}

// Float64 converts the amount for display and metrics. Not for arithmetic.
func (m Money) Float64() float64 {
	f, err := m.value.Float64()
	if err != nil {
		return 0
	}
	return f
}

// PercentOf returns m as a percentage of total, rounded to two decimals.
// A zero total yields 0.
func (m Money) PercentOf(total Money) float64 {
	if total.IsZero() {
		return 0
	}

	var ratio, pct apd.Decimal
	if _, err := moneyContext.Quo(&ratio, &m.value, &total.value); err != nil {
		return 0
	}
	if _, err := moneyContext.Mul(&pct, &ratio, apd.New(100, 0)); err != nil {
		return 0
	}
	if _, err := moneyContext.Quantize(&pct, &pct, -2); err != nil {
		return 0
	}

	f, err := strconv.ParseFloat(pct.Text('f'), 64)
	if err != nil {
		return 0
	}
	return f
}

// MarshalJSON renders the amount as a JSON number
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string
func (m *Money) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMoney(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// RawDecimal is an amount exactly as supplied by a collaborator.
// It is parsed lazily so a single malformed value can be skipped
// instead of failing the whole batch.
type RawDecimal string

// Parse converts the raw text into Money
func (r RawDecimal) Parse() (Money, error) {
	return ParseMoney(string(r))
}

// MarshalJSON keeps the original text as a JSON string
func (r RawDecimal) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(string(r))), nil
}

// UnmarshalJSON accepts numbers, strings and null
func (r *RawDecimal) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if text == "null" {
		*r = ""
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("invalid decimal string: %w", err)
		}
		*r = RawDecimal(unquoted)
		return nil
	}
	*r = RawDecimal(text)
	return nil
}

// UnmarshalYAML accepts any scalar
func (r *RawDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: decimal must be a scalar", node.Line)
	}
	*r = RawDecimal(node.Value)
	return nil
}
