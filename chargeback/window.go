// Package chargeback aggregates allocated cost into period reports.
package chargeback

import (
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/allot/types"
)

// ErrUnknownPeriod is returned for report periods without a window rule
var ErrUnknownPeriod = errors.New("unknown report period")

// Window returns the first and last day of the period containing date.
// Weeks start on Sunday; quarters are calendar quarters.
func Window(period string, date time.Time) (time.Time, time.Time, error) {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	switch period {
	case types.ReportDaily:
		return d, d, nil
	case types.ReportWeekly:
		start := d.AddDate(0, 0, -int(d.Weekday()))
		return start, start.AddDate(0, 0, 6), nil
	case types.ReportMonthly:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, -1), nil
	case types.ReportQuarterly:
		firstMonth := time.Month((int(d.Month())-1)/3*3 + 1)
		start := time.Date(d.Year(), firstMonth, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, -1), nil
	case types.ReportYearly:
		start := time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, time.Date(d.Year(), time.December, 31, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}

// WindowDays is Window over YYYY-MM-DD strings
func WindowDays(period, reportDate string) (string, string, error) {
	day, err := types.DayKey(reportDate)
	if err != nil {
		return "", "", err
	}
	date, err := time.Parse(types.DateLayout, day)
	if err != nil {
		return "", "", fmt.Errorf("invalid report date %q: %w", reportDate, err)
	}

	start, end, err := Window(period, date)
	if err != nil {
		return "", "", err
	}
	return types.FormatDay(start), types.FormatDay(end), nil
}
