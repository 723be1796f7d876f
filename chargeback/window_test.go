package chargeback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowDays(t *testing.T) {
	tests := []struct {
		period    string
		date      string
		wantStart string
		wantEnd   string
	}{
		{period: "daily", date: "2024-03-15", wantStart: "2024-03-15", wantEnd: "2024-03-15"},
		// 2024-03-15 is a Friday
		{period: "weekly", date: "2024-03-15", wantStart: "2024-03-10", wantEnd: "2024-03-16"},
		{period: "weekly", date: "2024-03-10", wantStart: "2024-03-10", wantEnd: "2024-03-16"},
		{period: "weekly", date: "2024-01-02", wantStart: "2023-12-31", wantEnd: "2024-01-06"},
		{period: "monthly", date: "2024-02-10", wantStart: "2024-02-01", wantEnd: "2024-02-29"},
		{period: "monthly", date: "2023-12-31", wantStart: "2023-12-01", wantEnd: "2023-12-31"},
		{period: "quarterly", date: "2024-05-20", wantStart: "2024-04-01", wantEnd: "2024-06-30"},
		{period: "quarterly", date: "2024-12-01", wantStart: "2024-10-01", wantEnd: "2024-12-31"},
		{period: "yearly", date: "2024-07-04", wantStart: "2024-01-01", wantEnd: "2024-12-31"},
		{period: "monthly", date: "2024-03-31T23:59:59Z", wantStart: "2024-03-01", wantEnd: "2024-03-31"},
	}

	for _, tt := range tests {
		t.Run(tt.period+"/"+tt.date, func(t *testing.T) {
			start, end, err := WindowDays(tt.period, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestWindowDays_Errors(t *testing.T) {
	_, _, err := WindowDays("fortnightly", "2024-03-15")
	assert.True(t, errors.Is(err, ErrUnknownPeriod))

	_, _, err = WindowDays("daily", "15/03/2024")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownPeriod))
}
