package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequencyMatches_CalendarPatterns(t *testing.T) {
	testCases := []struct {
		name      string
		frequency Frequency
		opts      FrequencyOptions
		now       time.Time
		expected  bool
	}{
		{
			name:      "hourly matches on minute",
			frequency: FrequencyHourly,
			opts:      FrequencyOptions{Minute: 30},
			now:       time.Date(2026, 3, 15, 9, 30, 12, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "hourly misses other minutes",
			frequency: FrequencyHourly,
			opts:      FrequencyOptions{Minute: 30},
			now:       time.Date(2026, 3, 15, 9, 31, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "daily matches at configured hour and minute",
			frequency: FrequencyDaily,
			opts:      FrequencyOptions{Hour: 6, Minute: 15},
			now:       time.Date(2026, 3, 15, 6, 15, 0, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "daily misses the same minute of another hour",
			frequency: FrequencyDaily,
			opts:      FrequencyOptions{Hour: 6, Minute: 15},
			now:       time.Date(2026, 3, 15, 7, 15, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "weekly defaults to monday",
			frequency: FrequencyWeekly,
			opts:      FrequencyOptions{Hour: 8},
			// 2026-03-16 is a Monday.
			now:      time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC),
			expected: true,
		},
		{
			name:      "weekly misses other weekdays",
			frequency: FrequencyWeekly,
			opts:      FrequencyOptions{Hour: 8},
			now:       time.Date(2026, 3, 17, 8, 0, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "monthly defaults to the first",
			frequency: FrequencyMonthly,
			opts:      FrequencyOptions{Hour: 0, Minute: 5},
			now:       time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "monthly honors day of month",
			frequency: FrequencyMonthly,
			opts:      FrequencyOptions{DayOfMonth: 15, Hour: 12},
			now:       time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "quarterly fires in april",
			frequency: FrequencyQuarterly,
			opts:      FrequencyOptions{DayOfMonth: 1},
			now:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "quarterly skips may",
			frequency: FrequencyQuarterly,
			opts:      FrequencyOptions{DayOfMonth: 1},
			now:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "semiannually fires in july",
			frequency: FrequencySemiannually,
			opts:      FrequencyOptions{DayOfMonth: 1},
			now:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "yearly fires only in january",
			frequency: FrequencyYearly,
			opts:      FrequencyOptions{DayOfMonth: 1},
			now:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "cron expression fires within its minute",
			frequency: FrequencyCron,
			opts:      FrequencyOptions{CronExpr: "*/5 * * * *"},
			now:       time.Date(2026, 3, 15, 9, 25, 42, 0, time.UTC),
			expected:  true,
		},
		{
			name:      "cron expression misses between activations",
			frequency: FrequencyCron,
			opts:      FrequencyOptions{CronExpr: "*/5 * * * *"},
			now:       time.Date(2026, 3, 15, 9, 26, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "invalid cron expression never matches",
			frequency: FrequencyCron,
			opts:      FrequencyOptions{CronExpr: "not a cron"},
			now:       time.Date(2026, 3, 15, 9, 26, 0, 0, time.UTC),
			expected:  false,
		},
		{
			name:      "custom hours is interval based and never calendar matches",
			frequency: FrequencyCustomHours,
			opts:      FrequencyOptions{IntervalHours: 4},
			now:       time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			expected:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.frequency.Matches(tc.opts, tc.now))
		})
	}
}

func TestFrequencyMatches_DailyFiresOncePerDay(t *testing.T) {
	opts := FrequencyOptions{Hour: 6, Minute: 0}
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	matches := 0

	for minute := 0; minute < 24*60; minute++ {
		if FrequencyDaily.Matches(opts, day.Add(time.Duration(minute)*time.Minute)) {
			matches++
		}
	}

	assert.Equal(t, 1, matches)
}

func TestFrequencyValidate(t *testing.T) {
	require.NoError(t, FrequencyDaily.Validate(FrequencyOptions{}))
	require.NoError(t, FrequencyCron.Validate(FrequencyOptions{CronExpr: "0 9 * * 1"}))
	require.NoError(t, FrequencyCustomHours.Validate(FrequencyOptions{IntervalHours: 6}))

	assert.ErrorIs(t, FrequencyCustomHours.Validate(FrequencyOptions{}), ErrInvalidFrequency)
	assert.ErrorIs(t, FrequencyCron.Validate(FrequencyOptions{CronExpr: "bogus"}), ErrInvalidFrequency)
	assert.ErrorIs(t, Frequency("Fortnightly").Validate(FrequencyOptions{}), ErrInvalidFrequency)
}
