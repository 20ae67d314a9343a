package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Frequency names how often a schedule recurs.
type Frequency string

const (
	FrequencyHourly       Frequency = "Hourly"
	FrequencyDaily        Frequency = "Daily"
	FrequencyWeekly       Frequency = "Weekly"
	FrequencyMonthly      Frequency = "Monthly"
	FrequencyQuarterly    Frequency = "Quarterly"
	FrequencySemiannually Frequency = "Semiannually"
	FrequencyYearly       Frequency = "Yearly"
	FrequencyCustomHours  Frequency = "CustomHours"
	FrequencyCron         Frequency = "Cron"
)

// FrequencyOptions carries the frequency-specific match targets.
// Zero values fall back to the documented defaults (day-of-month 1,
// day-of-week Monday, hour/minute 0).
type FrequencyOptions struct {
	Hour          int    `json:"hour,omitempty"`
	Minute        int    `json:"minute,omitempty"`
	DayOfMonth    int    `json:"day_of_month,omitempty"`
	DayOfWeek     int    `json:"day_of_week,omitempty"`
	IntervalHours int    `json:"interval_hours,omitempty"`
	CronExpr      string `json:"cron_expression,omitempty"`
}

var ErrInvalidFrequency = errors.New("invalid frequency configuration")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func (o FrequencyOptions) dayOfMonth() int {
	if o.DayOfMonth == 0 {
		return 1
	}

	return o.DayOfMonth
}

func (o FrequencyOptions) dayOfWeek() time.Weekday {
	if o.DayOfWeek == 0 {
		return time.Monday
	}

	return time.Weekday(o.DayOfWeek)
}

// Matches reports whether the frequency's calendar pattern matches the
// given instant. CustomHours is interval-based, not calendar-based, and
// always reports false here; the evaluator handles it against the most
// recent execution.
func (f Frequency) Matches(opts FrequencyOptions, now time.Time) bool {
	hourMinute := now.Hour() == opts.Hour && now.Minute() == opts.Minute
	dayHourMinute := now.Day() == opts.dayOfMonth() && hourMinute

	switch f {
	case FrequencyHourly:
		return now.Minute() == opts.Minute
	case FrequencyDaily:
		return hourMinute
	case FrequencyWeekly:
		return now.Weekday() == opts.dayOfWeek() && hourMinute
	case FrequencyMonthly:
		return dayHourMinute
	case FrequencyQuarterly:
		// Fires January, April, July, October.
		return int(now.Month())%3 == 1 && dayHourMinute
	case FrequencySemiannually:
		// Fires January and July.
		return int(now.Month())%6 == 1 && dayHourMinute
	case FrequencyYearly:
		return now.Month() == time.January && dayHourMinute
	case FrequencyCron:
		return cronMatches(opts.CronExpr, now)
	case FrequencyCustomHours:
		return false
	default:
		return false
	}
}

// cronMatches reports whether a cron expression fires within the minute
// containing now: the next activation computed from the previous minute
// boundary must land in the current minute.
func cronMatches(expr string, now time.Time) bool {
	if expr == "" {
		return false
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return false
	}

	minuteStart := now.Truncate(time.Minute)
	next := schedule.Next(minuteStart.Add(-time.Second))

	return !next.Before(minuteStart) && next.Before(minuteStart.Add(time.Minute))
}

// Validate checks frequency-specific option requirements.
func (f Frequency) Validate(opts FrequencyOptions) error {
	switch f {
	case FrequencyCustomHours:
		if opts.IntervalHours < 1 {
			return ErrInvalidFrequency
		}
	case FrequencyCron:
		if _, err := cronParser.Parse(opts.CronExpr); err != nil {
			return ErrInvalidFrequency
		}
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly,
		FrequencyQuarterly, FrequencySemiannually, FrequencyYearly:
	default:
		return ErrInvalidFrequency
	}

	return nil
}
