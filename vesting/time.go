package vesting

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME UNIT - Granularity of periodic releases after the cliff
// =============================================================================

type TimeUnit string

const (
	UnitDay   TimeUnit = "day"
	UnitMonth TimeUnit = "month"
	UnitYear  TimeUnit = "year"
)

func (u TimeUnit) Valid() bool {
	switch u {
	case UnitDay, UnitMonth, UnitYear:
		return true
	}
	return false
}

func ParseTimeUnit(s string) (TimeUnit, error) {
	u := TimeUnit(s)
	if !u.Valid() {
		return "", fmt.Errorf("%w: unknown interval unit %q", ErrInvalidPlanInterval, s)
	}
	return u, nil
}

// =============================================================================
// CALENDAR ARITHMETIC (UTC)
// =============================================================================

// StartOfMonth returns 00:00:00 UTC on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// IsMonthAligned reports whether t falls exactly at 00:00:00 UTC on day 1.
func IsMonthAligned(t time.Time) bool {
	return t.Equal(StartOfMonth(t))
}

// AddMonths adds n calendar months. For month-aligned inputs the result is
// again the 1st of a month.
func AddMonths(t time.Time, n int) time.Time {
	return t.UTC().AddDate(0, n, 0)
}

// dayIndex counts whole UTC days since the Unix epoch.
func dayIndex(t time.Time) int64 {
	sec := t.Unix()
	if sec < 0 {
		// floor division for pre-epoch timestamps
		return (sec - 86399) / 86400
	}
	return sec / 86400
}

func monthIndex(t time.Time) int64 {
	t = t.UTC()
	return int64(t.Year())*12 + int64(t.Month()) - 1
}

func yearIndex(t time.Time) int64 {
	return int64(t.UTC().Year())
}

// UnitsBetween counts unit boundaries crossed going from `from` to `to`:
// midnight UTC for days, the 1st of a month for months, January 1st for
// years. It is negative when to is before from.
func UnitsBetween(from, to time.Time, unit TimeUnit) int64 {
	switch unit {
	case UnitDay:
		return dayIndex(to) - dayIndex(from)
	case UnitMonth:
		return monthIndex(to) - monthIndex(from)
	case UnitYear:
		return yearIndex(to) - yearIndex(from)
	}
	return 0
}

// unitBoundary returns the instant at which UnitsBetween(from, ·, unit)
// first reaches n (n > 0).
func unitBoundary(from time.Time, n int64, unit TimeUnit) time.Time {
	from = from.UTC()
	switch unit {
	case UnitDay:
		d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, int(n))
	case UnitMonth:
		return StartOfMonth(from).AddDate(0, int(n), 0)
	case UnitYear:
		return time.Date(from.Year()+int(n), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return from
}

// epochMonth is the anchor used to express plan-level month offsets as
// concrete dates when a plan has no beneficiary start yet.
var epochMonth = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// daysBetweenMonths counts days between two month offsets from the epoch.
func daysBetweenMonths(fromMonths, toMonths int) int64 {
	return UnitsBetween(AddMonths(epochMonth, fromMonths), AddMonths(epochMonth, toMonths), UnitDay)
}
