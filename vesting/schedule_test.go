package vesting_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func amt(v int64) token.Amount { return token.NewAmount(v) }

func assertAmount(t *testing.T, want int64, got token.Amount, msgAndArgs ...any) {
	t.Helper()
	if !got.Equal(amt(want)) {
		assert.Fail(t, fmt.Sprintf("amount mismatch: want %d, got %s", want, got), msgAndArgs...)
	}
}

func schedule(cliff, total int, unit vesting.TimeUnit, interval int, full, cliffAmount int64) vesting.Schedule {
	return vesting.Schedule{
		Start:          month(2024, time.January),
		CliffMonths:    cliff,
		TotalMonths:    total,
		Unit:           unit,
		IntervalLength: interval,
		FullAmount:     amt(full),
		CliffAmount:    amt(cliffAmount),
	}
}

// =============================================================================
// BOUNDARIES
// =============================================================================

func TestVestedAmount_Boundaries(t *testing.T) {
	// GIVEN: 12 month cliff, 36 months total, quarterly release
	// WHEN: Probing just before, at and after the cliff and the end
	// THEN: 0 before the cliff, cliffAmount at it, fullAmount from the end on

	s := schedule(12, 36, vesting.UnitMonth, 3, 3_600_000, 1_200_000)
	cliffEnd := month(2025, time.January)
	end := month(2027, time.January)

	assert.Equal(t, cliffEnd, s.CliffEnd())
	assert.Equal(t, end, s.End())
	assert.Equal(t, int64(8), s.TotalSteps())

	assertAmount(t, 0, s.VestedAmount(s.Start))
	assertAmount(t, 0, s.VestedAmount(cliffEnd.Add(-time.Nanosecond)))
	assertAmount(t, 1_200_000, s.VestedAmount(cliffEnd))
	assertAmount(t, 3_300_000, s.VestedAmount(end.Add(-time.Nanosecond)))
	assertAmount(t, 3_600_000, s.VestedAmount(end))
	assertAmount(t, 3_600_000, s.VestedAmount(end.AddDate(10, 0, 0)))
}

func TestVestedAmount_Monotonic(t *testing.T) {
	schedules := map[string]vesting.Schedule{
		"monthly":   schedule(6, 30, vesting.UnitMonth, 1, 1_000_003, 100_001),
		"quarterly": schedule(12, 36, vesting.UnitMonth, 3, 3_600_000, 1_200_000),
		"daily":     schedule(1, 3, vesting.UnitDay, 1, 999_999, 0),
		"yearly":    schedule(12, 48, vesting.UnitYear, 1, 7, 1),
		"no cliff":  schedule(0, 12, vesting.UnitMonth, 1, 12, 0),
	}

	for name, s := range schedules {
		t.Run(name, func(t *testing.T) {
			prevVested := amt(0)
			prevLocked := s.FullAmount
			for at := s.Start.AddDate(0, -1, 0); at.Before(s.End().AddDate(0, 2, 0)); at = at.Add(36 * time.Hour) {
				vested := s.VestedAmount(at)
				locked := s.LockedAmount(at)
				assert.False(t, vested.LessThan(prevVested), "vested decreased at %s", at)
				assert.False(t, locked.GreaterThan(prevLocked), "locked increased at %s", at)
				assert.True(t, vested.Add(locked).Equal(s.FullAmount))
				prevVested, prevLocked = vested, locked
			}
		})
	}
}

// =============================================================================
// EXAMPLES
// =============================================================================

func TestLockedAmount_CliffOnlyPlan(t *testing.T) {
	// GIVEN: cliff = total = 10 months, everything released at the end
	// WHEN: Probing every month
	// THEN: Locked stays at the full amount until the end, then drops to 0

	s := schedule(10, 10, vesting.UnitMonth, 1, 2_000_000, 2_000_000)

	for m := 0; m < 10; m++ {
		at := vesting.AddMonths(s.Start, m)
		assertAmount(t, 2_000_000, s.LockedAmount(at), "month %d", m)
	}
	assertAmount(t, 0, s.LockedAmount(s.End()))
	assertAmount(t, 0, s.LockedAmount(s.End().AddDate(1, 0, 0)))
}

func TestLockedAmount_SingleStep(t *testing.T) {
	// GIVEN: cliff 1 month, 4 months total, one 3-month step, 2M full, 1M at cliff
	// WHEN: Probing month by month
	// THEN: 1M locked from cliff end until the single step at the end releases the rest

	s := schedule(1, 4, vesting.UnitMonth, 3, 2_000_000, 1_000_000)
	assert.Equal(t, int64(1), s.TotalSteps())

	want := []int64{2_000_000, 1_000_000, 1_000_000, 1_000_000, 0, 0}
	for m, locked := range want {
		assertAmount(t, locked, s.LockedAmount(vesting.AddMonths(s.Start, m)), "month %d", m)
	}
}

func TestVestedAmount_FloorDivision(t *testing.T) {
	// GIVEN: 10 tokens over 3 monthly steps
	// THEN: Each step truncates: 3, 6, then 10 at the end

	s := schedule(0, 3, vesting.UnitMonth, 1, 10, 0)

	assertAmount(t, 0, s.VestedAmount(month(2024, time.January)))
	assertAmount(t, 3, s.VestedAmount(month(2024, time.February)))
	assertAmount(t, 6, s.VestedAmount(month(2024, time.March)))
	assertAmount(t, 10, s.VestedAmount(month(2024, time.April)))
}

func TestVestedAmount_LargeAmountsAreExact(t *testing.T) {
	full := token.MustParseAmount("1000000000000000000000000000")
	s := vesting.Schedule{
		Start: month(2024, time.January), CliffMonths: 0, TotalMonths: 3,
		Unit: vesting.UnitMonth, IntervalLength: 1,
		FullAmount: full, CliffAmount: amt(0),
	}

	got := s.VestedAmount(month(2024, time.February))
	assert.Equal(t, "333333333333333333333333333", got.String())
}

// =============================================================================
// DAY AND YEAR UNITS
// =============================================================================

func TestVestedAmount_DailySteps(t *testing.T) {
	// GIVEN: January 2024 start, 1 month cliff, 2 months total, daily release
	// THEN: February has 29 days, so each midnight releases 1/29 of the linear part

	s := schedule(1, 2, vesting.UnitDay, 1, 2900, 0)
	assert.Equal(t, int64(29), s.TotalSteps())

	feb := month(2024, time.February)
	assertAmount(t, 0, s.VestedAmount(feb))
	assertAmount(t, 0, s.VestedAmount(feb.Add(23*time.Hour)))
	assertAmount(t, 100, s.VestedAmount(feb.AddDate(0, 0, 1)))
	assertAmount(t, 1500, s.VestedAmount(feb.AddDate(0, 0, 15).Add(time.Hour)))
	assertAmount(t, 2900, s.VestedAmount(month(2024, time.March)))
}

func TestVestedAmount_YearlySteps(t *testing.T) {
	// GIVEN: 12 month cliff, 36 months total, yearly release
	// THEN: Steps land on January 1st

	s := schedule(12, 36, vesting.UnitYear, 1, 3000, 1000)
	assert.Equal(t, int64(2), s.TotalSteps())

	assertAmount(t, 1000, s.VestedAmount(month(2025, time.January)))
	assertAmount(t, 1000, s.VestedAmount(month(2025, time.December)))
	assertAmount(t, 2000, s.VestedAmount(month(2026, time.January)))
	assertAmount(t, 3000, s.VestedAmount(month(2027, time.January)))
}

func TestVestedAmount_YearlyStepsMidYearStart(t *testing.T) {
	// GIVEN: July 2020 start, no cliff, 24 months, yearly release
	// WHEN: Crossing each January 1st
	// THEN: Half vests six months in and everything six months before end

	s := vesting.Schedule{
		Start:          month(2020, time.July),
		TotalMonths:    24,
		Unit:           vesting.UnitYear,
		IntervalLength: 1,
		FullAmount:     amt(1000),
		CliffAmount:    amt(0),
	}
	assert.Equal(t, int64(2), s.TotalSteps())

	assertAmount(t, 0, s.VestedAmount(month(2020, time.December)))
	assertAmount(t, 500, s.VestedAmount(month(2021, time.January)))
	assertAmount(t, 1000, s.VestedAmount(month(2022, time.January)))
	assertAmount(t, 1000, s.VestedAmount(month(2022, time.March)))
	assertAmount(t, 1000, s.VestedAmount(month(2022, time.July)))

	next, ok := s.NextVestTimestamp(month(2021, time.March))
	require.True(t, ok)
	assert.Equal(t, month(2022, time.January), next)

	for _, now := range []time.Time{month(2022, time.January), month(2022, time.March), month(2022, time.July)} {
		next, ok := s.NextVestTimestamp(now)
		assert.False(t, ok, "fully vested at %s", now)
		assert.True(t, next.IsZero())
	}

	steps := s.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, month(2022, time.January), steps[2].At)
	assertAmount(t, 0, steps[2].Locked)
}

// =============================================================================
// NEXT VEST TIMESTAMP
// =============================================================================

func TestNextVestTimestamp(t *testing.T) {
	s := schedule(12, 36, vesting.UnitMonth, 3, 3_600_000, 1_200_000)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
		ok   bool
	}{
		{"before cliff", month(2024, time.June), month(2025, time.January), true},
		{"at cliff", month(2025, time.January), month(2025, time.April), true},
		{"mid quarter", month(2025, time.February).Add(time.Hour), month(2025, time.April), true},
		{"at step", month(2025, time.April), month(2025, time.July), true},
		{"last quarter", month(2026, time.November), month(2027, time.January), true},
		{"at end", month(2027, time.January), time.Time{}, false},
		{"after end", month(2030, time.January), time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.NextVestTimestamp(tt.now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			if ok {
				assert.True(t, got.After(tt.now))
				assert.True(t, s.VestedAmount(got).GreaterThan(s.VestedAmount(tt.now)),
					"vested amount must change at %s", got)
			}
		})
	}
}

func TestNextVestTimestamp_CliffOnly(t *testing.T) {
	s := schedule(10, 10, vesting.UnitMonth, 1, 100, 100)

	got, ok := s.NextVestTimestamp(month(2024, time.March))
	require.True(t, ok)
	assert.Equal(t, month(2024, time.November), got)
}

func TestSteps(t *testing.T) {
	s := schedule(12, 36, vesting.UnitMonth, 6, 3_600_000, 1_200_000)

	steps := s.Steps()
	require.Len(t, steps, 5)
	assert.Equal(t, month(2025, time.January), steps[0].At)
	assertAmount(t, 1_200_000, steps[0].Vested)
	assert.Equal(t, month(2025, time.July), steps[1].At)
	assertAmount(t, 1_800_000, steps[1].Vested)
	assert.Equal(t, month(2027, time.January), steps[4].At)
	assertAmount(t, 3_600_000, steps[4].Vested)
	assertAmount(t, 0, steps[4].Locked)
}
