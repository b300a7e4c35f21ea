package vesting_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/vesting-engine/vesting"
)

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name string
		plan vesting.Plan
		want error
	}{
		{"quarterly", vesting.Plan{CliffMonths: 12, TotalDurationMonths: 36, IntervalUnit: vesting.UnitMonth, IntervalLength: 3}, nil},
		{"cliff only", vesting.Plan{CliffMonths: 10, TotalDurationMonths: 10, IntervalUnit: vesting.UnitMonth, IntervalLength: 1}, nil},
		{"single step", vesting.Plan{CliffMonths: 1, TotalDurationMonths: 4, IntervalUnit: vesting.UnitMonth, IntervalLength: 3}, nil},
		{"step does not divide", vesting.Plan{CliffMonths: 1, TotalDurationMonths: 4, IntervalUnit: vesting.UnitMonth, IntervalLength: 2}, vesting.ErrInvalidPlanInterval},
		{"yearly", vesting.Plan{CliffMonths: 12, TotalDurationMonths: 36, IntervalUnit: vesting.UnitYear, IntervalLength: 2}, nil},
		{"yearly partial", vesting.Plan{CliffMonths: 6, TotalDurationMonths: 24, IntervalUnit: vesting.UnitYear, IntervalLength: 1}, vesting.ErrInvalidPlanInterval},
		// Epoch calendar: Feb 1970 -> Mar 1970 is 28 days.
		{"daily", vesting.Plan{CliffMonths: 1, TotalDurationMonths: 2, IntervalUnit: vesting.UnitDay, IntervalLength: 7}, nil},
		{"daily partial", vesting.Plan{CliffMonths: 1, TotalDurationMonths: 2, IntervalUnit: vesting.UnitDay, IntervalLength: 5}, vesting.ErrInvalidPlanInterval},
		{"cliff after end", vesting.Plan{CliffMonths: 13, TotalDurationMonths: 12, IntervalUnit: vesting.UnitMonth, IntervalLength: 1}, vesting.ErrInvalidPlanPeriods},
		{"negative cliff", vesting.Plan{CliffMonths: -1, TotalDurationMonths: 12, IntervalUnit: vesting.UnitMonth, IntervalLength: 1}, vesting.ErrInvalidPlanPeriods},
		{"zero duration", vesting.Plan{CliffMonths: 0, TotalDurationMonths: 0, IntervalUnit: vesting.UnitMonth, IntervalLength: 1}, vesting.ErrInvalidPlanPeriods},
		{"zero interval", vesting.Plan{CliffMonths: 0, TotalDurationMonths: 12, IntervalUnit: vesting.UnitMonth, IntervalLength: 0}, vesting.ErrInvalidPlanInterval},
		{"unknown unit", vesting.Plan{CliffMonths: 0, TotalDurationMonths: 12, IntervalUnit: "week", IntervalLength: 1}, vesting.ErrInvalidPlanInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, vesting.IsClientError(err))
		})
	}
}

func TestParseTimeUnit(t *testing.T) {
	u, err := vesting.ParseTimeUnit("month")
	assert.NoError(t, err)
	assert.Equal(t, vesting.UnitMonth, u)

	_, err = vesting.ParseTimeUnit("fortnight")
	assert.ErrorIs(t, err, vesting.ErrInvalidPlanInterval)
}

func TestUnitsBetween(t *testing.T) {
	from := time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.January, 1, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(1), vesting.UnitsBetween(from, to, vesting.UnitDay))
	assert.Equal(t, int64(1), vesting.UnitsBetween(from, to, vesting.UnitMonth))
	assert.Equal(t, int64(1), vesting.UnitsBetween(from, to, vesting.UnitYear))
	assert.Equal(t, int64(-1), vesting.UnitsBetween(to, from, vesting.UnitDay))
}

func TestIsMonthAligned(t *testing.T) {
	assert.True(t, vesting.IsMonthAligned(month(2024, time.March)))
	assert.False(t, vesting.IsMonthAligned(month(2024, time.March).Add(time.Second)))
	assert.False(t, vesting.IsMonthAligned(time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)))
}

func TestBeneficiary_VestedAt(t *testing.T) {
	plan := vesting.Plan{ID: 1, CliffMonths: 0, TotalDurationMonths: 4, IntervalUnit: vesting.UnitMonth, IntervalLength: 1}
	b := vesting.Beneficiary{
		Address:     "alice",
		PlanID:      1,
		StartMonth:  month(2024, time.January),
		FullAmount:  amt(400),
		CliffAmount: amt(0),
		Status:      vesting.StatusConfirmed,
	}
	at := month(2024, time.March)

	assertAmount(t, 0, b.VestedAt(plan, at), "nothing vests before activation")

	b.Status = vesting.StatusActive
	assertAmount(t, 200, b.VestedAt(plan, at))

	b.Status = vesting.StatusTerminated
	b.TerminatedAt = month(2024, time.February)
	assertAmount(t, 100, b.VestedAt(plan, month(2030, time.January)), "frozen at termination")
}

func TestValidateAmounts(t *testing.T) {
	assert.NoError(t, vesting.ValidateAmounts(amt(10), amt(10)))
	assert.NoError(t, vesting.ValidateAmounts(amt(10), amt(0)))
	assert.ErrorIs(t, vesting.ValidateAmounts(amt(10), amt(11)), vesting.ErrInvalidAmounts)
	assert.ErrorIs(t, vesting.ValidateAmounts(amt(0), amt(0)), vesting.ErrInvalidAmounts)
}
