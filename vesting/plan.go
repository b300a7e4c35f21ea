/*
plan.go - Vesting plan templates

PURPOSE:
  A Plan is a reusable schedule template: how many months of cliff, how many
  months until everything is unlocked, and how often tokens are released in
  between. Beneficiaries reference a plan by id; the amounts and start date
  live on the beneficiary record.

INVARIANTS:
  - cliffMonths <= totalDurationMonths, totalDurationMonths > 0
  - (totalDurationMonths - cliffMonths) is a whole number of release steps
    in the plan's own interval unit
  - Plans are append-only: ids start at 1, are never reused, and a stored
    plan is never mutated or deleted

EXAMPLE:
  plan := Plan{
      CliffMonths:         12,
      TotalDurationMonths: 36,
      IntervalUnit:        UnitMonth,
      IntervalLength:      3,  // quarterly after a one year cliff
      DelegationAllowed:   true,
      Terminable:          true,
  }
*/
package vesting

import "fmt"

type PlanID int64

type Plan struct {
	ID                  PlanID
	CliffMonths         int
	TotalDurationMonths int
	IntervalUnit        TimeUnit
	IntervalLength      int
	DelegationAllowed   bool
	Terminable          bool
}

// Validate checks the period and interval invariants. The ID is ignored.
func (p Plan) Validate() error {
	if p.CliffMonths < 0 || p.TotalDurationMonths <= 0 || p.CliffMonths > p.TotalDurationMonths {
		return fmt.Errorf("%w: cliff %d months, total %d months",
			ErrInvalidPlanPeriods, p.CliffMonths, p.TotalDurationMonths)
	}
	if !p.IntervalUnit.Valid() || p.IntervalLength <= 0 {
		return fmt.Errorf("%w: %d %s", ErrInvalidPlanInterval, p.IntervalLength, p.IntervalUnit)
	}

	vestingMonths := p.TotalDurationMonths - p.CliffMonths
	var divisible bool
	switch p.IntervalUnit {
	case UnitMonth:
		divisible = vestingMonths%p.IntervalLength == 0
	case UnitYear:
		divisible = vestingMonths%(12*p.IntervalLength) == 0
	case UnitDay:
		divisible = daysBetweenMonths(p.CliffMonths, p.TotalDurationMonths)%int64(p.IntervalLength) == 0
	}
	if !divisible {
		return fmt.Errorf("%w: %d months after cliff is not a multiple of %d %s",
			ErrInvalidPlanInterval, vestingMonths, p.IntervalLength, p.IntervalUnit)
	}
	return nil
}

func (p Plan) String() string {
	return fmt.Sprintf("plan %d: cliff %dm, total %dm, every %d %s",
		p.ID, p.CliffMonths, p.TotalDurationMonths, p.IntervalLength, p.IntervalUnit)
}
