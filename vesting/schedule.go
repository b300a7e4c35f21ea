/*
schedule.go - Vested and locked amount calculation

PURPOSE:
  Answers "how much of a beneficiary's allocation is unlocked at time T".
  Every party must be able to recompute the same number from public state,
  so the rounding contract is part of the API:

    cliffEnd = start + cliffMonths          (calendar months)
    end      = start + totalMonths
    now <  cliffEnd  -> 0
    now >= end       -> fullAmount
    otherwise
      totalSteps   = unitsBetween(cliffEnd, end) / intervalLength
      elapsedSteps = unitsBetween(cliffEnd, now) / intervalLength
      totalSteps == 0 -> cliffAmount
      else            -> cliffAmount + floor((full - cliff) * elapsed / total)

  All divisions truncate. Amounts are unbounded integers, so the product
  (full - cliff) * elapsed never overflows.

PROPERTIES:
  - VestedAmount is non-decreasing in now, LockedAmount non-increasing
  - VestedAmount(cliffEnd) == cliffAmount (when cliffEnd < end)
  - VestedAmount(t) == fullAmount for every t >= end
*/
package vesting

import (
	"time"

	"github.com/warp/vesting-engine/token"
)

// Schedule is a plan instantiated for one beneficiary.
type Schedule struct {
	Start          time.Time
	CliffMonths    int
	TotalMonths    int
	Unit           TimeUnit
	IntervalLength int
	FullAmount     token.Amount
	CliffAmount    token.Amount
}

func (s Schedule) CliffEnd() time.Time { return AddMonths(s.Start, s.CliffMonths) }
func (s Schedule) End() time.Time      { return AddMonths(s.Start, s.TotalMonths) }

// TotalSteps is the number of periodic releases between cliff end and end.
func (s Schedule) TotalSteps() int64 {
	if s.IntervalLength <= 0 {
		return 0
	}
	return UnitsBetween(s.CliffEnd(), s.End(), s.Unit) / int64(s.IntervalLength)
}

// VestedAmount returns the cumulative unlocked amount at now.
func (s Schedule) VestedAmount(now time.Time) token.Amount {
	cliffEnd, end := s.CliffEnd(), s.End()
	if now.Before(cliffEnd) {
		return token.Zero
	}
	if !now.Before(end) {
		return s.FullAmount
	}

	total := s.TotalSteps()
	if total == 0 {
		return s.CliffAmount
	}
	elapsed := UnitsBetween(cliffEnd, now, s.Unit) / int64(s.IntervalLength)
	if elapsed > total {
		elapsed = total
	}
	linear := s.FullAmount.Sub(s.CliffAmount).MulDivFloor(elapsed, total)
	return s.CliffAmount.Add(linear)
}

// LockedAmount is fullAmount - VestedAmount(now).
func (s Schedule) LockedAmount(now time.Time) token.Amount {
	return s.FullAmount.Sub(s.VestedAmount(now))
}

// NextVestTimestamp returns the smallest instant strictly after now at which
// VestedAmount changes step. It returns false once everything is vested,
// which for YEAR plans not starting in January happens before End.
func (s Schedule) NextVestTimestamp(now time.Time) (time.Time, bool) {
	cliffEnd, end := s.CliffEnd(), s.End()
	if now.Before(cliffEnd) {
		return cliffEnd, true
	}
	if !now.Before(end) || s.VestedAmount(now).Equal(s.FullAmount) {
		return time.Time{}, false
	}
	if s.TotalSteps() == 0 {
		return end, true
	}

	interval := int64(s.IntervalLength)
	nextStep := UnitsBetween(cliffEnd, now, s.Unit)/interval + 1
	next := unitBoundary(cliffEnd, nextStep*interval, s.Unit)
	if !next.Before(end) {
		return end, true
	}
	return next, true
}

// Step is one release boundary of a schedule.
type Step struct {
	At     time.Time
	Vested token.Amount
	Locked token.Amount
}

// Steps lists the cliff release and every later boundary until end.
func (s Schedule) Steps() []Step {
	at := s.CliffEnd()
	steps := []Step{{At: at, Vested: s.VestedAmount(at), Locked: s.LockedAmount(at)}}
	for {
		next, ok := s.NextVestTimestamp(at)
		if !ok {
			return steps
		}
		steps = append(steps, Step{At: next, Vested: s.VestedAmount(next), Locked: s.LockedAmount(next)})
		at = next
	}
}
