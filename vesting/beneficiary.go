package vesting

import (
	"time"

	"github.com/warp/vesting-engine/token"
)

// =============================================================================
// STATUS - Beneficiary state machine
// =============================================================================
//
//   unregistered --connect--> pending_confirmation --approve--> confirmed
//       --start--> active --stop (terminable plans only)--> terminated
//
// No transition leaves terminated. A fully vested beneficiary stays active.

type Status string

const (
	StatusUnregistered        Status = "unregistered"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusActive              Status = "active"
	StatusTerminated          Status = "terminated"
)

// =============================================================================
// BENEFICIARY - One record per address, created at most once
// =============================================================================

// Beneficiary binds an address to a plan instance. PlanID, StartMonth,
// FullAmount and CliffAmount never change after creation.
type Beneficiary struct {
	Address       token.Address
	PlanID        PlanID
	StartMonth    time.Time
	FullAmount    token.Amount
	CliffAmount   token.Amount
	Status        Status
	EscrowAddress token.Address

	// Zero unless Status == StatusTerminated.
	TerminatedAt time.Time

	CreatedAt time.Time
}

// Unregistered is the zero-value record returned for unknown addresses.
func Unregistered(addr token.Address) Beneficiary {
	return Beneficiary{
		Address:     addr,
		Status:      StatusUnregistered,
		FullAmount:  token.Zero,
		CliffAmount: token.Zero,
	}
}

func (b Beneficiary) IsRegistered() bool { return b.Status != StatusUnregistered && b.Status != "" }

// IsApproved is true once the beneficiary confirmed, including later states.
func (b Beneficiary) IsApproved() bool {
	switch b.Status {
	case StatusConfirmed, StatusActive, StatusTerminated:
		return true
	}
	return false
}

func (b Beneficiary) IsActive() bool     { return b.Status == StatusActive }
func (b Beneficiary) IsTerminated() bool { return b.Status == StatusTerminated }

// ValidateAmounts checks cliffAmount <= fullAmount and fullAmount > 0.
func ValidateAmounts(full, cliff token.Amount) error {
	if !full.IsPositive() || cliff.IsNegative() || cliff.GreaterThan(full) {
		return ErrInvalidAmounts
	}
	return nil
}

// Schedule returns the vesting schedule of this record under plan.
func (b Beneficiary) Schedule(plan Plan) Schedule {
	return Schedule{
		Start:          b.StartMonth,
		CliffMonths:    plan.CliffMonths,
		TotalMonths:    plan.TotalDurationMonths,
		Unit:           plan.IntervalUnit,
		IntervalLength: plan.IntervalLength,
		FullAmount:     b.FullAmount,
		CliffAmount:    b.CliffAmount,
	}
}

// VestedAt is the amount the beneficiary is entitled to at now, taking the
// status into account: nothing before activation, frozen at the moment of
// termination afterwards.
func (b Beneficiary) VestedAt(plan Plan, now time.Time) token.Amount {
	switch b.Status {
	case StatusActive:
		return b.Schedule(plan).VestedAmount(now)
	case StatusTerminated:
		return b.Schedule(plan).VestedAmount(b.TerminatedAt)
	}
	return token.Zero
}

// =============================================================================
// ESCROW STATE - Counters kept per escrow
// =============================================================================

// EscrowState is the persisted part of an escrow. Balances and staking
// locks live on the token ledger and are not duplicated here.
type EscrowState struct {
	Address     token.Address
	Beneficiary token.Address

	// Tokens paid out to the beneficiary by retrieve.
	Withdrawn token.Amount

	// Unvested tokens sent back to the treasury after termination.
	Returned token.Amount

	CreatedAt time.Time
}
