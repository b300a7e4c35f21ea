/*
errors.go - Error types for the vesting engine

ERROR CATEGORIES:
  1. Validation errors - bad plan parameters, bad amounts, unknown ids.
     Rejected before any state change; resubmit corrected input.
  2. State-machine errors - an action attempted from the wrong status
     (starting twice, approving twice, stopping a non-terminable plan).
     Ordering mistakes by the caller; never retried automatically.
  3. Authorization errors live in package access.

Every operation either applies its full state transition and token
movement or has no effect at all.
*/
package vesting

import (
	"errors"
	"fmt"

	"github.com/warp/vesting-engine/token"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Plan registry
	ErrInvalidPlanPeriods  = errors.New("invalid plan periods")
	ErrInvalidPlanInterval = errors.New("invalid plan interval")
	ErrPlanNotFound        = errors.New("plan not found")

	// Beneficiary directory
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrAlreadyRegistered  = errors.New("beneficiary already registered")
	ErrInvalidAmounts     = errors.New("invalid amounts")
	ErrInvalidStartMonth  = errors.New("start month must be 00:00:00 UTC on day 1")
	ErrInvalidBeneficiary = errors.New("invalid beneficiary address")
	ErrNotRegistered      = errors.New("beneficiary not registered")
	ErrAlreadyApproved    = errors.New("beneficiary already approved")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrNotTerminable      = errors.New("plan is not terminable")

	// Escrow
	ErrDelegationNotAllowed      = errors.New("delegation not allowed")
	ErrVestingActive             = errors.New("vesting is active")
	ErrInsufficientLockedBalance = errors.New("amount exceeds unvested balance")
	ErrEscrowNotFound            = errors.New("escrow not found")
	ErrInvalidRecipient          = errors.New("invalid bounty recipient")
	ErrStakingUnavailable        = errors.New("no staking subsystem configured")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StatusError reports an operation attempted from the wrong status.
type StatusError struct {
	Op          string
	Beneficiary token.Address
	Status      Status
	Sentinel    error // defaults to ErrInvalidStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s for %s (status %s)", e.Op, e.Unwrap(), e.Beneficiary, e.Status)
}

func (e *StatusError) Unwrap() error {
	if e.Sentinel != nil {
		return e.Sentinel
	}
	return ErrInvalidStatus
}

// StakeLimitError reports a delegation larger than the unvested balance.
type StakeLimitError struct {
	Escrow    token.Address
	Staked    token.Amount
	Unvested  token.Amount
	Requested token.Amount
}

func (e *StakeLimitError) Error() string {
	return fmt.Sprintf("cannot stake %s from %s: %s already staked of %s unvested",
		e.Requested, e.Escrow, e.Staked, e.Unvested)
}

func (e *StakeLimitError) Unwrap() error {
	return ErrInsufficientLockedBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPlanPeriods) ||
		errors.Is(err, ErrInvalidPlanInterval) ||
		errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrInvalidAmounts) ||
		errors.Is(err, ErrInvalidStartMonth) ||
		errors.Is(err, ErrInvalidBeneficiary) ||
		errors.Is(err, ErrInsufficientLockedBalance) ||
		errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, token.ErrInvalidAmount)
}

// IsStateError returns true if the error is a state-machine rejection.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrNotRegistered) ||
		errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrNotTerminable) ||
		errors.Is(err, ErrDelegationNotAllowed) ||
		errors.Is(err, ErrStakingUnavailable) ||
		errors.Is(err, ErrVestingActive)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrEscrowNotFound)
}
