package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for negative, fractional or zero amounts
	// where a positive whole amount is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when the free (unlocked) balance
	// of an account cannot cover a transfer or lock.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientLocked is returned when unlocking more than is locked.
	ErrInsufficientLocked = errors.New("insufficient locked balance")

	// ErrInvalidAddress is returned for an empty account address.
	ErrInvalidAddress = errors.New("invalid address")
)

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Account   Address
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.Account, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
