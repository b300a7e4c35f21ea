/*
Package staking is an in-process delegation subsystem and bounty
distributor.

PURPOSE:
  The vesting engine only forwards delegation, undelegation and bounty
  requests; it does not know how staking works. This package is the
  collaborator it forwards to when running as a standalone service:
  delegations lock the delegator's tokens on the token ledger, undelegation
  unlocks them, and accrued bounties are paid from a rewards pool.

PERSISTENCE:
  Delegations and accrued bounties are kept in the same store as the token
  ledger. The lock a delegation places and the delegation record commit in
  one transaction, so a restart never leaves a lock without the record
  needed to release it.

SIMPLIFICATIONS:
  - Undelegation takes effect immediately instead of at the end of the
    delegation period.
  - Bounties are credited through AccrueBounty (the owner-only
    POST /api/admin/bounties route); reward computation itself is not part
    of this service.
*/
package staking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/vesting-engine/token"
)

type ValidatorID uint64
type DelegationID uint64

// Delegator is the interface the escrow forwards delegation calls to.
type Delegator interface {
	RequestDelegation(ctx context.Context, delegator token.Address, validator ValidatorID,
		amount token.Amount, periodMonths int, info string) (DelegationID, error)
	RequestUndelegation(ctx context.Context, delegator token.Address, id DelegationID) error
}

// Distributor pays staking rewards.
type Distributor interface {
	ClaimBounty(ctx context.Context, validator ValidatorID, claimant, recipient token.Address) (token.Amount, error)
}

var (
	ErrUnknownValidator   = errors.New("unknown validator")
	ErrInvalidPeriod      = errors.New("delegation period not allowed")
	ErrDelegationNotFound = errors.New("delegation not found")
	ErrNotDelegator       = errors.New("caller is not the delegator")
	ErrNotDelegated       = errors.New("delegation is not active")
)

type DelegationState string

const (
	DelegationActive      DelegationState = "active"
	DelegationUndelegated DelegationState = "undelegated"
)

// Delegation is one stake of a delegator's tokens with a validator. ID is
// assigned by the Store.
type Delegation struct {
	ID           DelegationID
	Delegator    token.Address
	Validator    ValidatorID
	Amount       token.Amount
	PeriodMonths int
	Info         string
	State        DelegationState
}

// =============================================================================
// STORE
// =============================================================================

// Store persists delegations and bounties next to the token ledger.
// Lookups of unknown keys return (nil, nil) or a zero amount.
type Store interface {
	token.Store

	// AppendDelegation stores d and returns its id. Ids start at 1 and are
	// never reused.
	AppendDelegation(ctx context.Context, d Delegation) (DelegationID, error)
	GetDelegation(ctx context.Context, id DelegationID) (*Delegation, error)
	SetDelegationState(ctx context.Context, id DelegationID, state DelegationState) error
	// ListDelegations returns delegator's delegations ordered by id.
	ListDelegations(ctx context.Context, delegator token.Address) ([]Delegation, error)

	GetBounty(ctx context.Context, validator ValidatorID, claimant token.Address) (token.Amount, error)
	// SaveBounty sets the accrued amount; zero removes the entry.
	SaveBounty(ctx context.Context, validator ValidatorID, claimant token.Address, amount token.Amount) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithStakingTx executes fn within a transaction. If fn returns an
	// error every write made through the Store passed to fn is rolled back.
	WithStakingTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller implements Delegator and Distributor over a TxStore.
type Controller struct {
	store       TxStore
	ledger      *token.Ledger
	rewardsPool token.Address

	mu         sync.Mutex
	validators map[ValidatorID]bool
	periods    map[int]bool
}

var (
	_ Delegator   = (*Controller)(nil)
	_ Distributor = (*Controller)(nil)
)

// DefaultPeriods are the accepted delegation periods in months.
var DefaultPeriods = []int{2, 6, 12}

func NewController(store TxStore, rewardsPool token.Address, periods []int) *Controller {
	if len(periods) == 0 {
		periods = DefaultPeriods
	}
	c := &Controller{
		store:       store,
		ledger:      token.NewLedger(store),
		rewardsPool: rewardsPool,
		validators:  make(map[ValidatorID]bool),
		periods:     make(map[int]bool),
	}
	for _, p := range periods {
		c.periods[p] = true
	}
	return c
}

func (c *Controller) RegisterValidator(id ValidatorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators[id] = true
}

// UseClock stamps the controller's ledger transactions with now.
func (c *Controller) UseClock(now func() time.Time) { c.ledger.Now = now }

// RewardsPool is the account bounties are paid from.
func (c *Controller) RewardsPool() token.Address { return c.rewardsPool }

func (c *Controller) RequestDelegation(ctx context.Context, delegator token.Address, validator ValidatorID,
	amount token.Amount, periodMonths int, info string) (DelegationID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.validators[validator] {
		return 0, fmt.Errorf("%w: %d", ErrUnknownValidator, validator)
	}
	if !c.periods[periodMonths] {
		return 0, fmt.Errorf("%w: %d months", ErrInvalidPeriod, periodMonths)
	}

	var id DelegationID
	err := c.store.WithStakingTx(ctx, func(tx Store) error {
		reason := fmt.Sprintf("delegation to validator %d", validator)
		if err := c.ledger.Bind(tx).Lock(ctx, delegator, amount, reason); err != nil {
			return err
		}
		var err error
		id, err = tx.AppendDelegation(ctx, Delegation{
			Delegator:    delegator,
			Validator:    validator,
			Amount:       amount,
			PeriodMonths: periodMonths,
			Info:         info,
			State:        DelegationActive,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Controller) RequestUndelegation(ctx context.Context, delegator token.Address, id DelegationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.WithStakingTx(ctx, func(tx Store) error {
		d, err := tx.GetDelegation(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("%w: %d", ErrDelegationNotFound, id)
		}
		if d.Delegator != delegator {
			return ErrNotDelegator
		}
		if d.State != DelegationActive {
			return ErrNotDelegated
		}
		if err := c.ledger.Bind(tx).Unlock(ctx, delegator, d.Amount, fmt.Sprintf("undelegation %d", id)); err != nil {
			return err
		}
		return tx.SetDelegationState(ctx, id, DelegationUndelegated)
	})
}

// Delegations lists a delegator's delegations ordered by id.
func (c *Controller) Delegations(ctx context.Context, delegator token.Address) ([]Delegation, error) {
	return c.store.ListDelegations(ctx, delegator)
}

// AccrueBounty credits a reward to claimant for staking with validator.
func (c *Controller) AccrueBounty(ctx context.Context, validator ValidatorID, claimant token.Address, amount token.Amount) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", token.ErrInvalidAmount, amount)
	}
	if claimant.IsZero() {
		return fmt.Errorf("%w: empty claimant", token.ErrInvalidAddress)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validators[validator] {
		return fmt.Errorf("%w: %d", ErrUnknownValidator, validator)
	}

	return c.store.WithStakingTx(ctx, func(tx Store) error {
		prev, err := tx.GetBounty(ctx, validator, claimant)
		if err != nil {
			return err
		}
		return tx.SaveBounty(ctx, validator, claimant, prev.Add(amount))
	})
}

// Bounty returns what claimant has accrued and not yet claimed.
func (c *Controller) Bounty(ctx context.Context, validator ValidatorID, claimant token.Address) (token.Amount, error) {
	return c.store.GetBounty(ctx, validator, claimant)
}

// ClaimBounty pays everything accrued to claimant for validator directly to
// recipient. Nothing accrued is not an error.
func (c *Controller) ClaimBounty(ctx context.Context, validator ValidatorID, claimant, recipient token.Address) (token.Amount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	paid := token.Zero
	err := c.store.WithStakingTx(ctx, func(tx Store) error {
		amount, err := tx.GetBounty(ctx, validator, claimant)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return nil
		}
		reason := fmt.Sprintf("bounty from validator %d for %s", validator, claimant)
		if err := c.ledger.Bind(tx).Transfer(ctx, c.rewardsPool, recipient, amount, reason); err != nil {
			return err
		}
		paid = amount
		return tx.SaveBounty(ctx, validator, claimant, token.Zero)
	})
	if err != nil {
		return token.Zero, err
	}
	return paid, nil
}
