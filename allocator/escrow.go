/*
escrow.go - Per-beneficiary custody

PURPOSE:
  Each beneficiary has exactly one escrow account on the token ledger,
  funded with the full allocation at StartVesting. The escrow gates every
  way tokens can leave it:

    Retrieve                  vested - withdrawn, to the beneficiary
    Delegate                  locks unvested tokens for staking (no transfer)
    RetrieveAfterTermination  full - vested(terminatedAt) - returned, to the
                              treasury

  Tokens locked for staking never leave the escrow. Retrieve and settlement
  move at most the escrow's free balance; whatever is locked stays owed
  and is moved by a later call once undelegated.

RESERVATION:
  Settlement only takes free tokens beyond what is still owed to the
  beneficiary (vested - withdrawn), so staking locks can delay the
  beneficiary's or the treasury's share but never swap them.
*/
package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// Escrow is a handle on one beneficiary's escrow.
type Escrow struct {
	a           *Allocator
	beneficiary token.Address
	address     token.Address
}

// Escrow returns the escrow bound to beneficiary, or ErrEscrowNotFound if the
// beneficiary was never connected.
func (a *Allocator) Escrow(ctx context.Context, beneficiary token.Address) (*Escrow, error) {
	st, err := a.store.GetEscrow(ctx, beneficiary)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", vesting.ErrEscrowNotFound, beneficiary)
	}
	return &Escrow{a: a, beneficiary: beneficiary, address: st.Address}, nil
}

func (e *Escrow) Address() token.Address     { return e.address }
func (e *Escrow) Beneficiary() token.Address { return e.beneficiary }

// State returns the persisted counters.
func (e *Escrow) State(ctx context.Context) (vesting.EscrowState, error) {
	st, err := e.a.store.GetEscrow(ctx, e.beneficiary)
	if err != nil {
		return vesting.EscrowState{}, err
	}
	if st == nil {
		return vesting.EscrowState{}, fmt.Errorf("%w: %s", vesting.ErrEscrowNotFound, e.beneficiary)
	}
	return *st, nil
}

// Balances returns the escrow's ledger balance and staking lock.
func (e *Escrow) Balances(ctx context.Context) (token.Balances, error) {
	return e.a.ledger.Balances(ctx, e.address)
}

// escrowView is everything an escrow operation needs, read in one
// transaction.
type escrowView struct {
	beneficiary vesting.Beneficiary
	plan        *vesting.Plan
	state       vesting.EscrowState
	balances    token.Balances
}

// owed is the vested amount not yet paid to the beneficiary.
func (v escrowView) owed(now time.Time) token.Amount {
	if v.plan == nil {
		return token.Zero
	}
	return v.beneficiary.VestedAt(*v.plan, now).Sub(v.state.Withdrawn).Max(token.Zero)
}

func (e *Escrow) load(ctx context.Context, tx vesting.Store) (escrowView, error) {
	b, plan, err := loadActor(ctx, tx, e.beneficiary)
	if err != nil {
		return escrowView{}, err
	}
	st, err := tx.GetEscrow(ctx, e.beneficiary)
	if err != nil {
		return escrowView{}, err
	}
	if st == nil {
		return escrowView{}, fmt.Errorf("%w: %s", vesting.ErrEscrowNotFound, e.beneficiary)
	}
	bal, err := e.a.ledger.Bind(tx).Balances(ctx, st.Address)
	if err != nil {
		return escrowView{}, err
	}
	return escrowView{beneficiary: b, plan: plan, state: *st, balances: bal}, nil
}

// =============================================================================
// RETRIEVE
// =============================================================================

// Retrieve pays the beneficiary everything vested and not yet withdrawn,
// capped at the escrow's free balance. Nothing claimable returns zero.
func (e *Escrow) Retrieve(ctx context.Context, caller token.Address) (token.Amount, error) {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireSelf(caller, e.beneficiary); err != nil {
		return token.Zero, a.reject("retrieve", err, "caller", caller, "escrow", e.address)
	}

	now := a.clock.Now()
	paid := token.Zero
	err := a.store.WithTx(ctx, func(tx vesting.Store) error {
		v, err := e.load(ctx, tx)
		if err != nil {
			return err
		}
		amount := v.owed(now).Min(v.balances.Free())
		if !amount.IsPositive() {
			return nil
		}
		reason := fmt.Sprintf("retrieve vested tokens from %s", e.address)
		if err := a.ledger.Bind(tx).Transfer(ctx, e.address, e.beneficiary, amount, reason); err != nil {
			return err
		}
		v.state.Withdrawn = v.state.Withdrawn.Add(amount)
		paid = amount
		return tx.SaveEscrow(ctx, v.state)
	})
	if err != nil {
		return token.Zero, a.reject("retrieve", err, "escrow", e.address)
	}
	if paid.IsPositive() {
		a.log.Info("vested tokens retrieved", "beneficiary", e.beneficiary, "escrow", e.address, "amount", paid)
	}
	return paid, nil
}

// =============================================================================
// STAKING
// =============================================================================

// DelegateRequest describes a delegation of unvested escrow tokens.
type DelegateRequest struct {
	Validator    staking.ValidatorID
	Amount       token.Amount
	PeriodMonths int
	Info         string
}

// Delegate stakes part of the still-unvested balance with a validator. The
// total staked from this escrow may not exceed the unvested amount.
func (e *Escrow) Delegate(ctx context.Context, caller token.Address, req DelegateRequest) (staking.DelegationID, error) {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireSelf(caller, e.beneficiary); err != nil {
		return 0, a.reject("delegate", err, "caller", caller, "escrow", e.address)
	}
	if a.delegator == nil {
		return 0, a.reject("delegate", vesting.ErrStakingUnavailable, "escrow", e.address)
	}
	if !req.Amount.IsPositive() {
		return 0, a.reject("delegate", fmt.Errorf("%w: %s", token.ErrInvalidAmount, req.Amount))
	}

	v, err := e.load(ctx, a.store)
	if err != nil {
		return 0, err
	}
	if v.plan == nil || !v.plan.DelegationAllowed {
		return 0, a.reject("delegate", fmt.Errorf("%w: beneficiary %s", vesting.ErrDelegationNotAllowed, e.beneficiary))
	}
	if !v.beneficiary.IsActive() {
		return 0, a.reject("delegate", &vesting.StatusError{Op: "delegate", Beneficiary: e.beneficiary, Status: v.beneficiary.Status})
	}

	unvested := v.beneficiary.Schedule(*v.plan).LockedAmount(a.clock.Now())
	if v.balances.Locked.Add(req.Amount).GreaterThan(unvested) {
		return 0, a.reject("delegate", &vesting.StakeLimitError{
			Escrow:    e.address,
			Staked:    v.balances.Locked,
			Unvested:  unvested,
			Requested: req.Amount,
		})
	}

	id, err := a.delegator.RequestDelegation(ctx, e.address, req.Validator, req.Amount, req.PeriodMonths, req.Info)
	if err != nil {
		return 0, a.reject("delegate", err, "escrow", e.address)
	}
	a.log.Info("delegation requested", "escrow", e.address, "validator", req.Validator,
		"amount", req.Amount, "period_months", req.PeriodMonths, "delegation", id)
	return id, nil
}

// RequestUndelegation forwards an undelegation request. Once the beneficiary
// is terminated a vesting manager may also undelegate, so that staked
// tokens can be settled.
func (e *Escrow) RequestUndelegation(ctx context.Context, caller token.Address, id staking.DelegationID) error {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireSelf(caller, e.beneficiary); err != nil {
		b, _, lerr := loadActor(ctx, a.store, e.beneficiary)
		if lerr != nil {
			return lerr
		}
		if !b.IsTerminated() || access.RequireVestingManager(a.roles, caller) != nil {
			return a.reject("undelegate", err, "caller", caller, "escrow", e.address)
		}
	}
	if a.delegator == nil {
		return a.reject("undelegate", vesting.ErrStakingUnavailable, "escrow", e.address)
	}

	if err := a.delegator.RequestUndelegation(ctx, e.address, id); err != nil {
		return a.reject("undelegate", err, "escrow", e.address, "delegation", id)
	}
	a.log.Info("undelegation requested", "escrow", e.address, "delegation", id, "caller", caller)
	return nil
}

// WithdrawBounty claims staking rewards earned by this escrow and pays them
// to recipient (the beneficiary when empty). Rewards are not subject to
// vesting, so they may not be paid into the escrow itself.
func (e *Escrow) WithdrawBounty(ctx context.Context, caller token.Address, validator staking.ValidatorID, recipient token.Address) (token.Amount, error) {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireSelf(caller, e.beneficiary); err != nil {
		return token.Zero, a.reject("withdraw bounty", err, "caller", caller, "escrow", e.address)
	}
	if a.distributor == nil {
		return token.Zero, a.reject("withdraw bounty", vesting.ErrStakingUnavailable, "escrow", e.address)
	}
	if recipient.IsZero() {
		recipient = e.beneficiary
	}
	if recipient == e.address {
		return token.Zero, a.reject("withdraw bounty",
			fmt.Errorf("%w: %s is the escrow itself", vesting.ErrInvalidRecipient, recipient))
	}

	amount, err := a.distributor.ClaimBounty(ctx, validator, e.address, recipient)
	if err != nil {
		return token.Zero, a.reject("withdraw bounty", err, "escrow", e.address)
	}
	if amount.IsPositive() {
		a.log.Info("bounty withdrawn", "escrow", e.address, "validator", validator, "recipient", recipient, "amount", amount)
	}
	return amount, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// Remainder is the unvested amount still to be returned to the treasury.
func (e *Escrow) Remainder(ctx context.Context) (token.Amount, error) {
	v, err := e.load(ctx, e.a.store)
	if err != nil {
		return token.Zero, err
	}
	return v.remainder(), nil
}

func (v escrowView) remainder() token.Amount {
	if v.plan == nil || !v.beneficiary.IsTerminated() {
		return token.Zero
	}
	vested := v.beneficiary.VestedAt(*v.plan, v.beneficiary.TerminatedAt)
	return v.beneficiary.FullAmount.Sub(vested).Sub(v.state.Returned).Max(token.Zero)
}

// RetrieveAfterTermination returns the unvested remainder of a terminated
// beneficiary to the treasury. Tokens still locked for staking are moved by
// a later call; once everything is returned further calls move nothing.
func (e *Escrow) RetrieveAfterTermination(ctx context.Context, caller token.Address) (token.Amount, error) {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireVestingManager(a.roles, caller); err != nil {
		return token.Zero, a.reject("settle", err, "caller", caller, "escrow", e.address)
	}

	now := a.clock.Now()
	returned := token.Zero
	err := a.store.WithTx(ctx, func(tx vesting.Store) error {
		v, err := e.load(ctx, tx)
		if err != nil {
			return err
		}
		if !v.beneficiary.IsTerminated() {
			return &vesting.StatusError{Op: "settle", Beneficiary: e.beneficiary, Status: v.beneficiary.Status, Sentinel: vesting.ErrVestingActive}
		}
		available := v.balances.Free().Sub(v.owed(now)).Max(token.Zero)
		amount := v.remainder().Min(available)
		if !amount.IsPositive() {
			return nil
		}
		reason := fmt.Sprintf("return unvested tokens of %s", e.beneficiary)
		if err := a.ledger.Bind(tx).Transfer(ctx, e.address, a.treasury, amount, reason); err != nil {
			return err
		}
		v.state.Returned = v.state.Returned.Add(amount)
		returned = amount
		return tx.SaveEscrow(ctx, v.state)
	})
	if err != nil {
		return token.Zero, a.reject("settle", err, "escrow", e.address)
	}
	if returned.IsPositive() {
		a.log.Info("unvested tokens returned", "beneficiary", e.beneficiary, "escrow", e.address, "amount", returned)
	}
	return returned, nil
}
