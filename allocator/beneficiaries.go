package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// =============================================================================
// BENEFICIARY DIRECTORY - State transitions
// =============================================================================

// ConnectRequest binds an address to a plan.
type ConnectRequest struct {
	Address     token.Address
	PlanID      vesting.PlanID
	StartMonth  time.Time
	FullAmount  token.Amount
	CliffAmount token.Amount
}

// ConnectBeneficiaryToPlan creates a pending beneficiary record and its
// escrow. No tokens move until StartVesting.
func (a *Allocator) ConnectBeneficiaryToPlan(ctx context.Context, caller token.Address, req ConnectRequest) (vesting.Beneficiary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireAdministrator(a.roles, caller); err != nil {
		return vesting.Beneficiary{}, a.reject("connect", err, "caller", caller)
	}
	if req.Address.IsZero() || req.Address == a.treasury {
		return vesting.Beneficiary{}, a.reject("connect", fmt.Errorf("%w: %q", vesting.ErrInvalidBeneficiary, req.Address))
	}

	var created vesting.Beneficiary
	err := a.store.WithTx(ctx, func(tx vesting.Store) error {
		existing, err := tx.GetBeneficiary(ctx, req.Address)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", vesting.ErrAlreadyRegistered, req.Address)
		}
		if err := vesting.ValidateAmounts(req.FullAmount, req.CliffAmount); err != nil {
			return fmt.Errorf("%w: full %s, cliff %s", err, req.FullAmount, req.CliffAmount)
		}
		plan, err := tx.GetPlan(ctx, req.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return fmt.Errorf("%w: %d", vesting.ErrUnknownPlan, req.PlanID)
		}
		if !vesting.IsMonthAligned(req.StartMonth) {
			return fmt.Errorf("%w: %s", vesting.ErrInvalidStartMonth, req.StartMonth.Format(time.RFC3339))
		}

		now := a.clock.Now()
		escrow, err := a.ensureEscrow(ctx, tx, req.Address, now)
		if err != nil {
			return err
		}
		created = vesting.Beneficiary{
			Address:       req.Address,
			PlanID:        plan.ID,
			StartMonth:    req.StartMonth.UTC(),
			FullAmount:    req.FullAmount,
			CliffAmount:   req.CliffAmount,
			Status:        vesting.StatusPendingConfirmation,
			EscrowAddress: escrow.Address,
			CreatedAt:     now,
		}
		return tx.SaveBeneficiary(ctx, created)
	})
	if err != nil {
		return vesting.Beneficiary{}, a.reject("connect", err, "beneficiary", req.Address)
	}

	a.log.Info("beneficiary connected", "beneficiary", created.Address, "plan", created.PlanID,
		"start", created.StartMonth.Format("2006-01"), "full", created.FullAmount, "cliff", created.CliffAmount,
		"escrow", created.EscrowAddress)
	return created, nil
}

// ensureEscrow returns the escrow bound to beneficiary, creating it on first
// use.
func (a *Allocator) ensureEscrow(ctx context.Context, tx vesting.Store, beneficiary token.Address, now time.Time) (vesting.EscrowState, error) {
	existing, err := tx.GetEscrow(ctx, beneficiary)
	if err != nil {
		return vesting.EscrowState{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	e := vesting.EscrowState{
		Address:     EscrowAddressFor(beneficiary),
		Beneficiary: beneficiary,
		Withdrawn:   token.Zero,
		Returned:    token.Zero,
		CreatedAt:   now,
	}
	if err := tx.SaveEscrow(ctx, e); err != nil {
		return vesting.EscrowState{}, err
	}
	return e, nil
}

// Approve is called by the beneficiary to accept its allocation.
func (a *Allocator) Approve(ctx context.Context, caller, beneficiary token.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireSelf(caller, beneficiary); err != nil {
		return a.reject("approve", err, "caller", caller, "beneficiary", beneficiary)
	}
	err := a.store.WithTx(ctx, func(tx vesting.Store) error {
		b, _, err := loadActor(ctx, tx, beneficiary)
		if err != nil {
			return err
		}
		switch {
		case b.IsApproved():
			return &vesting.StatusError{Op: "approve", Beneficiary: beneficiary, Status: b.Status, Sentinel: vesting.ErrAlreadyApproved}
		case b.Status != vesting.StatusPendingConfirmation:
			return &vesting.StatusError{Op: "approve", Beneficiary: beneficiary, Status: b.Status, Sentinel: vesting.ErrNotRegistered}
		}
		b.Status = vesting.StatusConfirmed
		return tx.SaveBeneficiary(ctx, b)
	})
	if err != nil {
		return a.reject("approve", err, "beneficiary", beneficiary)
	}
	a.log.Info("beneficiary approved", "beneficiary", beneficiary)
	return nil
}

// StartVesting activates a confirmed beneficiary and funds its escrow with
// the full amount from the treasury.
func (a *Allocator) StartVesting(ctx context.Context, caller, beneficiary token.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireAdministrator(a.roles, caller); err != nil {
		return a.reject("start vesting", err, "caller", caller)
	}

	var funded vesting.Beneficiary
	err := a.store.WithTx(ctx, func(tx vesting.Store) error {
		b, _, err := loadActor(ctx, tx, beneficiary)
		if err != nil {
			return err
		}
		if b.Status != vesting.StatusConfirmed {
			return &vesting.StatusError{Op: "start vesting", Beneficiary: beneficiary, Status: b.Status}
		}
		reason := fmt.Sprintf("fund escrow for %s", beneficiary)
		if err := a.ledger.Bind(tx).Transfer(ctx, a.treasury, b.EscrowAddress, b.FullAmount, reason); err != nil {
			return fmt.Errorf("fund escrow: %w", err)
		}
		b.Status = vesting.StatusActive
		funded = b
		return tx.SaveBeneficiary(ctx, b)
	})
	if err != nil {
		return a.reject("start vesting", err, "beneficiary", beneficiary)
	}
	a.log.Info("vesting started", "beneficiary", beneficiary, "escrow", funded.EscrowAddress, "amount", funded.FullAmount)
	return nil
}

// StopVesting terminates an active beneficiary on a terminable plan. The
// vested amount is frozen at the current time; settlement of the remainder
// is a separate escrow operation.
func (a *Allocator) StopVesting(ctx context.Context, caller, beneficiary token.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := access.RequireAdministrator(a.roles, caller); err != nil {
		return a.reject("stop vesting", err, "caller", caller)
	}

	now := a.clock.Now()
	err := a.store.WithTx(ctx, func(tx vesting.Store) error {
		b, plan, err := loadActor(ctx, tx, beneficiary)
		if err != nil {
			return err
		}
		if b.Status != vesting.StatusActive {
			return &vesting.StatusError{Op: "stop vesting", Beneficiary: beneficiary, Status: b.Status}
		}
		if !plan.Terminable {
			return fmt.Errorf("%w: plan %d", vesting.ErrNotTerminable, plan.ID)
		}
		b.Status = vesting.StatusTerminated
		b.TerminatedAt = now
		return tx.SaveBeneficiary(ctx, b)
	})
	if err != nil {
		return a.reject("stop vesting", err, "beneficiary", beneficiary)
	}
	a.log.Info("vesting stopped", "beneficiary", beneficiary, "terminated_at", now)
	return nil
}

// =============================================================================
// READ ACCESSORS - Never fail for unknown addresses
// =============================================================================

// Beneficiary returns the record for addr, or an unregistered record.
func (a *Allocator) Beneficiary(ctx context.Context, addr token.Address) (vesting.Beneficiary, error) {
	b, _, err := loadActor(ctx, a.store, addr)
	return b, err
}

func (a *Allocator) ListBeneficiaries(ctx context.Context) ([]vesting.Beneficiary, error) {
	return a.store.ListBeneficiaries(ctx)
}

func (a *Allocator) IsRegistered(ctx context.Context, addr token.Address) (bool, error) {
	b, err := a.Beneficiary(ctx, addr)
	return b.IsRegistered(), err
}

func (a *Allocator) IsApproved(ctx context.Context, addr token.Address) (bool, error) {
	b, err := a.Beneficiary(ctx, addr)
	return b.IsApproved(), err
}

func (a *Allocator) IsActive(ctx context.Context, addr token.Address) (bool, error) {
	b, err := a.Beneficiary(ctx, addr)
	return b.IsActive(), err
}

func (a *Allocator) IsTerminated(ctx context.Context, addr token.Address) (bool, error) {
	b, err := a.Beneficiary(ctx, addr)
	return b.IsTerminated(), err
}

// PlanParams returns the beneficiary's plan, or a zero plan.
func (a *Allocator) PlanParams(ctx context.Context, addr token.Address) (vesting.Plan, error) {
	_, plan, err := loadActor(ctx, a.store, addr)
	if err != nil || plan == nil {
		return vesting.Plan{}, err
	}
	return *plan, nil
}

func (a *Allocator) IsDelegationAllowed(ctx context.Context, addr token.Address) (bool, error) {
	plan, err := a.PlanParams(ctx, addr)
	return plan.DelegationAllowed, err
}

func (a *Allocator) EscrowAddress(ctx context.Context, addr token.Address) (token.Address, error) {
	b, err := a.Beneficiary(ctx, addr)
	return b.EscrowAddress, err
}

func (a *Allocator) FullAmount(ctx context.Context, addr token.Address) (token.Amount, error) {
	b, err := a.Beneficiary(ctx, addr)
	if err != nil {
		return token.Zero, err
	}
	return b.FullAmount, nil
}

func (a *Allocator) StartMonth(ctx context.Context, addr token.Address) (time.Time, error) {
	b, err := a.Beneficiary(ctx, addr)
	return b.StartMonth, err
}

// VestedAmount is what the beneficiary is entitled to so far: nothing before
// activation, frozen at termination time afterwards.
func (a *Allocator) VestedAmount(ctx context.Context, addr token.Address) (token.Amount, error) {
	b, plan, err := loadActor(ctx, a.store, addr)
	if err != nil || plan == nil {
		return token.Zero, err
	}
	return b.VestedAt(*plan, a.clock.Now()), nil
}

// LockedAmount is FullAmount - VestedAmount.
func (a *Allocator) LockedAmount(ctx context.Context, addr token.Address) (token.Amount, error) {
	b, plan, err := loadActor(ctx, a.store, addr)
	if err != nil || plan == nil {
		return token.Zero, err
	}
	return b.FullAmount.Sub(b.VestedAt(*plan, a.clock.Now())), nil
}

// CliffEnd is the end of the lockup period.
func (a *Allocator) CliffEnd(ctx context.Context, addr token.Address) (time.Time, error) {
	b, plan, err := loadActor(ctx, a.store, addr)
	if err != nil || plan == nil {
		return time.Time{}, err
	}
	return b.Schedule(*plan).CliffEnd(), nil
}

// VestingEnd is the moment the full amount is vested.
func (a *Allocator) VestingEnd(ctx context.Context, addr token.Address) (time.Time, error) {
	b, plan, err := loadActor(ctx, a.store, addr)
	if err != nil || plan == nil {
		return time.Time{}, err
	}
	return b.Schedule(*plan).End(), nil
}

// NextVestTime returns the next release boundary after now. It reports
// false for unknown, terminated and fully vested beneficiaries.
func (a *Allocator) NextVestTime(ctx context.Context, addr token.Address) (time.Time, bool, error) {
	b, plan, err := loadActor(ctx, a.store, addr)
	if err != nil || plan == nil || b.IsTerminated() {
		return time.Time{}, false, err
	}
	next, ok := b.Schedule(*plan).NextVestTimestamp(a.clock.Now())
	return next, ok, nil
}

// Summary is a read-only projection of one beneficiary.
type Summary struct {
	Beneficiary   vesting.Beneficiary
	Plan          vesting.Plan
	Vested        token.Amount
	Locked        token.Amount
	Withdrawn     token.Amount
	Returned      token.Amount
	EscrowBalance token.Balances
	CliffEnd      time.Time
	VestingEnd    time.Time
	NextVest      time.Time
	HasNextVest   bool
}

// Summary gathers every accessor in one consistent read.
func (a *Allocator) Summary(ctx context.Context, addr token.Address) (Summary, error) {
	b, plan, err := loadActor(ctx, a.store, addr)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		Beneficiary:   b,
		Vested:        token.Zero,
		Locked:        token.Zero,
		Withdrawn:     token.Zero,
		Returned:      token.Zero,
		EscrowBalance: token.Balances{Total: token.Zero, Locked: token.Zero},
	}
	if plan == nil {
		return s, nil
	}

	now := a.clock.Now()
	sched := b.Schedule(*plan)
	s.Plan = *plan
	s.Vested = b.VestedAt(*plan, now)
	s.Locked = b.FullAmount.Sub(s.Vested)
	s.CliffEnd = sched.CliffEnd()
	s.VestingEnd = sched.End()
	if !b.IsTerminated() {
		s.NextVest, s.HasNextVest = sched.NextVestTimestamp(now)
	}

	escrow, err := a.store.GetEscrow(ctx, addr)
	if err != nil {
		return Summary{}, err
	}
	if escrow != nil {
		s.Withdrawn = escrow.Withdrawn
		s.Returned = escrow.Returned
		if s.EscrowBalance, err = a.ledger.Balances(ctx, escrow.Address); err != nil {
			return Summary{}, err
		}
	}
	return s, nil
}
