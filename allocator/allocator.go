/*
Package allocator is the coordinator of the vesting engine: it owns the plan
registry, the beneficiary directory and one escrow per beneficiary, and moves
tokens on the ledger when a beneficiary's state changes.

STATE-CHANGING OPERATIONS (all serialized by Allocator.mu):
  AddPlan                     administrator
  ConnectBeneficiaryToPlan    administrator
  Approve                     the beneficiary itself
  StartVesting                administrator      treasury -> escrow
  StopVesting                 administrator
  Escrow.Retrieve             the beneficiary    escrow -> beneficiary
  Escrow.Delegate             the beneficiary    locks escrow tokens
  Escrow.RequestUndelegation  the beneficiary (or a vesting manager once terminated)
  Escrow.WithdrawBounty       the beneficiary    rewards pool -> recipient
  Escrow.RetrieveAfterTermination
                              vesting manager    escrow -> treasury

ATOMICITY:
  Every record update and the token movement it triggers run inside one
  TxStore.WithTx call, so either both happen or neither does. Calls into the
  staking subsystem happen outside WithTx (it writes through its own ledger),
  after all local checks passed.

LOCK ORDER:
  Allocator.mu -> staking controller -> store. Nothing inside WithTx may call
  back into the allocator or the staking subsystem.

CONSERVATION (per escrow, at all times):
  Withdrawn + ledger balance + Returned == FullAmount   (once started)

SEE ALSO:
  - plans.go, beneficiaries.go, escrow.go: operations
  - vesting/schedule.go: vested amount math
*/
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/vesting-engine/access"
	"github.com/warp/vesting-engine/staking"
	"github.com/warp/vesting-engine/token"
	"github.com/warp/vesting-engine/vesting"
)

// Allocator coordinates plans, beneficiaries and escrows.
type Allocator struct {
	mu sync.Mutex

	store       vesting.TxStore
	ledger      *token.Ledger
	roles       access.Checker
	delegator   staking.Delegator
	distributor staking.Distributor
	clock       vesting.Clock
	log         *slog.Logger
	treasury    token.Address
}

// Config wires an Allocator to its collaborators.
type Config struct {
	Store       vesting.TxStore
	Roles       access.Checker
	Delegator   staking.Delegator
	Distributor staking.Distributor
	Treasury    token.Address

	// Optional.
	Clock  vesting.Clock
	Logger *slog.Logger
}

func New(cfg Config) (*Allocator, error) {
	if cfg.Store == nil {
		return nil, errors.New("allocator: store is required")
	}
	if cfg.Roles == nil {
		return nil, errors.New("allocator: roles are required")
	}
	if cfg.Treasury.IsZero() {
		return nil, errors.New("allocator: treasury address is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = vesting.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ledger := token.NewLedger(cfg.Store)
	ledger.Now = clock.Now

	return &Allocator{
		store:       cfg.Store,
		ledger:      ledger,
		roles:       cfg.Roles,
		delegator:   cfg.Delegator,
		distributor: cfg.Distributor,
		clock:       clock,
		log:         logger.With("component", "allocator"),
		treasury:    cfg.Treasury,
	}, nil
}

// Ledger exposes the token ledger the allocator writes to.
func (a *Allocator) Ledger() *token.Ledger { return a.ledger }

func (a *Allocator) Treasury() token.Address { return a.treasury }

func (a *Allocator) Now() time.Time { return a.clock.Now() }

// =============================================================================
// ESCROW ADDRESSES
// =============================================================================

var escrowNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:vesting-engine:escrow"))

// EscrowAddressFor derives the escrow address bound to a beneficiary. The
// same beneficiary always maps to the same escrow.
func EscrowAddressFor(beneficiary token.Address) token.Address {
	id := uuid.NewSHA1(escrowNamespace, []byte(beneficiary))
	return token.Address("escrow-" + id.String())
}

// =============================================================================
// HELPERS
// =============================================================================

// loadActor reads a beneficiary with its plan. Unknown addresses yield an
// unregistered record and a nil plan.
func loadActor(ctx context.Context, s vesting.Store, addr token.Address) (vesting.Beneficiary, *vesting.Plan, error) {
	b, err := s.GetBeneficiary(ctx, addr)
	if err != nil {
		return vesting.Beneficiary{}, nil, fmt.Errorf("load beneficiary: %w", err)
	}
	if b == nil {
		return vesting.Unregistered(addr), nil, nil
	}
	plan, err := s.GetPlan(ctx, b.PlanID)
	if err != nil {
		return vesting.Beneficiary{}, nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return vesting.Beneficiary{}, nil, fmt.Errorf("%w: %d", vesting.ErrPlanNotFound, b.PlanID)
	}
	return *b, plan, nil
}

func (a *Allocator) reject(op string, err error, args ...any) error {
	a.log.Debug(op+" rejected", append(args, "error", err)...)
	return err
}
