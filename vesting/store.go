/*
store.go - Persistence interface for plans, beneficiaries and escrows

PURPOSE:
  Defines the boundary between the allocator and its database. The same
  backend also stores the token ledger, so a state transition and the token
  movement it triggers commit or roll back together.

CONTRACT:
  - Plans are append-only; AppendPlan assigns the next id (starting at 1).
  - Beneficiary and escrow records are upserted by address. Immutable
    fields are enforced by the allocator, not the store.
  - Lookups of unknown keys return (nil, nil).

IMPLEMENTATIONS:
  - store/memory: in-memory, for tests and dev
  - store/sqlite: SQLite with versioned migrations
*/
package vesting

import (
	"context"

	"github.com/warp/vesting-engine/token"
)

// Store persists registry state and the token ledger.
type Store interface {
	token.Store

	AppendPlan(ctx context.Context, plan Plan) (PlanID, error)
	GetPlan(ctx context.Context, id PlanID) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)

	SaveBeneficiary(ctx context.Context, b Beneficiary) error
	GetBeneficiary(ctx context.Context, addr token.Address) (*Beneficiary, error)
	ListBeneficiaries(ctx context.Context) ([]Beneficiary, error)

	SaveEscrow(ctx context.Context, e EscrowState) error
	GetEscrow(ctx context.Context, beneficiary token.Address) (*EscrowState, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write made through the Store passed to
	// fn is rolled back. Otherwise the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
