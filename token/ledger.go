/*
ledger.go - Append-only token ledger

PURPOSE:
  The Ledger is the source of truth for every token movement the vesting
  engine makes: funding an escrow from the treasury, paying a beneficiary,
  settling an unvested remainder back to the treasury, and locking escrow
  tokens for delegation. Balances are computed by replaying transactions;
  there is no separate balance column that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete
  2. CONSERVATION: a transfer debits exactly what it credits
  3. FREE BALANCE: transfers and locks never exceed balance - locked
  4. ATOMIC PRIMITIVES: each Transfer/Lock/Unlock checks and appends inside
     a single Store.Atomic call, so two concurrent transfers can never both
     spend the same tokens

SEE ALSO:
  - store.go: persistence interface
  - staking/controller.go: locks and unlocks delegated tokens
*/
package token

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger wraps a Store with balance replay and checked primitives.
type Ledger struct {
	Store Store

	// Now stamps new transactions. Defaults to time.Now in UTC.
	Now func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// Bind returns a ledger over a different store (typically a transaction
// view) that keeps this ledger's clock.
func (l *Ledger) Bind(store Store) *Ledger {
	return &Ledger{Store: store, Now: l.Now}
}

// Balances is the replayed state of one account.
type Balances struct {
	Total  Amount
	Locked Amount
}

// Free is the part of the balance that may be transferred or locked.
func (b Balances) Free() Amount {
	return b.Total.Sub(b.Locked)
}

// BalanceOf returns the total balance of addr, including locked tokens.
func (l *Ledger) BalanceOf(ctx context.Context, addr Address) (Amount, error) {
	b, err := l.Balances(ctx, addr)
	if err != nil {
		return Amount{}, err
	}
	return b.Total, nil
}

// LockedBalanceOf returns the part of addr's balance locked for staking.
func (l *Ledger) LockedBalanceOf(ctx context.Context, addr Address) (Amount, error) {
	b, err := l.Balances(ctx, addr)
	if err != nil {
		return Amount{}, err
	}
	return b.Locked, nil
}

// Balances replays addr's history.
func (l *Ledger) Balances(ctx context.Context, addr Address) (Balances, error) {
	return balancesOf(ctx, l.Store, addr)
}

// History returns every transaction touching addr.
func (l *Ledger) History(ctx context.Context, addr Address) ([]Transaction, error) {
	return l.Store.LoadTransactions(ctx, addr)
}

// Mint credits new supply to an account. Only used at genesis.
func (l *Ledger) Mint(ctx context.Context, to Address, amount Amount, reason string) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAddress
	}
	return l.Store.Atomic(ctx, func(s Store) error {
		return s.AppendTransaction(ctx, l.newTx(TxMint, "", to, amount, reason))
	})
}

// Transfer moves amount from one account to another. It fails with an
// InsufficientBalanceError if the sender's free balance is too small.
func (l *Ledger) Transfer(ctx context.Context, from, to Address, amount Amount, reason string) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() {
		return ErrInvalidAddress
	}
	return l.Store.Atomic(ctx, func(s Store) error {
		b, err := balancesOf(ctx, s, from)
		if err != nil {
			return err
		}
		if b.Free().LessThan(amount) {
			return &InsufficientBalanceError{Account: from, Available: b.Free(), Requested: amount}
		}
		return s.AppendTransaction(ctx, l.newTx(TxTransfer, from, to, amount, reason))
	})
}

// Lock marks amount of addr's free balance as locked for staking. Locked
// tokens stay in the account but cannot be transferred.
func (l *Ledger) Lock(ctx context.Context, addr Address, amount Amount, reason string) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.Store.Atomic(ctx, func(s Store) error {
		b, err := balancesOf(ctx, s, addr)
		if err != nil {
			return err
		}
		if b.Free().LessThan(amount) {
			return &InsufficientBalanceError{Account: addr, Available: b.Free(), Requested: amount}
		}
		return s.AppendTransaction(ctx, l.newTx(TxLock, addr, "", amount, reason))
	})
}

// Unlock releases previously locked tokens.
func (l *Ledger) Unlock(ctx context.Context, addr Address, amount Amount, reason string) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.Store.Atomic(ctx, func(s Store) error {
		b, err := balancesOf(ctx, s, addr)
		if err != nil {
			return err
		}
		if b.Locked.LessThan(amount) {
			return ErrInsufficientLocked
		}
		return s.AppendTransaction(ctx, l.newTx(TxUnlock, addr, "", amount, reason))
	})
}

func (l *Ledger) newTx(typ TransactionType, from, to Address, amount Amount, reason string) Transaction {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return Transaction{
		ID:        TransactionID(uuid.New().String()),
		Type:      typ,
		From:      from,
		To:        to,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now().UTC(),
	}
}

func balancesOf(ctx context.Context, s Store, addr Address) (Balances, error) {
	txs, err := s.LoadTransactions(ctx, addr)
	if err != nil {
		return Balances{}, err
	}
	b := Balances{Total: Zero, Locked: Zero}
	for _, tx := range txs {
		switch tx.Type {
		case TxMint, TxTransfer:
			if tx.To == addr {
				b.Total = b.Total.Add(tx.Amount)
			}
			if tx.From == addr {
				b.Total = b.Total.Sub(tx.Amount)
			}
		case TxLock:
			if tx.From == addr {
				b.Locked = b.Locked.Add(tx.Amount)
			}
		case TxUnlock:
			if tx.From == addr {
				b.Locked = b.Locked.Sub(tx.Amount)
			}
		}
	}
	return b, nil
}

func checkAmount(a Amount) error {
	if !a.IsPositive() || !a.Value.Equal(a.Value.Truncate(0)) {
		return ErrInvalidAmount
	}
	return nil
}
