/*
Package token provides the balance ledger that custodies vesting tokens.

PURPOSE:
  The vesting engine never owns a token implementation of its own. It needs
  a ledger that answers three questions: how much does an account hold, how
  much of that is locked for staking, and can N tokens move from A to B.
  This package is that ledger, built the same way the rest of the engine
  stores history: an append-only transaction log that is replayed on read.

KEY CONCEPTS IN THIS FILE (types.go):
  - Address: an account identifier (beneficiary, escrow, treasury, pool)
  - Amount: an integer quantity of base token units (decimal-backed)
  - Transaction: an immutable ledger entry (mint, transfer, lock, unlock)

PRECISION:
  Amounts are whole base units. decimal.Decimal is used for unbounded
  integer arithmetic, so multiplication never overflows and division is
  always an explicit truncation (see Amount.MulDivFloor).

SEE ALSO:
  - ledger.go: balance replay and the transfer/lock primitives
  - store.go: persistence interface
*/
package token

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ADDRESS
// =============================================================================

// Address identifies an account on the ledger.
type Address string

func (a Address) String() string { return string(a) }
func (a Address) IsZero() bool   { return a == "" }

// =============================================================================
// AMOUNT - Whole base units of the token
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

var Zero = Amount{Value: decimal.Zero}

func NewAmount(v int64) Amount {
	return Amount{Value: decimal.NewFromInt(v)}
}

// ParseAmount parses a base-10 integer string. Fractions and negative
// values are rejected.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{Value: d}, nil
}

// MustParseAmount is ParseAmount for literals in tests and presets.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) String() string            { return a.Value.String() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MulDivFloor returns floor(a * num / den) for non-negative operands.
// The product is exact; QuoRem with precision 0 truncates toward zero.
func (a Amount) MulDivFloor(num, den int64) Amount {
	if den == 0 {
		panic("token: MulDivFloor by zero")
	}
	q, _ := a.Value.Mul(decimal.NewFromInt(num)).QuoRem(decimal.NewFromInt(den), 0)
	return Amount{Value: q}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Value.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare numbers too.
		s = string(data)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// TRANSACTION - Atomic change to an account
// =============================================================================

type TransactionID string

type TransactionType string

const (
	TxMint     TransactionType = "mint"     // New supply credited to To (genesis only)
	TxTransfer TransactionType = "transfer" // From -> To
	TxLock     TransactionType = "lock"     // Part of From's balance locked for staking
	TxUnlock   TransactionType = "unlock"   // Previously locked tokens of From released
)

// Transaction is an immutable ledger entry. Lock and unlock entries only
// set From; they never move tokens between accounts.
type Transaction struct {
	ID        TransactionID
	Type      TransactionType
	From      Address
	To        Address
	Amount    Amount
	Reason    string
	CreatedAt time.Time
}

// Touches reports whether the transaction affects the given account.
func (tx Transaction) Touches(addr Address) bool {
	return tx.From == addr || tx.To == addr
}
