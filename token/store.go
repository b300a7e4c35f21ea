package token

import "context"

// Store persists ledger transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
type Store interface {
	// AppendTransaction persists a transaction.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// LoadTransactions returns every transaction touching addr, in the
	// order they were appended.
	LoadTransactions(ctx context.Context, addr Address) ([]Transaction, error)

	// Atomic runs fn with exclusive access to the store. Reads and writes
	// made through the Store passed to fn are not interleaved with any other
	// writer. A store that is already an exclusive view calls fn(itself).
	Atomic(ctx context.Context, fn func(Store) error) error
}
