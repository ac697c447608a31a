/*
store.go - Balance index interfaces

PURPOSE:
  The current balance per (cashier, currency). It is a materialized view
  of the transaction log; ledger.Rebuild can always reconstruct it.

SEE ALSO:
  - log.go: the log this index is derived from
  - ledger/engine.go: the only writer
*/
package cash

import "context"

// =============================================================================
// BALANCE STORE - Current state per Key
// =============================================================================

// BalanceStore holds the current Balance of every Key. Only the ledger
// engine writes to it.
type BalanceStore interface {
	// Get returns the balance for key, or a zero balance if none exists.
	Get(ctx context.Context, key Key) (Balance, error)

	// Put replaces the balance for key.
	Put(ctx context.Context, key Key, balance Balance) error

	// List returns every balance of one cashier, ordered by currency.
	List(ctx context.Context, cashierID string) ([]Balance, error)

	// Keys returns all keys that have a stored balance.
	Keys(ctx context.Context) ([]Key, error)
}

// =============================================================================
// COMMITTER - Atomic balance + log write
// =============================================================================

// Committer is implemented by stores that keep the log and the balance
// index in one database and can write both in a single transaction.
type Committer interface {
	Commit(ctx context.Context, record TransactionRecord, balance Balance) (TransactionRecord, error)
}
