/*
log.go - Append-only transaction log

PURPOSE:
  The transaction log is the immutable source of truth for every accepted
  deposit and withdrawal. Current balances are a materialized view of it
  and can always be rebuilt by replaying it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. DURABLE: once Append returns nil the record survives a restart.
  3. ORDERED: Seq is strictly increasing in acceptance order; for one Key
     the log order is the order the engine accepted the operations.

CORRECTIONS:
  A wrong deposit is never edited. The cashier submits a compensating
  withdrawal and both records stay in history.

IMPLEMENTATIONS:
  - cash/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite table
  - store/wal/wal.go: segment write-ahead log

SEE ALSO:
  - store.go: the balance index derived from this log
  - ledger/rebuild.go: replay
*/
package cash

import (
	"context"
	"iter"
	"time"
)

// Filter narrows a log read. Zero fields match everything. From is
// inclusive, Until is exclusive.
type Filter struct {
	CashierID string
	Currency  Currency
	From      time.Time
	Until     time.Time
}

// Match reports whether r passes the filter.
func (f Filter) Match(r TransactionRecord) bool {
	if f.CashierID != "" && r.CashierID != f.CashierID {
		return false
	}
	if f.Currency != "" && r.Currency != f.Currency {
		return false
	}
	if !f.From.IsZero() && r.AcceptedAt.Before(f.From) {
		return false
	}
	if !f.Until.IsZero() && !r.AcceptedAt.Before(f.Until) {
		return false
	}
	return true
}

// TransactionLog is the durable record of accepted operations.
type TransactionLog interface {
	// Append persists record and returns it with Seq assigned.
	// This is the ONLY write operation.
	Append(ctx context.Context, record TransactionRecord) (TransactionRecord, error)

	// Records yields matching records in Seq order. The sequence is lazy
	// and can be ranged over again to restart from the beginning. A
	// non-nil error is yielded at most once and ends the sequence.
	Records(ctx context.Context, filter Filter) iter.Seq2[TransactionRecord, error]
}

// Collect drains a record sequence into a slice.
func Collect(seq iter.Seq2[TransactionRecord, error]) ([]TransactionRecord, error) {
	var out []TransactionRecord
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
