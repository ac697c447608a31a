/*
Package cash provides the core types of the cash desk ledger.

PURPOSE:
  This package contains the value types every other package speaks in:
  currencies, denomination counts, cashier operations, the immutable
  transaction record and the running balance of a (cashier, currency)
  pair. It also owns the error taxonomy, the denomination reconciler and
  the storage interfaces implemented by store/sqlite, store/wal and
  cash/store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: a code from the configured denomination table (BGN, EUR)
  - DenominationCount: face value -> number of notes/coins
  - Operation: a deposit or withdrawal as submitted by a cashier
  - TransactionRecord: an accepted operation, stamped and sequenced by the log
  - Balance: current total + denomination vector for one Key

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal, never a float
  2. Immutability: records are never edited; corrections are new operations
  3. Invariant: Balance.Total always equals Balance.Denominations.Sum()

USAGE:
  op, err := cash.NewOperation("M1", cash.Deposit, "BGN",
      decimal.RequireFromString("120.00"), cash.DenominationCount{50: 2, 10: 2})

SEE ALSO:
  - reconcile.go: denomination validation
  - errors.go: error taxonomy
  - log.go / store.go: persistence interfaces
*/
package cash

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

// Currency is an upper-case currency code. The set of legal currencies is
// the key set of the DenominationTable the reconciler was built with.
type Currency string

func (c Currency) String() string { return string(c) }

// =============================================================================
// DENOMINATION COUNT
// =============================================================================

// DenominationCount maps a face value to the number of notes or coins.
type DenominationCount map[int]int64

// Clone returns an independent copy. A nil receiver yields an empty map.
func (d DenominationCount) Clone() DenominationCount {
	out := make(DenominationCount, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keys returns the denominations in ascending order.
func (d DenominationCount) Keys() []int {
	keys := make([]int, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Sum returns the weighted sum Σ denomination×count.
func (d DenominationCount) Sum() decimal.Decimal {
	total := decimal.Zero
	for k, v := range d {
		total = total.Add(decimal.NewFromInt(int64(k)).Mul(decimal.NewFromInt(v)))
	}
	return total
}

// Add returns d + other. Neither operand is modified.
func (d DenominationCount) Add(other DenominationCount) DenominationCount {
	out := d.Clone()
	for k, v := range other {
		out[k] += v
	}
	return out.prune()
}

// Sub returns d - other. If any denomination in other exceeds what d holds,
// the result is nil and missing lists the shortfall per denomination.
func (d DenominationCount) Sub(other DenominationCount) (result, missing DenominationCount) {
	for k, v := range other {
		if have := d[k]; have < v {
			if missing == nil {
				missing = DenominationCount{}
			}
			missing[k] = v - have
		}
	}
	if missing != nil {
		return nil, missing
	}

	out := d.Clone()
	for k, v := range other {
		out[k] -= v
	}
	return out.prune(), nil
}

// Equal reports whether both maps hold the same non-zero counts.
func (d DenominationCount) Equal(other DenominationCount) bool {
	a, b := d.Clone().prune(), other.Clone().prune()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// String renders the counts as "d=c;d=c" in ascending denomination order.
func (d DenominationCount) String() string {
	parts := make([]string, 0, len(d))
	for _, k := range d.Keys() {
		parts = append(parts, fmt.Sprintf("%d=%d", k, d[k]))
	}
	return strings.Join(parts, ";")
}

func (d DenominationCount) prune() DenominationCount {
	for k, v := range d {
		if v == 0 {
			delete(d, k)
		}
	}
	return d
}

// =============================================================================
// OPERATION
// =============================================================================

type OperationKind string

const (
	Deposit  OperationKind = "DEPOSIT"
	Withdraw OperationKind = "WITHDRAW"
)

// ParseOperationKind accepts the kind case-insensitively.
func ParseOperationKind(s string) (OperationKind, error) {
	switch OperationKind(strings.ToUpper(strings.TrimSpace(s))) {
	case Deposit:
		return Deposit, nil
	case Withdraw:
		return Withdraw, nil
	}
	return "", &OperationError{Field: "operationType", Reason: fmt.Sprintf("unknown operation type %q", s)}
}

// Operation is one cashier action. Build it with NewOperation; the engine
// consumes it exactly once.
type Operation struct {
	CashierID     string
	Kind          OperationKind
	Currency      Currency
	Amount        decimal.Decimal
	Denominations DenominationCount
}

// NewOperation validates the request shape and returns an Operation that
// owns its own copy of the denomination map. Currency legality and the
// denomination cross-check are the Reconciler's job.
func NewOperation(cashierID string, kind OperationKind, currency Currency, amount decimal.Decimal, denominations DenominationCount) (Operation, error) {
	switch {
	case strings.TrimSpace(cashierID) == "":
		return Operation{}, &OperationError{Field: "cashierId", Reason: "must not be blank"}
	case kind != Deposit && kind != Withdraw:
		return Operation{}, &OperationError{Field: "operationType", Reason: fmt.Sprintf("unknown operation type %q", kind)}
	case currency == "":
		return Operation{}, &OperationError{Field: "currency", Reason: "must not be blank"}
	case !amount.IsPositive():
		return Operation{}, &OperationError{Field: "amount", Reason: "must be positive"}
	case len(denominations) == 0:
		return Operation{}, &OperationError{Field: "denominations", Reason: "must not be empty"}
	}

	return Operation{
		CashierID:     cashierID,
		Kind:          kind,
		Currency:      currency,
		Amount:        amount,
		Denominations: denominations.Clone(),
	}, nil
}

// Key returns the ledger partition the operation belongs to.
func (o Operation) Key() Key { return Key{CashierID: o.CashierID, Currency: o.Currency} }

// =============================================================================
// KEY
// =============================================================================

// Key identifies one running balance.
type Key struct {
	CashierID string
	Currency  Currency
}

func (k Key) String() string { return k.CashierID + "/" + string(k.Currency) }

// =============================================================================
// TRANSACTION RECORD - Immutable log entry
// =============================================================================

type TransactionRecord struct {
	ID            string
	Seq           uint64 // assigned by the log on append, 1-based
	AcceptedAt    time.Time
	CashierID     string
	Kind          OperationKind
	Currency      Currency
	Amount        decimal.Decimal
	Denominations DenominationCount
}

func (r TransactionRecord) Key() Key { return Key{CashierID: r.CashierID, Currency: r.Currency} }

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	Currency      Currency
	Total         decimal.Decimal
	Denominations DenominationCount
}

func ZeroBalance(currency Currency) Balance {
	return Balance{Currency: currency, Total: decimal.Zero, Denominations: DenominationCount{}}
}

// Clone returns a deep copy.
func (b Balance) Clone() Balance {
	return Balance{Currency: b.Currency, Total: b.Total, Denominations: b.Denominations.Clone()}
}

func (b Balance) IsZero() bool { return b.Total.IsZero() && len(b.Denominations) == 0 }

// Check verifies Total == Σ denominations.
func (b Balance) Check() error {
	if sum := b.Denominations.Sum(); !sum.Equal(b.Total) {
		return fmt.Errorf("total %s disagrees with denomination sum %s", b.Total, sum)
	}
	return nil
}

// Apply replays one accepted record on top of b. It does not re-validate:
// records in the log were validated before they were appended.
func (b Balance) Apply(r TransactionRecord) Balance {
	switch r.Kind {
	case Deposit:
		return Balance{
			Currency:      b.Currency,
			Total:         b.Total.Add(r.Amount),
			Denominations: b.Denominations.Add(r.Denominations),
		}
	case Withdraw:
		next := b.Denominations.Clone()
		for k, v := range r.Denominations {
			next[k] -= v
		}
		return Balance{
			Currency:      b.Currency,
			Total:         b.Total.Sub(r.Amount),
			Denominations: next.prune(),
		}
	}
	return b.Clone()
}
