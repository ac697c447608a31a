/*
reconcile.go - Denomination reconciler

PURPOSE:
  Pure validation of one operation against the configured denomination
  table. No state is read or written.

RULE ORDER (first failure wins):
  1. Currency must be in the table
  2. Every denomination key must be legal, checked in ascending order
  3. Every count must be > 0
  4. Σ denomination×count must equal the declared amount exactly

SEE ALSO:
  - errors.go: the validation errors returned here
  - config/config.go: where the table comes from
*/
package cash

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DENOMINATION TABLE - Legal face values per currency
// =============================================================================

// DenominationTable is the immutable set of legal denominations per
// currency. It is built once at startup and injected into the Reconciler.
type DenominationTable struct {
	legal map[Currency]map[int]struct{}
}

// DefaultDenominations is the table used when configuration provides none.
func DefaultDenominations() map[Currency][]int {
	return map[Currency][]int{
		"BGN": {1, 2, 5, 10, 20, 50, 100},
		"EUR": {1, 2, 5, 10, 20, 50, 100, 200, 500},
	}
}

// NewDenominationTable copies the currency table into an immutable table.
func NewDenominationTable(currencies map[Currency][]int) (*DenominationTable, error) {
	if len(currencies) == 0 {
		return nil, fmt.Errorf("denomination table must define at least one currency")
	}
	legal := make(map[Currency]map[int]struct{}, len(currencies))
	for cur, denoms := range currencies {
		if cur == "" {
			return nil, fmt.Errorf("denomination table has a blank currency code")
		}
		if len(denoms) == 0 {
			return nil, fmt.Errorf("currency %s has no denominations", cur)
		}
		set := make(map[int]struct{}, len(denoms))
		for _, d := range denoms {
			if d <= 0 {
				return nil, fmt.Errorf("currency %s has non-positive denomination %d", cur, d)
			}
			set[d] = struct{}{}
		}
		legal[cur] = set
	}
	return &DenominationTable{legal: legal}, nil
}

// MustDefaultTable returns the built-in BGN/EUR table.
func MustDefaultTable() *DenominationTable {
	t, err := NewDenominationTable(DefaultDenominations())
	if err != nil {
		panic(err)
	}
	return t
}

// Supports reports whether currency is configured.
func (t *DenominationTable) Supports(currency Currency) bool {
	_, ok := t.legal[currency]
	return ok
}

// IsLegal reports whether denomination is a face value of currency.
func (t *DenominationTable) IsLegal(currency Currency, denomination int) bool {
	set, ok := t.legal[currency]
	if !ok {
		return false
	}
	_, ok = set[denomination]
	return ok
}

// Currencies returns the configured currency codes, sorted.
func (t *DenominationTable) Currencies() []Currency {
	out := make([]Currency, 0, len(t.legal))
	for c := range t.legal {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Denominations returns the legal face values of currency, ascending.
func (t *DenominationTable) Denominations(currency Currency) []int {
	set := t.legal[currency]
	out := make([]int, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler cross-checks an operation's denomination breakdown against
// its declared amount. It holds no mutable state.
type Reconciler struct {
	table *DenominationTable
}

func NewReconciler(table *DenominationTable) *Reconciler {
	return &Reconciler{table: table}
}

// Validate checks, in order: the currency is configured, every denomination
// is legal for it, every count is positive, and the weighted sum equals
// amount exactly. Keys are visited in ascending order so the reported
// denomination is deterministic.
func (r *Reconciler) Validate(currency Currency, amount decimal.Decimal, denominations DenominationCount) error {
	if !r.table.Supports(currency) {
		return &UnsupportedCurrencyError{Currency: currency}
	}

	keys := denominations.Keys()
	for _, d := range keys {
		if !r.table.IsLegal(currency, d) {
			return &InvalidDenominationError{Currency: currency, Denomination: d}
		}
	}
	for _, d := range keys {
		if c := denominations[d]; c <= 0 {
			return &NonPositiveCountError{Denomination: d, Count: c}
		}
	}

	if sum := denominations.Sum(); !sum.Equal(amount) {
		return &AmountMismatchError{Declared: amount, Counted: sum}
	}
	return nil
}

// Table exposes the injected denomination table.
func (r *Reconciler) Table() *DenominationTable { return r.table }
