/*
errors.go - Error taxonomy of the cash ledger

PURPOSE:
  All error types in one place. Callers branch with errors.Is on the
  sentinels; structured errors carry the detail and unwrap to them.

ERROR CATEGORIES:
  1. Validation: UnsupportedCurrency, InvalidDenomination, NonPositiveCount,
     AmountMismatch. Reject one operation, no state change.
  2. Funds: InsufficientFunds. Reject, no state change.
  3. Operational: StorageUnavailable, InternalInconsistency. Reject, surface
     to the operator, never retried by the ledger.
  4. Boundary: InvalidOperation (request shape), InvalidRange (history query).

SEE ALSO:
  - reconcile.go: produces validation errors
  - ledger/engine.go: produces funds and operational errors
*/
package cash

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrInvalidDenomination   = errors.New("invalid denomination")
	ErrNonPositiveCount      = errors.New("denomination count cannot be 0 or less")
	ErrAmountMismatch        = errors.New("denomination total does not match amount")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrStorageUnavailable    = errors.New("storage unavailable")

	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidRange     = errors.New("invalid date range")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type UnsupportedCurrencyError struct {
	Currency Currency
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("unsupported currency: %s", e.Currency)
}

func (e *UnsupportedCurrencyError) Unwrap() error { return ErrUnsupportedCurrency }

type InvalidDenominationError struct {
	Currency     Currency
	Denomination int
}

func (e *InvalidDenominationError) Error() string {
	return fmt.Sprintf("invalid denomination: %d is not legal for %s", e.Denomination, e.Currency)
}

func (e *InvalidDenominationError) Unwrap() error { return ErrInvalidDenomination }

type NonPositiveCountError struct {
	Denomination int
	Count        int64
}

func (e *NonPositiveCountError) Error() string {
	return fmt.Sprintf("denomination count cannot be 0 or less: %d has count %d", e.Denomination, e.Count)
}

func (e *NonPositiveCountError) Unwrap() error { return ErrNonPositiveCount }

type AmountMismatchError struct {
	Declared decimal.Decimal
	Counted  decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("total value of denominations is %s, but the operation amount is %s", e.Counted, e.Declared)
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// InsufficientFundsError explains why a withdrawal was refused. Missing is
// empty when only the aggregate total was short.
type InsufficientFundsError struct {
	Key       Key
	Available decimal.Decimal
	Requested decimal.Decimal
	Missing   DenominationCount
}

func (e *InsufficientFundsError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("insufficient funds for %s: missing denominations %s", e.Key, e.Missing)
	}
	return fmt.Sprintf("insufficient funds for %s: available %s, requested %s", e.Key, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

type InconsistencyError struct {
	Key    Key
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("internal inconsistency for %s: %s", e.Key, e.Reason)
}

func (e *InconsistencyError) Unwrap() error { return ErrInternalInconsistency }

// OperationError reports a malformed request field.
type OperationError struct {
	Field  string
	Reason string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("invalid operation: %s %s", e.Field, e.Reason)
}

func (e *OperationError) Unwrap() error { return ErrInvalidOperation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports a reconciler rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedCurrency) ||
		errors.Is(err, ErrInvalidDenomination) ||
		errors.Is(err, ErrNonPositiveCount) ||
		errors.Is(err, ErrAmountMismatch)
}

// IsClientError returns true if the caller can fix the request and resubmit.
func IsClientError(err error) bool {
	return IsValidation(err) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidRange)
}

// IsOperational returns true for failures that need operator attention.
func IsOperational(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrInternalInconsistency)
}
