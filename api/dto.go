/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the cash desk API. Domain types never leave the package
  directly: amounts are rendered as fixed two-decimal strings and
  denomination keys as strings, the way JSON object keys have to be.

NAMING CONVENTION:
  - *Request: request body / query types from clients
  - *DTO: values embedded in responses
  - *Response: top-level response bodies

TYPES:
  Operations:   CashOperationRequest, OperationResponse, BalanceDTO
  History:      CashBalanceResponse, DailySnapshotDTO
  Transactions: TransactionDTO
  Audit:        AuditReportDTO, MismatchDTO

VALIDATION:
  Shape checks happen in toOperation (and cash.NewOperation); denomination
  rules are the Reconciler's job, not the DTO's.
*/
package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/history"
	"github.com/warp/cashdesk/ledger"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// CashOperationRequest is the body of POST /api/v1/cash-operation.
// Amount accepts a JSON number or a quoted decimal string.
type CashOperationRequest struct {
	CashierID     string           `json:"cashierId"`
	OperationType string           `json:"operationType"`
	Currency      string           `json:"currency"`
	Amount        decimal.Decimal  `json:"amount"`
	Denominations map[string]int64 `json:"denominations"`
}

// OperationResponse acknowledges an accepted operation.
type OperationResponse struct {
	Message string     `json:"message"`
	Balance BalanceDTO `json:"balance"`
}

type BalanceDTO struct {
	CashierID     string           `json:"cashierId"`
	Currency      string           `json:"currency"`
	Total         string           `json:"total"`
	Denominations map[string]int64 `json:"denominations"`
}

func toOperation(req CashOperationRequest) (cash.Operation, error) {
	kind, err := cash.ParseOperationKind(req.OperationType)
	if err != nil {
		return cash.Operation{}, err
	}
	denoms := make(cash.DenominationCount, len(req.Denominations))
	for k, v := range req.Denominations {
		face, err := strconv.Atoi(k)
		if err != nil {
			return cash.Operation{}, &cash.OperationError{Field: "denominations", Reason: "key " + strconv.Quote(k) + " is not an integer"}
		}
		if _, dup := denoms[face]; dup {
			return cash.Operation{}, &cash.OperationError{Field: "denominations", Reason: fmt.Sprintf("denomination %d is given more than once", face)}
		}
		denoms[face] = v
	}
	return cash.NewOperation(req.CashierID, kind, cash.Currency(req.Currency), req.Amount, denoms)
}

func toBalanceDTO(cashierID string, b cash.Balance) BalanceDTO {
	return BalanceDTO{
		CashierID:     cashierID,
		Currency:      string(b.Currency),
		Total:         money(b.Total),
		Denominations: denominationsDTO(b.Denominations),
	}
}

// =============================================================================
// HISTORY
// =============================================================================

// CashBalanceResponse is the body of GET /api/v1/cash-balance.
type CashBalanceResponse struct {
	CashierID      string                      `json:"cashierId"`
	ZoneID         string                      `json:"zoneId"`
	DailySnapshots map[string]DailySnapshotDTO `json:"dailySnapshots"`
}

type DailySnapshotDTO struct {
	TotalBalance  map[string]string           `json:"totalBalance"`
	Denominations map[string]map[string]int64 `json:"denominations"`
}

func toCashBalanceResponse(r history.Report) CashBalanceResponse {
	resp := CashBalanceResponse{
		CashierID:      r.CashierID,
		ZoneID:         r.Location.String(),
		DailySnapshots: make(map[string]DailySnapshotDTO, len(r.Days)),
	}
	for date, snap := range r.ByDate() {
		dto := DailySnapshotDTO{
			TotalBalance:  make(map[string]string, len(snap.Totals)),
			Denominations: make(map[string]map[string]int64, len(snap.Denominations)),
		}
		for cur, total := range snap.Totals {
			dto.TotalBalance[string(cur)] = money(total)
		}
		for cur, d := range snap.Denominations {
			dto.Denominations[string(cur)] = denominationsDTO(d)
		}
		resp.DailySnapshots[date] = dto
	}
	return resp
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID            string           `json:"id"`
	Seq           uint64           `json:"seq"`
	AcceptedAt    time.Time        `json:"acceptedAt"`
	CashierID     string           `json:"cashierId"`
	OperationType string           `json:"operationType"`
	Currency      string           `json:"currency"`
	Amount        string           `json:"amount"`
	Denominations map[string]int64 `json:"denominations"`
}

func toTransactionDTO(r cash.TransactionRecord) TransactionDTO {
	return TransactionDTO{
		ID:            r.ID,
		Seq:           r.Seq,
		AcceptedAt:    r.AcceptedAt,
		CashierID:     r.CashierID,
		OperationType: string(r.Kind),
		Currency:      string(r.Currency),
		Amount:        money(r.Amount),
		Denominations: denominationsDTO(r.Denominations),
	}
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditReportDTO struct {
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Checked    int           `json:"checked"`
	OK         bool          `json:"ok"`
	Mismatches []MismatchDTO `json:"mismatches"`
}

type MismatchDTO struct {
	CashierID string     `json:"cashierId"`
	Currency  string     `json:"currency"`
	Stored    BalanceDTO `json:"stored"`
	Replayed  BalanceDTO `json:"replayed"`
}

func toAuditReportDTO(r ledger.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Checked:    r.Checked,
		OK:         r.OK(),
		Mismatches: make([]MismatchDTO, 0, len(r.Mismatches)),
	}
	for _, m := range r.Mismatches {
		dto.Mismatches = append(dto.Mismatches, MismatchDTO{
			CashierID: m.Key.CashierID,
			Currency:  string(m.Key.Currency),
			Stored:    toBalanceDTO(m.Key.CashierID, m.Stored),
			Replayed:  toBalanceDTO(m.Key.CashierID, m.Replayed),
		})
	}
	return dto
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func denominationsDTO(d cash.DenominationCount) map[string]int64 {
	out := make(map[string]int64, len(d))
	for k, v := range d {
		out[strconv.Itoa(k)] = v
	}
	return out
}
