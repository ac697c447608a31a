/*
handlers.go - HTTP API handlers for the cash desk ledger

PURPOSE:
  Exposes the ledger engine and the history query via REST. Handles
  request parsing, JSON serialization and error-to-status mapping, and
  delegates everything else.

ENDPOINTS:
  Operations:
    POST   /api/v1/cash-operation              Deposit or withdraw

  Balances:
    GET    /api/v1/cash-balance                End-of-day history
           ?cashierId&dateFrom&dateTo&zoneId   (RFC3339 instants)
    GET    /api/v1/cashiers/{id}/balances      Current balance per currency

  Transactions:
    GET    /api/v1/cashiers/{id}/transactions  ?currency&from&to

  Admin:
    GET    /api/v1/admin/audit                 Last audit report
    POST   /api/v1/admin/audit                 Run audit now

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"}:
  - 400: Malformed request, reconciliation failure, bad range
  - 401: Missing or wrong API key (middleware.go)
  - 404: No audit has run yet
  - 409: Insufficient funds
  - 500: Internal inconsistency
  - 503: Storage unavailable

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/history"
	"github.com/warp/cashdesk/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	History *history.Service
	Audit   *ledger.AuditScheduler

	logger *zap.Logger
}

// NewHandler creates a handler. audit may be nil when auditing is disabled.
func NewHandler(engine *ledger.Engine, hist *history.Service, audit *ledger.AuditScheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:  engine,
		History: hist,
		Audit:   audit,
		logger:  logger.With(zap.String("component", "api")),
	}
}

// =============================================================================
// OPERATION ENDPOINTS
// =============================================================================

// CashOperation applies one deposit or withdrawal.
// POST /api/v1/cash-operation
func (h *Handler) CashOperation(w http.ResponseWriter, r *http.Request) {
	var req CashOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	op, err := toOperation(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid operation", err)
		return
	}

	balance, err := h.Engine.Apply(r.Context(), op)
	if err != nil {
		h.fail(w, r, "Operation rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, OperationResponse{
		Message: "Operation successful",
		Balance: toBalanceDTO(op.CashierID, balance),
	})
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

// CashBalance returns one snapshot per day in the requested range.
// GET /api/v1/cash-balance
func (h *Handler) CashBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cashierID := strings.TrimSpace(q.Get("cashierId"))
	if cashierID == "" {
		writeError(w, http.StatusBadRequest, "cashierId is required", nil)
		return
	}
	from, err := parseInstant(q.Get("dateFrom"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dateFrom", err)
		return
	}
	to, err := parseInstant(q.Get("dateTo"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dateTo", err)
		return
	}

	zone := q.Get("zoneId")
	loc, ok := cash.ZoneOrUTC(zone)
	if !ok && zone != "" {
		h.logger.Warn("invalid timezone, defaulting to UTC", zap.String("zone_id", zone))
	}

	h.logger.Info("balance check",
		zap.String("cashier_id", cashierID),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.String("zone", loc.String()),
	)

	report, err := h.History.Query(r.Context(), cashierID, from, to, loc)
	if err != nil {
		h.fail(w, r, "Failed to compute balance history", err)
		return
	}
	writeJSON(w, http.StatusOK, toCashBalanceResponse(report))
}

// CashierBalances returns the current balance of every currency held.
// GET /api/v1/cashiers/{id}/balances
func (h *Handler) CashierBalances(w http.ResponseWriter, r *http.Request) {
	cashierID := chi.URLParam(r, "id")

	balances, err := h.Engine.Balances(r.Context(), cashierID)
	if err != nil {
		h.fail(w, r, "Failed to get balances", err)
		return
	}

	dtos := make([]BalanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, toBalanceDTO(cashierID, b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// CashierTransactions lists log records of one cashier in acceptance order.
// GET /api/v1/cashiers/{id}/transactions
func (h *Handler) CashierTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := cash.Filter{
		CashierID: chi.URLParam(r, "id"),
		Currency:  cash.Currency(strings.ToUpper(q.Get("currency"))),
	}
	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = parseInstant(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from", err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.Until, err = parseInstant(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to", err)
			return
		}
	}

	dtos := []TransactionDTO{}
	for rec, err := range h.Engine.Log().Records(r.Context(), filter) {
		if err != nil {
			h.fail(w, r, "Failed to get transactions", errors.Join(cash.ErrStorageUnavailable, err))
			return
		}
		dtos = append(dtos, toTransactionDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// LastAudit returns the most recent audit report.
// GET /api/v1/admin/audit
func (h *Handler) LastAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "Audit is disabled", nil)
		return
	}
	report, ok := h.Audit.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "No audit has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// RunAudit audits every key now and returns the report.
// POST /api/v1/admin/audit
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	var (
		report ledger.AuditReport
		err    error
	)
	if h.Audit != nil {
		report, err = h.Audit.RunNow(r.Context())
	} else {
		report, err = h.Engine.Audit(r.Context())
	}
	if err != nil {
		h.fail(w, r, "Audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cash.ErrInsufficientFunds):
		return http.StatusConflict
	case cash.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, cash.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, message, err)
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("value is required (RFC3339)")
	}
	return time.Parse(time.RFC3339Nano, s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
