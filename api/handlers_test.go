/*
handlers_test.go - HTTP tests for the cash desk API

Tests for:
- API key enforcement on every path
- Operation acceptance and error-to-status mapping
- Daily balance history response shape and zone fallback
- Current balances, transaction listing, audit endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/cashdesk/api"
	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/cash/store"
	"github.com/warp/cashdesk/history"
	"github.com/warp/cashdesk/ledger"
)

const testKey = "s3cret"

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t       *testing.T
	handler http.Handler
	engine  *ledger.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := store.NewMemory()
	engine := ledger.New(cash.NewReconciler(cash.MustDefaultTable()), store.NewBalances(8), log)
	hist := history.New(log)
	audit := ledger.NewAuditScheduler(engine, "", zap.NewNop())
	h := api.NewHandler(engine, hist, audit, zap.NewNop())
	return &testServer{
		t:       t,
		handler: api.NewRouter(h, api.RouterConfig{APIKey: testKey}, zap.NewNop()),
		engine:  engine,
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(api.AuthHeader, testKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func operation(cashier, kind, cur, amount string, denoms map[string]int64) map[string]any {
	return map[string]any{
		"cashierId":     cashier,
		"operationType": kind,
		"currency":      cur,
		"amount":        json.RawMessage(amount),
		"denominations": denoms,
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RejectsMissingOrWrongKey(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/healthz", "/api/v1/cash-balance", "/does/not/exist"} {
		for _, key := range []string{"", "wrong"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if key != "" {
				req.Header.Set(api.AuthHeader, key)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %s key %q", path, key)
			resp := decode[api.ErrorResponse](t, rec)
			assert.Equal(t, "Invalid or missing API key", resp.Error)
		}
	}
}

func TestAuth_AcceptsKey(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// CASH OPERATION
// =============================================================================

func TestCashOperation_DepositAndWithdraw(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("MARTINA", "DEPOSIT", "BGN", "120.00", map[string]int64{"50": 2, "10": 2}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.OperationResponse](t, rec)
	assert.Equal(t, "Operation successful", resp.Message)
	assert.Equal(t, "120.00", resp.Balance.Total)
	assert.Equal(t, map[string]int64{"50": 2, "10": 2}, resp.Balance.Denominations)

	rec = s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("MARTINA", "WITHDRAW", "BGN", `"100"`, map[string]int64{"50": 2}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[api.OperationResponse](t, rec)
	assert.Equal(t, "20.00", resp.Balance.Total)
}

func TestCashOperation_StatusMapping(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("M1", "DEPOSIT", "BGN", "120", map[string]int64{"50": 2, "10": 2}))
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"insufficient denominations", operation("M1", "WITHDRAW", "BGN", "100", map[string]int64{"100": 1}), http.StatusConflict},
		{"insufficient total", operation("M1", "WITHDRAW", "EUR", "10", map[string]int64{"10": 1}), http.StatusConflict},
		{"illegal denomination", operation("M1", "DEPOSIT", "BGN", "200", map[string]int64{"200": 1}), http.StatusBadRequest},
		{"unsupported currency", operation("M1", "DEPOSIT", "USD", "10", map[string]int64{"10": 1}), http.StatusBadRequest},
		{"amount mismatch", operation("M1", "DEPOSIT", "BGN", "10.01", map[string]int64{"10": 1}), http.StatusBadRequest},
		{"zero count", operation("M1", "DEPOSIT", "BGN", "10", map[string]int64{"10": 1, "5": 0}), http.StatusBadRequest},
		{"unknown operation", operation("M1", "REFUND", "BGN", "10", map[string]int64{"10": 1}), http.StatusBadRequest},
		{"non-integer key", operation("M1", "DEPOSIT", "BGN", "10", map[string]int64{"ten": 1}), http.StatusBadRequest},
		{"same face value twice", operation("M1", "DEPOSIT", "BGN", "100", map[string]int64{"50": 1, "050": 1}), http.StatusBadRequest},
		{"blank cashier", operation(" ", "DEPOSIT", "BGN", "10", map[string]int64{"10": 1}), http.StatusBadRequest},
		{"malformed json", json.RawMessage(`{"cashierId":`), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if raw, ok := tt.body.(json.RawMessage); ok {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/cash-operation", bytes.NewReader(raw))
				req.Header.Set(api.AuthHeader, testKey)
				rec = httptest.NewRecorder()
				s.handler.ServeHTTP(rec, req)
			} else {
				rec = s.do(http.MethodPost, "/api/v1/cash-operation", tt.body)
			}
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
		})
	}

	// none of the rejections changed the balance
	bal, err := s.engine.Balance(context.Background(), cash.Key{CashierID: "M1", Currency: "BGN"})
	require.NoError(t, err)
	assert.Equal(t, "120", bal.Total.String())
}

// =============================================================================
// CASH BALANCE
// =============================================================================

func TestCashBalance_DailySnapshots(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("M1", "DEPOSIT", "BGN", "120", map[string]int64{"50": 2, "10": 2}))
	require.Equal(t, http.StatusOK, rec.Code)

	now := time.Now().UTC()
	q := url.Values{}
	q.Set("cashierId", "M1")
	q.Set("dateFrom", now.Add(-24*time.Hour).Format(time.RFC3339))
	q.Set("dateTo", now.Format(time.RFC3339))
	q.Set("zoneId", "UTC")

	rec = s.do(http.MethodGet, "/api/v1/cash-balance?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.CashBalanceResponse](t, rec)
	assert.Equal(t, "M1", resp.CashierID)
	assert.Equal(t, "UTC", resp.ZoneID)
	require.Len(t, resp.DailySnapshots, 2)

	yesterday := now.Add(-24 * time.Hour).Format("2006-01-02")
	assert.Equal(t, "0.00", resp.DailySnapshots[yesterday].TotalBalance["BGN"])
	assert.Empty(t, resp.DailySnapshots[yesterday].Denominations["BGN"])

	latest := resp.DailySnapshots[now.Format("2006-01-02")]
	assert.Equal(t, "120.00", latest.TotalBalance["BGN"])
	assert.Equal(t, map[string]int64{"50": 2, "10": 2}, latest.Denominations["BGN"])
}

func TestCashBalance_BadZoneFallsBackToUTC(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/cash-balance?cashierId=M1&dateFrom=2025-01-01T00:00:00Z&dateTo=2025-01-01T00:00:00Z&zoneId=Mars/Olympus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.CashBalanceResponse](t, rec)
	assert.Equal(t, "UTC", resp.ZoneID)
	assert.Empty(t, resp.DailySnapshots)
}

func TestCashBalance_BadRequests(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{
		"dateFrom=2025-01-01T00:00:00Z&dateTo=2025-01-02T00:00:00Z",
		"cashierId=M1&dateFrom=yesterday&dateTo=2025-01-02T00:00:00Z",
		"cashierId=M1&dateFrom=2025-01-01T00:00:00Z",
		"cashierId=M1&dateFrom=2025-01-05T00:00:00Z&dateTo=2025-01-02T00:00:00Z",
	} {
		rec := s.do(http.MethodGet, "/api/v1/cash-balance?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

// =============================================================================
// CASHIER READS AND AUDIT
// =============================================================================

func TestCashierBalancesAndTransactions(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("M1", "DEPOSIT", "BGN", "20", map[string]int64{"20": 1})).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("M1", "DEPOSIT", "EUR", "500", map[string]int64{"500": 1})).Code)

	balances := decode[[]api.BalanceDTO](t, s.do(http.MethodGet, "/api/v1/cashiers/M1/balances", nil))
	require.Len(t, balances, 2)
	assert.Equal(t, "BGN", balances[0].Currency)
	assert.Equal(t, "500.00", balances[1].Total)

	txs := decode[[]api.TransactionDTO](t, s.do(http.MethodGet, "/api/v1/cashiers/M1/transactions?currency=eur", nil))
	require.Len(t, txs, 1)
	assert.Equal(t, "DEPOSIT", txs[0].OperationType)
	assert.Equal(t, uint64(2), txs[0].Seq)

	empty := decode[[]api.TransactionDTO](t, s.do(http.MethodGet, "/api/v1/cashiers/NOBODY/transactions", nil))
	assert.Empty(t, empty)
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/admin/audit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/cash-operation",
		operation("M1", "DEPOSIT", "BGN", "20", map[string]int64{"20": 1})).Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[api.AuditReportDTO](t, rec)
	assert.Equal(t, 1, report.Checked)
	assert.True(t, report.OK)

	rec = s.do(http.MethodGet, "/api/v1/admin/audit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
