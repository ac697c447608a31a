package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/cash/store"
	"github.com/warp/cashdesk/history"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	t   *testing.T
	log *store.Memory
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, log: store.NewMemory()}
}

func (f *fixture) record(kind cash.OperationKind, cur cash.Currency, at string, denoms cash.DenominationCount) {
	f.t.Helper()
	ts, err := time.Parse(time.RFC3339, at)
	require.NoError(f.t, err)
	_, err = f.log.Append(context.Background(), cash.TransactionRecord{
		ID:            uuid.NewString(),
		AcceptedAt:    ts,
		CashierID:     "M1",
		Kind:          kind,
		Currency:      cur,
		Amount:        denoms.Sum(),
		Denominations: denoms,
	})
	require.NoError(f.t, err)
}

func instant(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestQuery_EndOfDayReplay(t *testing.T) {
	f := newFixture(t)
	f.record(cash.Deposit, "BGN", "2025-03-02T10:00:00Z", cash.DenominationCount{50: 2, 10: 2})
	f.record(cash.Withdraw, "BGN", "2025-03-03T15:00:00Z", cash.DenominationCount{50: 2})

	svc := history.New(f.log)
	report, err := svc.Query(context.Background(), "M1",
		instant(t, "2025-03-01T00:00:00Z"), instant(t, "2025-03-04T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	require.Len(t, report.Days, 4)

	days := report.ByDate()

	// before first activity: zero, but the currency is still reported
	assert.True(t, days["2025-03-01"].Totals["BGN"].IsZero())
	assert.Empty(t, days["2025-03-01"].Denominations["BGN"])

	assert.True(t, days["2025-03-02"].Totals["BGN"].Equal(decimal.NewFromInt(120)))
	assert.Equal(t, cash.DenominationCount{50: 2, 10: 2}, days["2025-03-02"].Denominations["BGN"])

	assert.True(t, days["2025-03-03"].Totals["BGN"].Equal(decimal.NewFromInt(20)))
	assert.True(t, days["2025-03-04"].Totals["BGN"].Equal(decimal.NewFromInt(20)))
}

func TestQuery_TimezoneShiftsDayBoundary(t *testing.T) {
	f := newFixture(t)
	// 22:30 UTC on the 10th is 00:30 on the 11th in Sofia (UTC+2 in January)
	f.record(cash.Deposit, "EUR", "2025-01-10T22:30:00Z", cash.DenominationCount{100: 1})

	sofia, err := cash.ParseZone("Europe/Sofia")
	require.NoError(t, err)
	svc := history.New(f.log)
	from, to := instant(t, "2025-01-10T12:00:00Z"), instant(t, "2025-01-11T12:00:00Z")

	local, err := svc.Query(context.Background(), "M1", from, to, sofia)
	require.NoError(t, err)
	byLocal := local.ByDate()
	assert.True(t, byLocal["2025-01-10"].Totals["EUR"].IsZero())
	assert.True(t, byLocal["2025-01-11"].Totals["EUR"].Equal(decimal.NewFromInt(100)))

	utc, err := svc.Query(context.Background(), "M1", from, to, nil)
	require.NoError(t, err)
	assert.True(t, utc.ByDate()["2025-01-10"].Totals["EUR"].Equal(decimal.NewFromInt(100)))
	assert.Equal(t, time.UTC, utc.Location)
}

func TestQuery_MultipleCurrencies(t *testing.T) {
	f := newFixture(t)
	f.record(cash.Deposit, "BGN", "2025-03-01T09:00:00Z", cash.DenominationCount{20: 1})
	f.record(cash.Deposit, "EUR", "2025-03-02T09:00:00Z", cash.DenominationCount{5: 3})

	report, err := history.New(f.log).Query(context.Background(), "M1",
		instant(t, "2025-03-01T00:00:00Z"), instant(t, "2025-03-02T23:00:00Z"), time.UTC)
	require.NoError(t, err)

	day1 := report.ByDate()["2025-03-01"]
	assert.Len(t, day1.Totals, 2)
	assert.True(t, day1.Totals["EUR"].IsZero())
	assert.True(t, report.ByDate()["2025-03-02"].Totals["EUR"].Equal(decimal.NewFromInt(15)))
}

func TestQuery_UnknownCashierIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.record(cash.Deposit, "BGN", "2025-03-01T09:00:00Z", cash.DenominationCount{20: 1})

	report, err := history.New(f.log).Query(context.Background(), "NOBODY",
		instant(t, "2025-03-01T00:00:00Z"), instant(t, "2025-03-05T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "NOBODY", report.CashierID)
	assert.Empty(t, report.Days)
}

func TestQuery_LaterActivityStillReportsZeroDays(t *testing.T) {
	f := newFixture(t)
	f.record(cash.Deposit, "EUR", "2025-06-01T09:00:00Z", cash.DenominationCount{50: 1})

	report, err := history.New(f.log).Query(context.Background(), "M1",
		instant(t, "2025-03-01T00:00:00Z"), instant(t, "2025-03-02T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	require.Len(t, report.Days, 2)
	for _, d := range report.Days {
		assert.True(t, d.Totals["EUR"].IsZero(), d.Date.String())
	}
}

func TestQuery_SingleInstantIsOneDay(t *testing.T) {
	f := newFixture(t)
	f.record(cash.Deposit, "BGN", "2025-03-01T09:00:00Z", cash.DenominationCount{20: 1})
	at := instant(t, "2025-03-01T18:00:00Z")

	report, err := history.New(f.log).Query(context.Background(), "M1", at, at, time.UTC)
	require.NoError(t, err)
	require.Len(t, report.Days, 1)
	assert.Equal(t, "2025-03-01", report.Days[0].Date.String())
}

func TestQuery_InvalidRanges(t *testing.T) {
	svc := history.New(store.NewMemory(), history.WithMaxDays(7))

	_, err := svc.Query(context.Background(), "M1",
		instant(t, "2025-03-05T00:00:00Z"), instant(t, "2025-03-01T00:00:00Z"), time.UTC)
	require.ErrorIs(t, err, cash.ErrInvalidRange)

	_, err = svc.Query(context.Background(), "M1",
		instant(t, "2025-03-01T00:00:00Z"), instant(t, "2025-03-08T00:00:00Z"), time.UTC)
	require.ErrorIs(t, err, cash.ErrInvalidRange)

	_, err = svc.Query(context.Background(), "M1",
		instant(t, "2025-03-01T00:00:00Z"), instant(t, "2025-03-07T00:00:00Z"), time.UTC)
	require.NoError(t, err)
}
