package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) (*sqlite.Store, string) {
	path := filepath.Join(t.TempDir(), "cashdesk.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func deposit(cashier string, cur cash.Currency, at time.Time, denoms cash.DenominationCount) cash.TransactionRecord {
	return cash.TransactionRecord{
		ID:            uuid.NewString(),
		AcceptedAt:    at,
		CashierID:     cashier,
		Kind:          cash.Deposit,
		Currency:      cur,
		Amount:        denoms.Sum(),
		Denominations: denoms,
	}
}

// =============================================================================
// LOG TESTS
// =============================================================================

func TestStore_AppendAndReadBack(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.FixedZone("EET", 2*3600))

	stored, err := store.Append(ctx, deposit("M1", "BGN", at, cash.DenominationCount{50: 2, 10: 2}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.Seq)

	recs, err := cash.Collect(store.Records(ctx, cash.Filter{CashierID: "M1"}))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, stored.ID, got.ID)
	assert.True(t, got.AcceptedAt.Equal(at))
	assert.Equal(t, time.UTC, got.AcceptedAt.Location())
	assert.Equal(t, cash.Deposit, got.Kind)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, cash.DenominationCount{50: 2, 10: 2}, got.Denominations)
}

func TestStore_RecordsFilterByTimeWindow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, deposit("M1", "EUR", t0.Add(time.Duration(i)*time.Hour), cash.DenominationCount{10: 1}))
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, deposit("M2", "EUR", t0.Add(2*time.Hour), cash.DenominationCount{10: 1}))
	require.NoError(t, err)

	recs, err := cash.Collect(store.Records(ctx, cash.Filter{
		CashierID: "M1",
		Currency:  "EUR",
		From:      t0.Add(time.Hour),
		Until:     t0.Add(3 * time.Hour),
	}))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Less(t, recs[0].Seq, recs[1].Seq)
}

func TestStore_RecordsEarlyBreakReleasesCursor(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, deposit("M1", "BGN", time.Now().UTC(), cash.DenominationCount{5: 1}))
		require.NoError(t, err)
	}

	for range store.Records(ctx, cash.Filter{}) {
		break
	}

	// the same store keeps serving writes after an abandoned cursor
	_, err := store.Append(ctx, deposit("M1", "BGN", time.Now().UTC(), cash.DenominationCount{5: 1}))
	require.NoError(t, err)
}

func TestStore_SurvivesReopen(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, deposit("M1", "BGN", time.Now().UTC(), cash.DenominationCount{20: 1}))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := cash.Collect(reopened.Records(ctx, cash.Filter{}))
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	v, err := reopened.FormatVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, sqlite.LogFormatVersion, v)
}

// =============================================================================
// BALANCE INDEX TESTS
// =============================================================================

func TestStore_BalanceGetPut(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := cash.Key{CashierID: "M1", Currency: "BGN"}

	zero, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	b := cash.Balance{Currency: "BGN", Total: decimal.RequireFromString("120.00"), Denominations: cash.DenominationCount{50: 2, 10: 2}}
	require.NoError(t, store.Put(ctx, key, b))
	require.NoError(t, store.Put(ctx, key, b))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(b.Total))
	assert.Equal(t, b.Denominations, got.Denominations)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cash.Key{key}, keys)

	list, err := store.List(ctx, "M1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_CommitWritesBoth(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := deposit("M1", "EUR", time.Now().UTC(), cash.DenominationCount{100: 1})
	bal := cash.ZeroBalance("EUR").Apply(rec)

	stored, err := store.Commit(ctx, rec, bal)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.Seq)

	got, err := store.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)))
}

func TestStore_CommitRollsBackOnDuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := deposit("M1", "EUR", time.Now().UTC(), cash.DenominationCount{100: 1})
	_, err := store.Commit(ctx, rec, cash.ZeroBalance("EUR").Apply(rec))
	require.NoError(t, err)

	// GIVEN: a record whose id already exists in the log
	// WHEN: committing it with a different balance
	// THEN: the append fails and the balance upsert is rolled back
	_, err = store.Commit(ctx, rec, cash.Balance{Currency: "EUR", Total: decimal.NewFromInt(999), Denominations: cash.DenominationCount{1: 999}})
	require.Error(t, err)

	got, err := store.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)))

	recs, err := cash.Collect(store.Records(ctx, cash.Filter{}))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStore_InMemoryDatabase(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Append(ctx, deposit("M1", "BGN", time.Now().UTC(), cash.DenominationCount{1: 3}))
	require.NoError(t, err)

	recs, err := cash.Collect(store.Records(ctx, cash.Filter{}))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
