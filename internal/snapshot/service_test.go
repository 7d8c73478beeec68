package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/store"
)

var admin = book.Actor{Name: "owner", Role: book.RoleAdmin, DeviceID: "dev-1"}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedHistory(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	q := st.Queries()

	jan := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, q.CreateFinancial(ctx, book.FinancialTransaction{
		ID: uuid.NewString(), Date: jan(3), Direction: book.DirectionIn,
		Category: "sales", Account: book.Cash(),
		ExpectedAmount: decimal.NewFromInt(1000), ActualAmount: decimal.NewFromInt(1000),
		CreatedAt: jan(3),
	}))
	require.NoError(t, q.CreateFinancial(ctx, book.FinancialTransaction{
		ID: uuid.NewString(), Date: jan(5), Direction: book.DirectionOut,
		Category: "rent", Account: book.Bank("bca"),
		ExpectedAmount: decimal.NewFromInt(300), ActualAmount: decimal.NewFromInt(300),
		CreatedAt: jan(5),
	}))

	require.NoError(t, q.CreateStock(ctx, book.StockTransaction{
		ID: uuid.NewString(), Date: jan(2), ItemName: "rice", Kind: book.StockPurchase,
		Weight: decimal.NewFromInt(100), PricePerUnit: decimal.NewFromInt(10),
		PaymentMethod: book.Cash(), CreatedAt: jan(2),
	}))
	require.NoError(t, q.CreateStock(ctx, book.StockTransaction{
		ID: uuid.NewString(), Date: jan(4), ItemName: "rice", Kind: book.StockSale,
		Weight: decimal.NewFromInt(40), PricePerUnit: decimal.NewFromInt(20),
		PaymentMethod: book.Cash(), CreatedAt: jan(4),
	}))

	// 600 receivable, 250 settled in January and another 100 in February.
	// Only the January installment counts toward the Feb checkpoint.
	entry := book.LedgerTransaction{
		ID: uuid.NewString(), Date: jan(6), Kind: book.LedgerReceivable,
		Amount: decimal.NewFromInt(600), PaidAmount: decimal.NewFromInt(350),
		Status: book.StatusPartiallyPaid, ContactID: "c1", CreatedAt: jan(6),
	}
	require.NoError(t, q.CreateLedger(ctx, entry))
	require.NoError(t, q.CreateInstallment(ctx, book.PaymentInstallment{
		ID: uuid.NewString(), LedgerTransactionID: entry.ID,
		Amount: decimal.NewFromInt(250), Date: jan(20), Method: book.Cash(), CreatedAt: jan(20),
	}))
	require.NoError(t, q.CreateInstallment(ctx, book.PaymentInstallment{
		ID: uuid.NewString(), LedgerTransactionID: entry.ID,
		Amount: decimal.NewFromInt(100), Date: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		Method: book.Cash(), CreatedAt: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
	}))
}

func TestGetOrCreateComputesCheckpoint(t *testing.T) {
	st := openTestStore(t)
	seedHistory(t, st)
	svc := NewService(st, NoopCache{}, nil)

	feb := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	snap, err := svc.GetOrCreate(context.Background(), admin, feb)
	require.NoError(t, err)

	// Month is normalized to its first day.
	assert.True(t, snap.Month.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, snap.CashBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, snap.BankBalances["bca"].Equal(decimal.NewFromInt(-300)))
	assert.True(t, snap.StockWeights["rice"].Equal(decimal.NewFromInt(60)))
	assert.True(t, snap.StockValues["rice"].Equal(decimal.NewFromInt(600)))
	assert.True(t, snap.TotalReceivables.Equal(decimal.NewFromInt(350)))
	assert.True(t, snap.TotalPayables.IsZero())

	// Second call is the read fast path and returns the persisted row.
	again, err := svc.GetOrCreate(context.Background(), admin, feb)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, again.ID)
}

func TestViewerCannotCreate(t *testing.T) {
	st := openTestStore(t)
	seedHistory(t, st)
	svc := NewService(st, NoopCache{}, nil)
	ctx := context.Background()

	viewer := book.Actor{Name: "clerk", Role: book.RoleViewer}
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.GetOrCreate(ctx, viewer, feb)
	var ae *book.AuthorizationError
	require.ErrorAs(t, err, &ae)

	// Once an admin created it, the viewer reads it fine.
	_, err = svc.GetOrCreate(ctx, admin, feb)
	require.NoError(t, err)
	snap, err := svc.GetOrCreate(ctx, viewer, feb)
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestLosingCreatorReReadsWinner(t *testing.T) {
	st := openTestStore(t)
	seedHistory(t, st)
	svc := NewService(st, NoopCache{}, nil)
	ctx := context.Background()

	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	// Simulate another device winning the race before our insert lands.
	winner, err := svc.Compute(ctx, feb)
	require.NoError(t, err)
	require.NoError(t, st.Queries().InsertSnapshot(ctx, *winner))

	got, err := svc.GetOrCreate(ctx, admin, feb)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
}

func TestConcurrentCreatorsAgree(t *testing.T) {
	st := openTestStore(t)
	seedHistory(t, st)
	svc := NewService(st, NoopCache{}, nil)

	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	results := make([]*book.MonthlySnapshot, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.GetOrCreate(context.Background(), admin, feb)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, snap := range results[1:] {
		assert.Equal(t, results[0].ID, snap.ID)
	}
}

func TestInvalidate(t *testing.T) {
	st := openTestStore(t)
	seedHistory(t, st)
	svc := NewService(st, NoopCache{}, nil)
	ctx := context.Background()

	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.GetOrCreate(ctx, admin, feb)
	require.NoError(t, err)
	first, err := svc.GetOrCreate(ctx, admin, mar)
	require.NoError(t, err)

	viewer := book.Actor{Name: "clerk", Role: book.RoleViewer}
	_, err = svc.Invalidate(ctx, viewer, feb)
	var ae *book.AuthorizationError
	require.ErrorAs(t, err, &ae)

	n, err := svc.Invalidate(ctx, admin, mar)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// February survives, March is recomputed fresh.
	_, err = st.Queries().GetSnapshot(ctx, feb)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, admin, mar)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
