package balance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/snapshot"
	"github.com/example/ledgersync/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedTx(t *testing.T, st *store.Store, date time.Time, dir book.Direction, account book.Account, amount int64) book.FinancialTransaction {
	t.Helper()
	tx := book.FinancialTransaction{
		ID:             uuid.NewString(),
		Date:           date,
		Direction:      dir,
		Category:       "misc",
		Account:        account,
		ExpectedAmount: decimal.NewFromInt(amount),
		ActualAmount:   decimal.NewFromInt(amount),
		State:          book.LifecycleActive,
		CreatedAt:      date,
	}
	require.NoError(t, st.Queries().CreateFinancial(context.Background(), tx))
	return tx
}

func TestRunningBalance(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := NewCalculator(st)

	jan5 := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	feb3 := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	mar1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	seedTx(t, st, jan5, book.DirectionIn, book.Cash(), 500)
	a := seedTx(t, st, feb1, book.DirectionIn, book.Cash(), 200)
	b := seedTx(t, st, feb3, book.DirectionOut, book.Cash(), 50)
	seedTx(t, st, feb3, book.DirectionIn, book.Bank("bca"), 999)

	lines, err := c.Running(ctx, book.Cash(), feb1, mar1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, a.ID, lines[0].TransactionID)
	assert.True(t, lines[0].Balance.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, b.ID, lines[1].TransactionID)
	assert.True(t, lines[1].Amount.Equal(decimal.NewFromInt(-50)))
	assert.True(t, lines[1].Balance.Equal(decimal.NewFromInt(650)))

	closing, err := c.Closing(ctx, book.Cash(), mar1)
	require.NoError(t, err)
	assert.True(t, closing.Equal(decimal.NewFromInt(650)))

	// Bank movements never leak into the cash balance.
	bank, err := c.Closing(ctx, book.Bank("bca"), mar1)
	require.NoError(t, err)
	assert.True(t, bank.Equal(decimal.NewFromInt(999)))
}

func TestRunningRejectsEmptyRange(t *testing.T) {
	st := openTestStore(t)
	c := NewCalculator(st)

	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.Running(context.Background(), book.Cash(), at, at)
	var ve *book.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestSnapshotAndFullReplayAgree(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := NewCalculator(st)

	for d := 1; d <= 28; d++ {
		date := time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
		seedTx(t, st, date, book.DirectionIn, book.Cash(), int64(10*d))
		if d%3 == 0 {
			seedTx(t, st, date, book.DirectionOut, book.Cash(), 7)
		}
	}
	feb10 := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	seedTx(t, st, feb10, book.DirectionIn, book.Cash(), 42)

	mar1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	replayed, err := c.Closing(ctx, book.Cash(), mar1)
	require.NoError(t, err)

	// Checkpoint February, then recompute through it.
	svc := snapshot.NewService(st, snapshot.NoopCache{}, nil)
	admin := book.Actor{Name: "a", Role: book.RoleAdmin}
	_, err = svc.GetOrCreate(ctx, admin, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	viaSnapshot, err := c.Closing(ctx, book.Cash(), mar1)
	require.NoError(t, err)
	assert.True(t, replayed.Equal(viaSnapshot),
		"full replay %s != snapshot path %s", replayed, viaSnapshot)
}

func TestRecomputingIsDeterministic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := NewCalculator(st)

	// Same date and created_at on purpose: only the id breaks the tie.
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedTx(t, st, date, book.DirectionIn, book.Cash(), int64(i+1))
	}

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	first, err := c.Running(ctx, book.Cash(), from, to)
	require.NoError(t, err)
	second, err := c.Running(ctx, book.Cash(), from, to)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSoftDeleteRestoreRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := NewCalculator(st)

	jan5 := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	seedTx(t, st, jan5, book.DirectionIn, book.Cash(), 500)
	tx := seedTx(t, st, jan5, book.DirectionOut, book.Cash(), 120)

	before, err := c.Closing(ctx, book.Cash(), feb1)
	require.NoError(t, err)

	require.NoError(t, st.Queries().SoftDeleteFinancial(ctx, tx.ID, feb1))
	during, err := c.Closing(ctx, book.Cash(), feb1)
	require.NoError(t, err)
	assert.True(t, during.Equal(decimal.NewFromInt(500)))

	require.NoError(t, st.Queries().RestoreFinancial(ctx, tx.ID))
	after, err := c.Closing(ctx, book.Cash(), feb1)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}
