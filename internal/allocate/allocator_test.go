package allocate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/store"
)

var (
	jan1  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan10 = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	jan15 = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
)

func receivable(id string, date time.Time, amount int64) book.LedgerTransaction {
	return book.LedgerTransaction{
		ID:         id,
		Date:       date,
		Kind:       book.LedgerReceivable,
		Amount:     decimal.NewFromInt(amount),
		PaidAmount: decimal.Zero,
		Status:     book.StatusUnpaid,
		ContactID:  "contact-1",
		State:      book.LifecycleActive,
		CreatedAt:  date,
	}
}

func TestBuildFIFO(t *testing.T) {
	a := receivable("a", jan1, 1000)
	b := receivable("b", jan10, 500)

	// Pass them out of order; Build sorts oldest first.
	plan, err := Build("contact-1", decimal.NewFromInt(1200), jan15, book.Cash(),
		[]book.LedgerTransaction{b, a}, jan15)
	require.NoError(t, err)

	require.Len(t, plan.Allocations, 2)
	first, second := plan.Allocations[0], plan.Allocations[1]

	assert.Equal(t, "a", first.Entry.ID)
	assert.True(t, first.Applied.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, book.StatusPaid, first.Entry.Status)

	assert.Equal(t, "b", second.Entry.ID)
	assert.True(t, second.Applied.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, book.StatusPartiallyPaid, second.Entry.Status)
	assert.True(t, second.Entry.Outstanding().Equal(decimal.NewFromInt(300)))

	require.Len(t, plan.Installments, 2)
	assert.True(t, plan.Installments[0].Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, plan.Installments[1].Amount.Equal(decimal.NewFromInt(200)))
	assert.Nil(t, plan.Advance)
}

func TestBuildOverpaymentCreatesAdvance(t *testing.T) {
	a := receivable("a", jan1, 1000)

	plan, err := Build("contact-1", decimal.NewFromInt(1200), jan15, book.Cash(),
		[]book.LedgerTransaction{a}, jan15)
	require.NoError(t, err)

	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, book.StatusPaid, plan.Allocations[0].Entry.Status)

	require.NotNil(t, plan.Advance)
	assert.Equal(t, book.LedgerAdvance, plan.Advance.Kind)
	assert.True(t, plan.Advance.Amount.Equal(decimal.NewFromInt(-200)))
	assert.Equal(t, book.StatusPaid, plan.Advance.Status)
}

func TestBuildSkipsAdvancesAndPaid(t *testing.T) {
	paid := receivable("paid", jan1, 100)
	paid.PaidAmount = paid.Amount
	paid.Status = book.StatusPaid
	adv := book.LedgerTransaction{
		ID: "adv", Date: jan1, Kind: book.LedgerAdvance,
		Amount: decimal.NewFromInt(-50), PaidAmount: decimal.NewFromInt(-50),
		Status: book.StatusPaid, ContactID: "contact-1", CreatedAt: jan1,
	}

	plan, err := Build("contact-1", decimal.NewFromInt(80), jan15, book.Cash(),
		[]book.LedgerTransaction{paid, adv}, jan15)
	require.NoError(t, err)
	assert.Empty(t, plan.Allocations)
	require.NotNil(t, plan.Advance)
	assert.True(t, plan.Advance.Amount.Equal(decimal.NewFromInt(-80)))
}

func TestBuildRejectsCorruptEntry(t *testing.T) {
	bad := receivable("bad", jan1, 100)
	bad.PaidAmount = decimal.NewFromInt(150)
	bad.Status = book.StatusPartiallyPaid

	_, err := Build("contact-1", decimal.NewFromInt(10), jan15, book.Cash(),
		[]book.LedgerTransaction{bad}, jan15)
	var ie *book.IntegrityError
	require.ErrorAs(t, err, &ie)
}

func TestBuildValidation(t *testing.T) {
	var ve *book.ValidationError

	_, err := Build("", decimal.NewFromInt(10), jan15, book.Cash(), nil, jan15)
	require.ErrorAs(t, err, &ve)

	_, err = Build("contact-1", decimal.Zero, jan15, book.Cash(), nil, jan15)
	require.ErrorAs(t, err, &ve)
}

func TestBuildObligationConsumesAdvances(t *testing.T) {
	adv := book.LedgerTransaction{
		ID: "adv", Date: jan1, Kind: book.LedgerAdvance,
		Amount: decimal.NewFromInt(-200), PaidAmount: decimal.NewFromInt(-200),
		Status: book.StatusPaid, ContactID: "contact-1", CreatedAt: jan1,
	}

	plan, err := BuildObligation("contact-1", book.LedgerReceivable,
		decimal.NewFromInt(300), jan15, []book.LedgerTransaction{adv}, jan15)
	require.NoError(t, err)

	require.Len(t, plan.AdvanceUpdates, 1)
	assert.True(t, plan.AdvanceUpdates[0].Amount.IsZero())

	require.NotNil(t, plan.Entry)
	assert.True(t, plan.Entry.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, book.StatusUnpaid, plan.Entry.Status)
}

func TestBuildObligationFullyCovered(t *testing.T) {
	adv := book.LedgerTransaction{
		ID: "adv", Date: jan1, Kind: book.LedgerAdvance,
		Amount: decimal.NewFromInt(-500), PaidAmount: decimal.NewFromInt(-500),
		Status: book.StatusPaid, ContactID: "contact-1", CreatedAt: jan1,
	}

	plan, err := BuildObligation("contact-1", book.LedgerPayable,
		decimal.NewFromInt(300), jan15, []book.LedgerTransaction{adv}, jan15)
	require.NoError(t, err)

	require.Len(t, plan.AdvanceUpdates, 1)
	assert.True(t, plan.AdvanceUpdates[0].Amount.Equal(decimal.NewFromInt(-200)))
	assert.Nil(t, plan.Entry)
}

func TestBuildObligationOldestAdvanceFirst(t *testing.T) {
	older := book.LedgerTransaction{
		ID: "older", Date: jan1, Kind: book.LedgerAdvance,
		Amount: decimal.NewFromInt(-100), PaidAmount: decimal.NewFromInt(-100),
		Status: book.StatusPaid, ContactID: "contact-1", CreatedAt: jan1,
	}
	newer := older
	newer.ID = "newer"
	newer.Date = jan10
	newer.CreatedAt = jan10

	plan, err := BuildObligation("contact-1", book.LedgerReceivable,
		decimal.NewFromInt(120), jan15, []book.LedgerTransaction{newer, older}, jan15)
	require.NoError(t, err)

	require.Len(t, plan.AdvanceUpdates, 2)
	assert.Equal(t, "older", plan.AdvanceUpdates[0].ID)
	assert.True(t, plan.AdvanceUpdates[0].Amount.IsZero())
	assert.Equal(t, "newer", plan.AdvanceUpdates[1].ID)
	assert.True(t, plan.AdvanceUpdates[1].Amount.Equal(decimal.NewFromInt(-80)))
	assert.Nil(t, plan.Entry)
}

func TestApplyRoundTrip(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	q := st.Queries()

	a := receivable(uuid.NewString(), jan1, 1000)
	b := receivable(uuid.NewString(), jan10, 500)
	require.NoError(t, q.CreateLedger(ctx, a))
	require.NoError(t, q.CreateLedger(ctx, b))

	plan, err := Build("contact-1", decimal.NewFromInt(1700), jan15, book.Cash(),
		[]book.LedgerTransaction{a, b}, jan15)
	require.NoError(t, err)

	require.NoError(t, st.WithinTx(ctx, func(q *store.Queries) error {
		return Apply(ctx, q, plan)
	}))

	gotA, err := q.GetLedger(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, book.StatusPaid, gotA.Status)

	insts, err := q.ListInstallments(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.True(t, insts[0].Amount.Equal(decimal.NewFromInt(1000)))

	// Overpayment of 200 landed as an advance row.
	advances, err := q.ListLedger(ctx, store.LedgerFilter{
		ContactID: "contact-1",
		Kinds:     []book.LedgerKind{book.LedgerAdvance},
	})
	require.NoError(t, err)
	require.Len(t, advances, 1)
	assert.True(t, advances[0].Amount.Equal(decimal.NewFromInt(-200)))
}
