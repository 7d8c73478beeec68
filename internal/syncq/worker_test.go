package syncq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/remote"
	"github.com/example/ledgersync/internal/store"
	"github.com/example/ledgersync/pkg/audit"
)

var admin = book.Actor{Name: "owner", Role: book.RoleAdmin, DeviceID: "dev-1"}

func newTestWorker(t *testing.T) (*Worker, *store.Store, *remote.MemoryClient) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mc := remote.NewMemoryClient()
	w := NewWorker(st, mc, admin, nil, audit.NewJournal(), Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond})
	return w, st, mc
}

func enqueueCreate(t *testing.T, st *store.Store, table string, rec any, dependsOn ...string) string {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	payload, err := json.Marshal(book.RecordPayload{Table: table, ID: recordID(rec), Record: raw})
	require.NoError(t, err)

	entry := book.SyncEntry{
		ID:        uuid.NewString(),
		DeviceID:  admin.DeviceID,
		Action:    book.ActionCreate,
		Payload:   payload,
		DependsOn: dependsOn,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Queries().Enqueue(context.Background(), entry))
	return entry.ID
}

func recordID(rec any) string {
	switch v := rec.(type) {
	case book.FinancialTransaction:
		return v.ID
	case book.StockTransaction:
		return v.ID
	case book.LedgerTransaction:
		return v.ID
	}
	return ""
}

func testFinancial() book.FinancialTransaction {
	now := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	return book.FinancialTransaction{
		ID: uuid.NewString(), Date: now, Direction: book.DirectionIn,
		Category: "sales", Account: book.Cash(),
		ExpectedAmount: decimal.NewFromInt(100), ActualAmount: decimal.NewFromInt(100),
		CreatedAt: now,
	}
}

func TestPassAppliesInOrder(t *testing.T) {
	w, st, mc := newTestWorker(t)
	ctx := context.Background()
	events := w.Subscribe()

	first := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	second := enqueueCreate(t, st, remote.TableFinancial, testFinancial())

	applied, err := w.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, mc.Count(remote.TableFinancial))

	// Confirmed entries leave the queue.
	depth, err := st.Queries().QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	ev1, ev2 := <-events, <-events
	assert.Equal(t, first, ev1.EntryID)
	assert.Equal(t, EventApplied, ev1.Type)
	assert.Equal(t, second, ev2.EntryID)

	// The journal chains one record per applied entry.
	assert.Len(t, w.journal.Records(), 2)
	assert.True(t, audit.VerifyChain(w.journal.Records()))
}

func TestPassPausesWhileOffline(t *testing.T) {
	w, st, mc := newTestWorker(t)
	ctx := context.Background()

	id := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	mc.SetOffline(true)

	applied, err := w.Pass(ctx)
	require.Error(t, err)
	assert.True(t, book.IsRetryable(err))
	assert.Zero(t, applied)

	// The first entry went back to pending; the second was never touched.
	entry, err := st.Queries().GetQueueEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, book.SyncPending, entry.State)
	assert.Equal(t, 1, entry.Attempts)
	assert.NotEmpty(t, entry.LastError)

	depth, err := st.Queries().QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	// Connectivity returns; replay drains the queue.
	mc.SetOffline(false)
	applied, err = w.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
}

func TestFailedEntryBlocksOnlyDependents(t *testing.T) {
	w, st, mc := newTestWorker(t)
	ctx := context.Background()

	doomed := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	dependent := enqueueCreate(t, st, remote.TableFinancial, testFinancial(), doomed)
	unrelated := enqueueCreate(t, st, remote.TableFinancial, testFinancial())

	mc.FailNext = &book.ValidationError{Field: "category", Reason: "rejected by backend"}

	applied, err := w.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	failed, err := st.Queries().GetQueueEntry(ctx, doomed)
	require.NoError(t, err)
	assert.Equal(t, book.SyncFailed, failed.State)

	// The dependent stays pending behind the failure.
	blocked, err := st.Queries().GetQueueEntry(ctx, dependent)
	require.NoError(t, err)
	assert.Equal(t, book.SyncPending, blocked.State)
	assert.Zero(t, blocked.Attempts)

	// The unrelated entry sailed past.
	_, err = st.Queries().GetQueueEntry(ctx, unrelated)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Subsequent passes keep the dependent parked without retrying it.
	applied, err = w.Pass(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	w, st, mc := newTestWorker(t)
	ctx := context.Background()

	tx := testFinancial()
	enqueueCreate(t, st, remote.TableFinancial, tx)
	_, err := w.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, mc.Count(remote.TableFinancial))

	// The same record delivered again under a new queue entry.
	enqueueCreate(t, st, remote.TableFinancial, tx)
	applied, err := w.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, mc.Count(remote.TableFinancial))
}

func TestDispatchAllocatePayment(t *testing.T) {
	w, st, mc := newTestWorker(t)
	ctx := context.Background()

	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := book.LedgerTransaction{
		ID: uuid.NewString(), Date: jan1, Kind: book.LedgerReceivable,
		Amount: decimal.NewFromInt(1000), PaidAmount: decimal.Zero,
		Status: book.StatusUnpaid, ContactID: "c1", CreatedAt: jan1,
	}
	rec, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, mc.Create(ctx, admin, remote.TableLedger, entry.ID, rec))

	instID := uuid.NewString()
	payload, err := json.Marshal(book.AllocatePaymentPayload{
		ContactID:      "c1",
		Amount:         "400",
		Date:           time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Method:         book.Cash(),
		InstallmentIDs: []string{instID},
	})
	require.NoError(t, err)
	op := book.SyncEntry{
		ID: uuid.NewString(), DeviceID: admin.DeviceID,
		Action: book.ActionAllocatePayment, Payload: payload, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Queries().Enqueue(ctx, op))

	applied, err := w.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, mc.Count(remote.TableInstallments))

	// The remote row carries the id planned in the payload.
	rows, err := mc.Query(ctx, admin, remote.TableInstallments, remote.QueryFilter{
		Equals: map[string]string{"id": instID},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCancelledEntryIsSkipped(t *testing.T) {
	w, st, mc := newTestWorker(t)
	ctx := context.Background()

	victim := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	keeper := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	require.NoError(t, st.Queries().CancelPending(ctx, victim))

	applied, err := w.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, mc.Count(remote.TableFinancial))

	_, err = st.Queries().GetQueueEntry(ctx, keeper)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunResumesOnNotify(t *testing.T) {
	w, st, _ := newTestWorker(t)
	events := w.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	id := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	w.Notify()

	select {
	case ev := <-events:
		assert.Equal(t, id, ev.EntryID)
		assert.Equal(t, EventApplied, ev.Type)
	case <-ctx.Done():
		t.Fatal("no confirmation event before timeout")
	}

	cancel()
	<-done
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 32*time.Second, b.Delay(5))
	assert.Equal(t, time.Minute, b.Delay(6))
	assert.Equal(t, time.Minute, b.Delay(50))
}
