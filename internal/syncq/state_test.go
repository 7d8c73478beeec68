package syncq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/remote"
)

func TestStateMachineEdges(t *testing.T) {
	valid := []struct{ from, to book.SyncState }{
		{book.SyncPending, book.SyncSending},
		{book.SyncSending, book.SyncApplied},
		{book.SyncSending, book.SyncFailed},
		{book.SyncSending, book.SyncPending},
	}
	for _, tc := range valid {
		assert.True(t, IsValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	invalid := []struct{ from, to book.SyncState }{
		{book.SyncPending, book.SyncApplied},
		{book.SyncPending, book.SyncFailed},
		{book.SyncApplied, book.SyncPending},
		{book.SyncFailed, book.SyncSending},
		{book.SyncFailed, book.SyncPending},
	}
	for _, tc := range invalid {
		assert.False(t, IsValidTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestWorkerRefusesInvalidTransition(t *testing.T) {
	w, st, _ := newTestWorker(t)
	ctx := context.Background()
	q := st.Queries()

	id := enqueueCreate(t, st, remote.TableFinancial, testFinancial())
	entry, err := q.GetQueueEntry(ctx, id)
	require.NoError(t, err)

	// Pending may not jump straight to failed; the guard fires before the
	// store is touched.
	err = w.mark(ctx, q, entry, book.SyncFailed, "boom")
	var tErr *InvalidStateTransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, book.SyncPending, tErr.FromState)
	assert.Equal(t, book.SyncFailed, tErr.ToState)

	got, err := q.GetQueueEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, book.SyncPending, got.State)
	assert.Empty(t, got.LastError)
}

func TestInvalidStateTransitionError(t *testing.T) {
	err := &InvalidStateTransitionError{
		FromState: book.SyncApplied,
		ToState:   book.SyncPending,
		EntryID:   "e1",
	}
	assert.Contains(t, err.Error(), "applied")
	assert.Contains(t, err.Error(), "pending")
	assert.Contains(t, err.Error(), "e1")
}
