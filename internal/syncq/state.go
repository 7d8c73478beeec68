// Package syncq replays locally queued mutations against the remote
// backend, strictly in enqueue order, with bounded backoff and
// per-entry failure isolation.
package syncq

import (
	"fmt"

	"github.com/example/ledgersync/internal/book"
)

// InvalidStateTransitionError reports an attempt to move a queue entry
// along an edge the state machine does not allow.
type InvalidStateTransitionError struct {
	FromState book.SyncState
	ToState   book.SyncState
	EntryID   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for entry %s", e.FromState, e.ToState, e.EntryID)
}

// AllowedTransitions defines the queue entry state machine.
//
//	Pending → Sending          (picked up by the worker)
//	Sending → Applied          (remote confirmed; entry is dequeued)
//	Sending → Failed           (non-retryable rejection)
//	Sending → Pending          (transient failure; retried later)
func AllowedTransitions() map[book.SyncState][]book.SyncState {
	return map[book.SyncState][]book.SyncState{
		book.SyncPending: {book.SyncSending},
		book.SyncSending: {book.SyncApplied, book.SyncFailed, book.SyncPending},
		book.SyncApplied: {},
		book.SyncFailed:  {},
	}
}

// IsValidTransition checks one edge of the state machine.
func IsValidTransition(from, to book.SyncState) bool {
	for _, allowed := range AllowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
