package book

import (
	"encoding/json"
	"time"
)

// SyncState is the replication state of a queued mutation.
type SyncState string

const (
	// SyncPending means the entry has not been sent yet. Pending entries
	// may still be cancelled by the user.
	SyncPending SyncState = "pending"
	// SyncSending means the entry is in flight and can no longer be
	// cancelled.
	SyncSending SyncState = "sending"
	// SyncApplied means the remote confirmed the mutation. Applied
	// entries are removed from the queue.
	SyncApplied SyncState = "applied"
	// SyncFailed means the remote rejected the mutation with a
	// non-retryable error. Failed entries block their causal dependents
	// but not unrelated later entries.
	SyncFailed SyncState = "failed"
)

// SyncAction names the remote operation a queue entry replays.
type SyncAction string

const (
	ActionCreate          SyncAction = "create"
	ActionUpdate          SyncAction = "update"
	ActionSoftDelete      SyncAction = "soft_delete"
	ActionRestore         SyncAction = "restore"
	ActionPurge           SyncAction = "purge"
	ActionAllocatePayment SyncAction = "allocate_payment"
	ActionCreateSnapshot  SyncAction = "create_snapshot"
	ActionDropSnapshots   SyncAction = "drop_snapshots"
)

// SyncEntry is one durable queued mutation. The entry id doubles as the
// remote record's primary key for creates, which is what makes replay
// idempotent: resending an already-applied entry cannot produce a
// duplicate row.
type SyncEntry struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Action    SyncAction      `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	State     SyncState       `json:"state"`
	DependsOn []string        `json:"depends_on,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecordPayload is the payload for plain row mutations.
type RecordPayload struct {
	Table  string          `json:"table"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
}

// AllocatePaymentPayload is the payload for the atomic remote allocation.
// The installment and advance ids are the ones the local plan already
// assigned; the backend persists its rows under the same ids so later
// entries referencing them replay cleanly.
type AllocatePaymentPayload struct {
	ContactID      string    `json:"contact_id"`
	Amount         string    `json:"amount"`
	Date           time.Time `json:"date"`
	Method         Account   `json:"method"`
	InstallmentIDs []string  `json:"installment_ids,omitempty"`
	AdvanceID      string    `json:"advance_id,omitempty"`
}

// SnapshotPayload is the payload for snapshot creation and regeneration.
type SnapshotPayload struct {
	Month time.Time `json:"month"`
}
