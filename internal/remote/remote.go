// Package remote speaks to the shared ledger backend. The backend is the
// single source of truth across devices; everything here is role-scoped
// and keyed by client-generated ids so replays are idempotent.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
)

// Table names shared with the local store.
const (
	TableFinancial    = "financial_transactions"
	TableStock        = "stock_transactions"
	TableLedger       = "ledger_transactions"
	TableInstallments = "payment_installments"
	TableSnapshots    = "monthly_snapshots"
)

// Tables lists every replicated table.
func Tables() []string {
	return []string{TableFinancial, TableStock, TableLedger, TableInstallments, TableSnapshots}
}

// QueryFilter narrows a remote query to records whose fields equal the
// given values.
type QueryFilter struct {
	Equals         map[string]string
	IncludeDeleted bool
}

// AllocationRequest is one payment to allocate. OpID identifies the
// operation for replay deduplication. InstallmentIDs and AdvanceID carry
// the ids the requesting device planned locally, so the backend persists
// the same rows under the same keys.
type AllocationRequest struct {
	OpID           string
	ContactID      string
	Amount         decimal.Decimal
	Date           time.Time
	Method         book.Account
	InstallmentIDs []string
	AdvanceID      string
}

// AllocationResult is what the backend's atomic payment allocation
// reports back: the ledger rows it updated and the installments it
// recorded.
type AllocationResult struct {
	LedgerUpdates []book.LedgerTransaction  `json:"ledger_updates"`
	Installments  []book.PaymentInstallment `json:"installments"`
	// Advance is set when the payment exceeded everything outstanding.
	Advance *book.LedgerTransaction `json:"advance,omitempty"`
}

// Client is the remote ledger backend. Write operations require the
// admin role; a viewer gets an AuthorizationError. Connectivity failures
// surface as NetworkError so the sync queue knows to retry.
type Client interface {
	Create(ctx context.Context, actor book.Actor, table, id string, record json.RawMessage) error
	Update(ctx context.Context, actor book.Actor, table, id string, patch json.RawMessage) error
	SoftDelete(ctx context.Context, actor book.Actor, table, id string, at time.Time) error
	Restore(ctx context.Context, actor book.Actor, table, id string) error
	Purge(ctx context.Context, actor book.Actor, table, id string) error
	Query(ctx context.Context, actor book.Actor, table string, filter QueryFilter) ([]json.RawMessage, error)

	// AllocatePayment applies a payment to the contact's outstanding
	// entries atomically on the backend, FIFO by (date, created_at).
	// Replaying the same OpID returns the first application's result
	// instead of allocating twice.
	AllocatePayment(ctx context.Context, actor book.Actor, req AllocationRequest) (*AllocationResult, error)

	// GetOrCreateSnapshot returns the checkpoint for month, creating it
	// atomically when missing.
	GetOrCreateSnapshot(ctx context.Context, actor book.Actor, month time.Time) (*book.MonthlySnapshot, error)

	// DropSnapshots removes checkpoints for month and later, for
	// administrative regeneration after backdated edits.
	DropSnapshots(ctx context.Context, actor book.Actor, from time.Time) error

	// ExportAll dumps every table; ImportAll replaces every table.
	// Import is best effort per table, there is no cross-table
	// transaction.
	ExportAll(ctx context.Context, actor book.Actor) (map[string][]json.RawMessage, error)
	ImportAll(ctx context.Context, actor book.Actor, payload map[string][]json.RawMessage) error
}
