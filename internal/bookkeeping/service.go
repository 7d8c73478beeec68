// Package bookkeeping is the service layer behind the presentation code.
// Every mutation validates input, writes the local store and its sync
// queue entry in one transaction, and wakes the replay worker. Nothing
// here blocks on the network; reconciliation happens asynchronously.
package bookkeeping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/allocate"
	"github.com/example/ledgersync/internal/balance"
	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/costing"
	"github.com/example/ledgersync/internal/remote"
	"github.com/example/ledgersync/internal/snapshot"
	"github.com/example/ledgersync/internal/store"
	"github.com/example/ledgersync/internal/syncq"
)

// Service wires the local store, the snapshot service and the replay
// worker behind the operations the presentation layer calls. Construct
// it with NewService; there are no package-level singletons.
type Service struct {
	store    *store.Store
	snaps    *snapshot.Service
	worker   *syncq.Worker
	balances *balance.Calculator
	logger   *slog.Logger
	oversell costing.OversellPolicy
	now      func() time.Time
}

// NewService assembles the service. worker may be nil when replay runs
// elsewhere; enqueued entries then wait for the next poll.
func NewService(st *store.Store, snaps *snapshot.Service, worker *syncq.Worker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		snaps:    snaps,
		worker:   worker,
		balances: balance.NewCalculator(st),
		logger:   logger,
		oversell: costing.OversellReject,
		now:      time.Now,
	}
}

// Balances exposes the read-only balance calculator.
func (s *Service) Balances() *balance.Calculator { return s.balances }

// Queries exposes read-only access to the local tables.
func (s *Service) Queries() *store.Queries { return s.store.Queries() }

func (s *Service) notify() {
	if s.worker != nil {
		s.worker.Notify()
	}
}

func requireAdmin(actor book.Actor, op string) error {
	if !actor.CanWrite() {
		return &book.AuthorizationError{Role: actor.Role, Operation: op}
	}
	return nil
}

// guardBackdate rejects writes dated before the newest snapshot month.
// Snapshots are immutable truth; a backdated row would silently falsify
// them, so the admin has to regenerate first.
func guardBackdate(ctx context.Context, q *store.Queries, date time.Time) error {
	latest, err := q.LatestSnapshotMonth(ctx)
	if err != nil {
		return err
	}
	if latest.IsZero() || !date.Before(latest) {
		return nil
	}
	return &book.ConflictError{
		Table:  remote.TableSnapshots,
		ID:     latest.Format("2006-01"),
		Reason: "date predates the newest snapshot; regenerate snapshots first",
	}
}

func (s *Service) enqueue(ctx context.Context, q *store.Queries, actor book.Actor,
	action book.SyncAction, payload any, dependsOn ...string) (string, error) {

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode sync payload: %w", err)
	}
	entry := book.SyncEntry{
		ID:        uuid.New().String(),
		DeviceID:  actor.DeviceID,
		Action:    action,
		Payload:   raw,
		State:     book.SyncPending,
		DependsOn: dependsOn,
		CreatedAt: s.now().UTC(),
	}
	if err := q.Enqueue(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func recordPayload(table, id string, rec any) (book.RecordPayload, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return book.RecordPayload{}, fmt.Errorf("failed to encode record: %w", err)
	}
	return book.RecordPayload{Table: table, ID: id, Record: raw}, nil
}

// AddTransaction records a cash or bank movement. ID and CreatedAt are
// filled in when empty; Difference is always recomputed from the amounts.
func (s *Service) AddTransaction(ctx context.Context, actor book.Actor, tx book.FinancialTransaction) (*book.FinancialTransaction, error) {
	if err := requireAdmin(actor, "add transaction"); err != nil {
		return nil, err
	}
	if err := validateFinancial(&tx); err != nil {
		return nil, err
	}
	s.stamp(&tx.ID, &tx.CreatedAt)
	tx.State = book.LifecycleActive
	tx.Difference = tx.ActualAmount.Sub(tx.ExpectedAmount)

	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		if err := guardBackdate(ctx, q, tx.Date); err != nil {
			return err
		}
		if err := q.CreateFinancial(ctx, tx); err != nil {
			return err
		}
		p, err := recordPayload(remote.TableFinancial, tx.ID, tx)
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionCreate, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify()
	return &tx, nil
}

// UpdateTransaction edits a financial transaction in place and replays
// the edit. Derived rows cannot be edited directly: a stock movement or
// transfer owns the amounts of the row it mirrors.
func (s *Service) UpdateTransaction(ctx context.Context, actor book.Actor, tx book.FinancialTransaction) (*book.FinancialTransaction, error) {
	if err := requireAdmin(actor, "update transaction"); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		return nil, &book.ValidationError{Field: "id", Reason: "required"}
	}
	if err := validateFinancial(&tx); err != nil {
		return nil, err
	}

	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		existing, err := q.GetFinancial(ctx, tx.ID)
		if err != nil {
			return err
		}
		if existing.State != book.LifecycleActive {
			return store.ErrNotFound
		}
		if existing.LinkedStockTxID != "" || existing.TransferID != "" {
			return &book.ValidationError{Field: "id", Reason: "derived transactions cannot be edited directly"}
		}
		// Moving a row across a snapshot boundary in either direction
		// falsifies the checkpoint, so both dates are guarded.
		if err := guardBackdate(ctx, q, existing.Date); err != nil {
			return err
		}
		if err := guardBackdate(ctx, q, tx.Date); err != nil {
			return err
		}
		tx.CreatedAt = existing.CreatedAt
		tx.State = existing.State
		tx.Difference = tx.ActualAmount.Sub(tx.ExpectedAmount)
		if err := q.UpdateFinancial(ctx, tx); err != nil {
			return err
		}
		p, err := recordPayload(remote.TableFinancial, tx.ID, tx)
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionUpdate, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify()
	return &tx, nil
}

// AddStockTransaction records a purchase or sale and its derived
// financial transaction in one commit. The money side replays to the
// remote only after the stock side, via an explicit dependency edge.
func (s *Service) AddStockTransaction(ctx context.Context, actor book.Actor, st book.StockTransaction) (*book.StockTransaction, *book.FinancialTransaction, error) {
	if err := requireAdmin(actor, "add stock transaction"); err != nil {
		return nil, nil, err
	}
	if err := validateStock(&st); err != nil {
		return nil, nil, err
	}
	s.stamp(&st.ID, &st.CreatedAt)
	st.State = book.LifecycleActive

	total := st.Weight.Mul(st.PricePerUnit)
	fin := book.FinancialTransaction{
		ID:              uuid.New().String(),
		Date:            st.Date,
		Category:        "stock_" + string(st.Kind),
		Account:         st.PaymentMethod,
		ExpectedAmount:  total,
		ActualAmount:    total,
		ContactID:       st.ContactID,
		LinkedStockTxID: st.ID,
		State:           book.LifecycleActive,
		CreatedAt:       st.CreatedAt,
	}
	if st.Kind == book.StockSale {
		fin.Direction = book.DirectionIn
	} else {
		fin.Direction = book.DirectionOut
	}

	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		if err := guardBackdate(ctx, q, st.Date); err != nil {
			return err
		}
		if st.Kind == book.StockSale {
			if err := s.checkOversell(ctx, q, st); err != nil {
				return err
			}
		}
		if err := q.CreateStock(ctx, st); err != nil {
			return err
		}
		if err := q.CreateFinancial(ctx, fin); err != nil {
			return err
		}

		sp, err := recordPayload(remote.TableStock, st.ID, st)
		if err != nil {
			return err
		}
		stockEntry, err := s.enqueue(ctx, q, actor, book.ActionCreate, sp)
		if err != nil {
			return err
		}
		fp, err := recordPayload(remote.TableFinancial, fin.ID, fin)
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionCreate, fp, stockEntry)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.notify()
	return &st, &fin, nil
}

// checkOversell replays the item's active history plus the new sale with
// the live policy, which rejects sales exceeding the weight on hand.
func (s *Service) checkOversell(ctx context.Context, q *store.Queries, sale book.StockTransaction) error {
	history, err := q.ListStock(ctx, store.StockFilter{ItemName: sale.ItemName})
	if err != nil {
		return err
	}
	engine := costing.NewEngine(s.oversell)
	return engine.ApplyAll(append(history, sale))
}

// RecordPayment applies a payment to the contact's outstanding entries,
// oldest first, locally and optimistically. The queue replays the same
// allocation on the backend, which then owns the canonical result.
func (s *Service) RecordPayment(ctx context.Context, actor book.Actor, contactID string,
	amount decimal.Decimal, date time.Time, method book.Account) (*allocate.Plan, error) {

	if err := requireAdmin(actor, "record payment"); err != nil {
		return nil, err
	}

	var plan *allocate.Plan
	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		if err := guardBackdate(ctx, q, date); err != nil {
			return err
		}
		outstanding, err := q.ListLedger(ctx, store.LedgerFilter{
			ContactID: contactID,
			Kinds:     []book.LedgerKind{book.LedgerPayable, book.LedgerReceivable},
			Statuses:  []book.LedgerStatus{book.StatusUnpaid, book.StatusPartiallyPaid},
		})
		if err != nil {
			return err
		}
		plan, err = allocate.Build(contactID, amount, date, method, outstanding, s.now().UTC())
		if err != nil {
			return err
		}
		if err := allocate.Apply(ctx, q, plan); err != nil {
			return err
		}
		return s.enqueueAllocation(ctx, q, actor, plan)
	})
	if err != nil {
		return nil, err
	}
	s.notify()
	return plan, nil
}

// RecordAdvancePayment books a prepayment as reusable credit without
// touching any outstanding entries.
func (s *Service) RecordAdvancePayment(ctx context.Context, actor book.Actor, contactID string,
	amount decimal.Decimal, date time.Time, method book.Account) (*book.LedgerTransaction, error) {

	if err := requireAdmin(actor, "record advance payment"); err != nil {
		return nil, err
	}

	plan, err := allocate.Build(contactID, amount, date, method, nil, s.now().UTC())
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(q *store.Queries) error {
		if err := guardBackdate(ctx, q, date); err != nil {
			return err
		}
		if err := allocate.Apply(ctx, q, plan); err != nil {
			return err
		}
		p, err := recordPayload(remote.TableLedger, plan.Advance.ID, *plan.Advance)
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionCreate, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify()
	return plan.Advance, nil
}

// enqueueAllocation records the allocation for replay, carrying the ids
// the local plan assigned so the backend persists identical rows.
func (s *Service) enqueueAllocation(ctx context.Context, q *store.Queries, actor book.Actor,
	plan *allocate.Plan) error {

	payload := book.AllocatePaymentPayload{
		ContactID: plan.ContactID,
		Amount:    plan.Amount.String(),
		Date:      plan.Date,
		Method:    plan.Method,
	}
	for _, inst := range plan.Installments {
		payload.InstallmentIDs = append(payload.InstallmentIDs, inst.ID)
	}
	if plan.Advance != nil {
		payload.AdvanceID = plan.Advance.ID
	}
	_, err := s.enqueue(ctx, q, actor, book.ActionAllocatePayment, payload)
	return err
}

// RecordObligation registers a new payable or receivable, first consuming
// any advance credit the contact holds, oldest credit first.
func (s *Service) RecordObligation(ctx context.Context, actor book.Actor, contactID string,
	kind book.LedgerKind, amount decimal.Decimal, date time.Time) (*allocate.ObligationPlan, error) {

	if err := requireAdmin(actor, "record obligation"); err != nil {
		return nil, err
	}
	if contactID == "" {
		return nil, &book.ValidationError{Field: "contact_id", Reason: "required"}
	}

	var plan *allocate.ObligationPlan
	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		if err := guardBackdate(ctx, q, date); err != nil {
			return err
		}
		advances, err := q.ListLedger(ctx, store.LedgerFilter{
			ContactID: contactID,
			Kinds:     []book.LedgerKind{book.LedgerAdvance},
		})
		if err != nil {
			return err
		}
		plan, err = allocate.BuildObligation(contactID, kind, amount, date, advances, s.now().UTC())
		if err != nil {
			return err
		}
		if err := allocate.ApplyObligation(ctx, q, plan); err != nil {
			return err
		}

		for _, adv := range plan.AdvanceUpdates {
			p, err := recordPayload(remote.TableLedger, adv.ID, settlementPatch(adv))
			if err != nil {
				return err
			}
			if _, err := s.enqueue(ctx, q, actor, book.ActionUpdate, p); err != nil {
				return err
			}
		}
		if plan.Entry != nil {
			p, err := recordPayload(remote.TableLedger, plan.Entry.ID, *plan.Entry)
			if err != nil {
				return err
			}
			if _, err := s.enqueue(ctx, q, actor, book.ActionCreate, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify()
	return plan, nil
}

// settlementPatch is the partial record an allocation update replays:
// only what settlement may change.
func settlementPatch(l book.LedgerTransaction) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"amount":      l.Amount,
		"paid_amount": l.PaidAmount,
	}
}

// TransferFunds moves money between two accounts as a paired out/in of
// financial transactions sharing a transfer id. The incoming half replays
// after the outgoing half.
func (s *Service) TransferFunds(ctx context.Context, actor book.Actor, from, to book.Account,
	amount decimal.Decimal, date time.Time) (*book.FinancialTransaction, *book.FinancialTransaction, error) {

	if err := requireAdmin(actor, "transfer funds"); err != nil {
		return nil, nil, err
	}
	if from.Key() == to.Key() {
		return nil, nil, &book.ValidationError{Field: "to", Reason: "transfer accounts must differ"}
	}
	if !amount.IsPositive() {
		return nil, nil, &book.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	now := s.now().UTC()
	transferID := uuid.New().String()
	out := book.FinancialTransaction{
		ID:             uuid.New().String(),
		Date:           date,
		Direction:      book.DirectionOut,
		Category:       "transfer",
		Account:        from,
		ExpectedAmount: amount,
		ActualAmount:   amount,
		TransferID:     transferID,
		State:          book.LifecycleActive,
		CreatedAt:      now,
	}
	in := out
	in.ID = uuid.New().String()
	in.Direction = book.DirectionIn
	in.Account = to

	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		if err := guardBackdate(ctx, q, date); err != nil {
			return err
		}
		if err := q.CreateFinancial(ctx, out); err != nil {
			return err
		}
		if err := q.CreateFinancial(ctx, in); err != nil {
			return err
		}
		op, err := recordPayload(remote.TableFinancial, out.ID, out)
		if err != nil {
			return err
		}
		outEntry, err := s.enqueue(ctx, q, actor, book.ActionCreate, op)
		if err != nil {
			return err
		}
		ip, err := recordPayload(remote.TableFinancial, in.ID, in)
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionCreate, ip, outEntry)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.notify()
	return &out, &in, nil
}

// SoftDeleteTransaction moves one record into the recycle bin. Deleted
// rows drop out of all balance math until restored.
func (s *Service) SoftDeleteTransaction(ctx context.Context, actor book.Actor, table, id string) error {
	if err := requireAdmin(actor, "delete transaction"); err != nil {
		return err
	}
	at := s.now().UTC()
	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		var err error
		switch table {
		case remote.TableFinancial:
			err = q.SoftDeleteFinancial(ctx, id, at)
		case remote.TableStock:
			err = q.SoftDeleteStock(ctx, id, at)
		case remote.TableLedger:
			err = q.SoftDeleteLedger(ctx, id, at)
		default:
			return &book.ValidationError{Field: "table", Reason: "not soft-deletable: " + table}
		}
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionSoftDelete, book.RecordPayload{Table: table, ID: id})
		return err
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// RestoreTransaction brings a soft-deleted record back.
func (s *Service) RestoreTransaction(ctx context.Context, actor book.Actor, table, id string) error {
	if err := requireAdmin(actor, "restore transaction"); err != nil {
		return err
	}
	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		var err error
		switch table {
		case remote.TableFinancial:
			err = q.RestoreFinancial(ctx, id)
		case remote.TableStock:
			err = q.RestoreStock(ctx, id)
		case remote.TableLedger:
			err = q.RestoreLedger(ctx, id)
		default:
			return &book.ValidationError{Field: "table", Reason: "not restorable: " + table}
		}
		if err != nil {
			return err
		}
		_, err = s.enqueue(ctx, q, actor, book.ActionRestore, book.RecordPayload{Table: table, ID: id})
		return err
	})
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// EmptyRecycleBin purges every soft-deleted record, irreversibly.
// Installments cascade with their ledger entry; other links are nulled.
// Returns how many records were purged locally.
func (s *Service) EmptyRecycleBin(ctx context.Context, actor book.Actor) (int, error) {
	if err := requireAdmin(actor, "empty recycle bin"); err != nil {
		return 0, err
	}

	purged := 0
	err := s.store.WithinTx(ctx, func(q *store.Queries) error {
		fins, err := q.ListFinancial(ctx, store.FinancialFilter{View: store.ViewRecycleBin})
		if err != nil {
			return err
		}
		for _, tx := range fins {
			if err := q.PurgeFinancial(ctx, tx.ID); err != nil {
				return err
			}
			if err := s.enqueuePurge(ctx, q, actor, remote.TableFinancial, tx.ID); err != nil {
				return err
			}
			purged++
		}

		stocks, err := q.ListStock(ctx, store.StockFilter{View: store.ViewRecycleBin})
		if err != nil {
			return err
		}
		for _, tx := range stocks {
			if err := q.PurgeStock(ctx, tx.ID); err != nil {
				return err
			}
			if err := s.enqueuePurge(ctx, q, actor, remote.TableStock, tx.ID); err != nil {
				return err
			}
			purged++
		}

		entries, err := q.ListLedger(ctx, store.LedgerFilter{View: store.ViewRecycleBin})
		if err != nil {
			return err
		}
		for _, l := range entries {
			if err := q.PurgeLedger(ctx, l.ID); err != nil {
				return err
			}
			if err := s.enqueuePurge(ctx, q, actor, remote.TableLedger, l.ID); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.notify()
	return purged, nil
}

func (s *Service) enqueuePurge(ctx context.Context, q *store.Queries, actor book.Actor, table, id string) error {
	_, err := s.enqueue(ctx, q, actor, book.ActionPurge, book.RecordPayload{Table: table, ID: id})
	return err
}

// MonthlySnapshot returns the checkpoint for the given month, computing
// and persisting it when missing. Creation is also replayed remotely so
// both sides hold the same checkpoint.
func (s *Service) MonthlySnapshot(ctx context.Context, actor book.Actor, month time.Time) (*book.MonthlySnapshot, error) {
	snap, err := s.snaps.GetOrCreate(ctx, actor, month)
	if err != nil {
		return nil, err
	}
	if actor.CanWrite() {
		err := s.store.WithinTx(ctx, func(q *store.Queries) error {
			_, err := s.enqueue(ctx, q, actor, book.ActionCreateSnapshot, book.SnapshotPayload{Month: snap.Month})
			return err
		})
		if err != nil {
			return nil, err
		}
		s.notify()
	}
	return snap, nil
}

// RegenerateSnapshots drops every checkpoint from the given month on,
// locally and remotely. Admin-only; it is the escape hatch for backdated
// edits into snapshotted months.
func (s *Service) RegenerateSnapshots(ctx context.Context, actor book.Actor, from time.Time) (int64, error) {
	dropped, err := s.snaps.Invalidate(ctx, actor, from)
	if err != nil {
		return 0, err
	}
	err = s.store.WithinTx(ctx, func(q *store.Queries) error {
		_, err := s.enqueue(ctx, q, actor, book.ActionDropSnapshots, book.SnapshotPayload{Month: book.MonthStart(from)})
		return err
	})
	if err != nil {
		return dropped, err
	}
	s.notify()
	return dropped, nil
}

// CancelSync removes a not-yet-sent queue entry. Entries already in
// flight cannot be cancelled; the caller waits for the outcome event.
func (s *Service) CancelSync(ctx context.Context, actor book.Actor, entryID string) error {
	if err := requireAdmin(actor, "cancel sync entry"); err != nil {
		return err
	}
	return s.store.Queries().CancelPending(ctx, entryID)
}

// PendingSync lists the queue entries still awaiting remote confirmation.
func (s *Service) PendingSync(ctx context.Context) ([]book.SyncEntry, error) {
	return s.store.Queries().ListQueue(ctx, book.SyncPending, book.SyncSending, book.SyncFailed)
}

func (s *Service) stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt.IsZero() {
		*createdAt = s.now().UTC()
	}
}

func validateFinancial(tx *book.FinancialTransaction) error {
	if tx.Direction != book.DirectionIn && tx.Direction != book.DirectionOut {
		return &book.ValidationError{Field: "direction", Reason: "must be in or out"}
	}
	if tx.Category == "" {
		return &book.ValidationError{Field: "category", Reason: "required"}
	}
	if tx.Date.IsZero() {
		return &book.ValidationError{Field: "date", Reason: "required"}
	}
	if tx.ActualAmount.IsNegative() || tx.ExpectedAmount.IsNegative() {
		return &book.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if tx.Account.Kind == book.AccountBank && tx.Account.BankID == "" {
		return &book.ValidationError{Field: "account", Reason: "bank account needs a bank id"}
	}
	if tx.Account.Kind != book.AccountCash && tx.Account.Kind != book.AccountBank {
		return &book.ValidationError{Field: "account", Reason: "unknown account kind"}
	}
	return nil
}

func validateStock(tx *book.StockTransaction) error {
	if tx.ItemName == "" {
		return &book.ValidationError{Field: "item_name", Reason: "required"}
	}
	if tx.Kind != book.StockPurchase && tx.Kind != book.StockSale {
		return &book.ValidationError{Field: "kind", Reason: "must be purchase or sale"}
	}
	if tx.Date.IsZero() {
		return &book.ValidationError{Field: "date", Reason: "required"}
	}
	if !tx.Weight.IsPositive() {
		return &book.ValidationError{Field: "weight", Reason: "must be positive"}
	}
	if tx.PricePerUnit.IsNegative() {
		return &book.ValidationError{Field: "price_per_unit", Reason: "must not be negative"}
	}
	if tx.PaymentMethod.Kind == book.AccountBank && tx.PaymentMethod.BankID == "" {
		return &book.ValidationError{Field: "payment_method", Reason: "bank account needs a bank id"}
	}
	return nil
}
