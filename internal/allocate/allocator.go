// Package allocate applies payments to a contact's outstanding ledger
// entries, oldest obligation first, and manages advance-credit balances
// for overpayments.
package allocate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/store"
)

// Allocation is one slice of a payment applied to one ledger entry.
type Allocation struct {
	Entry   book.LedgerTransaction
	Applied decimal.Decimal
}

// Plan is the complete outcome of one allocate call. Either all of it is
// applied or none of it.
type Plan struct {
	ContactID    string
	Amount       decimal.Decimal
	Date         time.Time
	Method       book.Account
	Allocations  []Allocation
	Installments []book.PaymentInstallment
	// Advance is the new reusable credit created when the payment exceeds
	// everything outstanding, nil otherwise.
	Advance *book.LedgerTransaction
}

// Build walks the contact's outstanding entries in (date, created_at, id)
// order and splits amount across them. Entries must already be filtered to
// unpaid/partially_paid payables or receivables for the contact.
func Build(contactID string, amount decimal.Decimal, date time.Time, method book.Account,
	outstanding []book.LedgerTransaction, now time.Time) (*Plan, error) {

	if contactID == "" {
		return nil, &book.ValidationError{Field: "contact_id", Reason: "required"}
	}
	if !amount.IsPositive() {
		return nil, &book.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	entries := make([]book.LedgerTransaction, len(outstanding))
	copy(entries, outstanding)
	book.SortLedger(entries)

	plan := &Plan{
		ContactID: contactID,
		Amount:    amount,
		Date:      date,
		Method:    method,
	}

	remaining := amount
	for _, entry := range entries {
		if remaining.IsZero() {
			break
		}
		if entry.Kind == book.LedgerAdvance || entry.Status == book.StatusPaid {
			continue
		}
		if entry.PaidAmount.GreaterThan(entry.Amount) || entry.PaidAmount.IsNegative() {
			return nil, &book.IntegrityError{
				Invariant: "ledger entry " + entry.ID + " has paid_amount outside [0, amount]",
			}
		}

		due := entry.Outstanding()
		applied := decimal.Min(remaining, due)
		if !applied.IsPositive() {
			continue
		}

		entry.PaidAmount = entry.PaidAmount.Add(applied)
		entry.Status = entry.DeriveStatus()
		remaining = remaining.Sub(applied)

		plan.Allocations = append(plan.Allocations, Allocation{Entry: entry, Applied: applied})
		plan.Installments = append(plan.Installments, book.PaymentInstallment{
			ID:                  uuid.New().String(),
			LedgerTransactionID: entry.ID,
			Amount:              applied,
			Date:                date,
			Method:              method,
			CreatedAt:           now,
		})
	}

	if remaining.IsPositive() {
		adv := book.LedgerTransaction{
			ID:        uuid.New().String(),
			Date:      date,
			Kind:      book.LedgerAdvance,
			Amount:    remaining.Neg(),
			Status:    book.StatusPaid,
			ContactID: contactID,
			State:     book.LifecycleActive,
			CreatedAt: now,
		}
		adv.PaidAmount = adv.Amount
		plan.Advance = &adv
	}

	return plan, nil
}

// AssignIDs replaces the plan's generated ids with ids planned elsewhere,
// installments matched positionally. The backend uses this when replaying
// a client-built plan, so both sides hold the same rows under the same
// keys and later mutations referencing them resolve.
func (p *Plan) AssignIDs(installmentIDs []string, advanceID string) {
	for i := range p.Installments {
		if i < len(installmentIDs) {
			p.Installments[i].ID = installmentIDs[i]
		}
	}
	if p.Advance != nil && advanceID != "" {
		p.Advance.ID = advanceID
	}
}

// Apply writes the plan to the local store. Run it inside a single store
// transaction so a failure partway leaves nothing half-updated.
func Apply(ctx context.Context, q *store.Queries, plan *Plan) error {
	for _, alloc := range plan.Allocations {
		if err := q.UpdateLedgerSettlement(ctx, alloc.Entry); err != nil {
			return err
		}
	}
	for _, inst := range plan.Installments {
		if err := q.CreateInstallment(ctx, inst); err != nil {
			return err
		}
	}
	if plan.Advance != nil {
		if err := q.CreateLedger(ctx, *plan.Advance); err != nil {
			return err
		}
	}
	return nil
}

// ObligationPlan is the outcome of registering a new payable/receivable
// after consuming any existing advance credit.
type ObligationPlan struct {
	// AdvanceUpdates are existing advance rows with credit consumed,
	// oldest first. Fully consumed advances stay as zero-amount rows.
	AdvanceUpdates []book.LedgerTransaction
	// Entry is the remaining obligation, nil when advances covered it all.
	Entry *book.LedgerTransaction
}

// BuildObligation consumes the contact's advance credits, oldest first,
// against a new obligation of the given amount. Only the unconsumed
// remainder becomes a ledger entry.
func BuildObligation(contactID string, kind book.LedgerKind, amount decimal.Decimal,
	date time.Time, advances []book.LedgerTransaction, now time.Time) (*ObligationPlan, error) {

	if kind != book.LedgerPayable && kind != book.LedgerReceivable {
		return nil, &book.ValidationError{Field: "kind", Reason: "must be payable or receivable"}
	}
	if !amount.IsPositive() {
		return nil, &book.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	entries := make([]book.LedgerTransaction, len(advances))
	copy(entries, advances)
	book.SortLedger(entries)

	plan := &ObligationPlan{}
	remaining := amount
	for _, adv := range entries {
		if remaining.IsZero() {
			break
		}
		if adv.Kind != book.LedgerAdvance || !adv.Amount.IsNegative() {
			continue
		}
		credit := adv.Amount.Neg()
		used := decimal.Min(remaining, credit)
		adv.Amount = adv.Amount.Add(used)
		adv.PaidAmount = adv.Amount
		remaining = remaining.Sub(used)
		plan.AdvanceUpdates = append(plan.AdvanceUpdates, adv)
	}

	if remaining.IsPositive() {
		plan.Entry = &book.LedgerTransaction{
			ID:         uuid.New().String(),
			Date:       date,
			Kind:       kind,
			Amount:     remaining,
			PaidAmount: decimal.Zero,
			Status:     book.StatusUnpaid,
			ContactID:  contactID,
			State:      book.LifecycleActive,
			CreatedAt:  now,
		}
	}

	return plan, nil
}

// ApplyObligation writes an obligation plan to the local store, inside
// the caller's transaction.
func ApplyObligation(ctx context.Context, q *store.Queries, plan *ObligationPlan) error {
	for _, adv := range plan.AdvanceUpdates {
		if err := q.UpdateLedgerSettlement(ctx, adv); err != nil {
			return err
		}
	}
	if plan.Entry != nil {
		if err := q.CreateLedger(ctx, *plan.Entry); err != nil {
			return err
		}
	}
	return nil
}
