package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Lifecycle is the state of a soft-deletable record.
type Lifecycle string

const (
	// LifecycleActive is the normal state of a record.
	LifecycleActive Lifecycle = "active"
	// LifecycleDeleted means the record sits in the recycle bin and is
	// excluded from all balance math until restored.
	LifecycleDeleted Lifecycle = "deleted"
	// LifecyclePurged means the record was irreversibly removed. Purged
	// records never come back from a query; the state exists so cascade
	// logic can talk about it.
	LifecyclePurged Lifecycle = "purged"
)

// Role scopes what an actor may do against the shared backend.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Actor identifies the user and device performing an operation.
type Actor struct {
	Name     string
	Role     Role
	DeviceID string
}

// CanWrite reports whether the actor may perform mutations.
func (a Actor) CanWrite() bool {
	return a.Role == RoleAdmin
}

// Direction is the direction of money movement for a financial transaction.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// AccountKind selects the cash drawer or a bank account.
type AccountKind string

const (
	AccountCash AccountKind = "cash"
	AccountBank AccountKind = "bank"
)

// Account selects a money account: the single cash drawer, or one bank
// account identified by BankID.
type Account struct {
	Kind   AccountKind `json:"kind"`
	BankID string      `json:"bank_id,omitempty"`
}

// Cash is the cash-drawer account selector.
func Cash() Account { return Account{Kind: AccountCash} }

// Bank selects the bank account with the given id.
func Bank(id string) Account { return Account{Kind: AccountBank, BankID: id} }

func (a Account) Key() string {
	if a.Kind == AccountCash {
		return "cash"
	}
	return "bank:" + a.BankID
}

// FinancialTransaction is a single cash or bank movement.
type FinancialTransaction struct {
	ID              string          `json:"id"`
	Date            time.Time       `json:"date"`
	Direction       Direction       `json:"direction"`
	Category        string          `json:"category"`
	Account         Account         `json:"account"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount"`
	ActualAmount    decimal.Decimal `json:"actual_amount"`
	Difference      decimal.Decimal `json:"difference"`
	ContactID       string          `json:"contact_id,omitempty"`
	LinkedStockTxID string          `json:"linked_stock_tx_id,omitempty"`
	LinkedLoanID    string          `json:"linked_loan_id,omitempty"`
	AdvanceID       string          `json:"advance_id,omitempty"`
	TransferID      string          `json:"transfer_id,omitempty"`
	State           Lifecycle       `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Signed returns the actual amount with the direction applied.
func (t FinancialTransaction) Signed() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.ActualAmount.Neg()
	}
	return t.ActualAmount
}

// StockKind distinguishes purchases from sales.
type StockKind string

const (
	StockPurchase StockKind = "purchase"
	StockSale     StockKind = "sale"
)

// StockTransaction is a purchase or sale of a weighed inventory item.
type StockTransaction struct {
	ID            string          `json:"id"`
	Date          time.Time       `json:"date"`
	ItemName      string          `json:"item_name"`
	Kind          StockKind       `json:"kind"`
	Weight        decimal.Decimal `json:"weight"`
	PricePerUnit  decimal.Decimal `json:"price_per_unit"`
	PaymentMethod Account         `json:"payment_method"`
	ContactID     string          `json:"contact_id,omitempty"`
	State         Lifecycle       `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerKind distinguishes the three kinds of contact ledger entries.
type LedgerKind string

const (
	LedgerPayable    LedgerKind = "payable"
	LedgerReceivable LedgerKind = "receivable"
	// LedgerAdvance stores unused prepayment credit. Amount is always
	// negative (or zero once fully consumed) and status is always paid.
	LedgerAdvance LedgerKind = "advance"
)

// LedgerStatus is the settlement status of a ledger entry.
type LedgerStatus string

const (
	StatusUnpaid        LedgerStatus = "unpaid"
	StatusPartiallyPaid LedgerStatus = "partially_paid"
	StatusPaid          LedgerStatus = "paid"
)

// LedgerTransaction is an obligation (payable/receivable) or an advance
// credit attached to a contact.
type LedgerTransaction struct {
	ID         string          `json:"id"`
	Date       time.Time       `json:"date"`
	Kind       LedgerKind      `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Status     LedgerStatus    `json:"status"`
	ContactID  string          `json:"contact_id"`
	State      Lifecycle       `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Outstanding returns the unsettled portion of the entry.
func (l LedgerTransaction) Outstanding() decimal.Decimal {
	return l.Amount.Sub(l.PaidAmount)
}

// DeriveStatus returns the status implied by amount and paid_amount.
func (l LedgerTransaction) DeriveStatus() LedgerStatus {
	switch {
	case l.Kind == LedgerAdvance:
		return StatusPaid
	case l.PaidAmount.Equal(l.Amount):
		return StatusPaid
	case l.PaidAmount.IsZero():
		return StatusUnpaid
	default:
		return StatusPartiallyPaid
	}
}

// PaymentInstallment records one slice of a payment applied to a ledger
// entry. Installments are immutable once created; the sum of a ledger
// entry's installments equals its paid_amount.
type PaymentInstallment struct {
	ID                  string          `json:"id"`
	LedgerTransactionID string          `json:"ledger_transaction_id"`
	Amount              decimal.Decimal `json:"amount"`
	Date                time.Time       `json:"date"`
	Method              Account         `json:"method"`
	CreatedAt           time.Time       `json:"created_at"`
}

// MonthlySnapshot is an immutable balance checkpoint as of the first day
// of its month. All balance math starting on or after the month trusts it.
type MonthlySnapshot struct {
	ID               string                     `json:"id"`
	Month            time.Time                  `json:"snapshot_month"`
	CashBalance      decimal.Decimal            `json:"cash_balance"`
	BankBalances     map[string]decimal.Decimal `json:"bank_balances"`
	StockWeights     map[string]decimal.Decimal `json:"stock_weights"`
	StockValues      map[string]decimal.Decimal `json:"stock_values"`
	TotalReceivables decimal.Decimal            `json:"total_receivables"`
	TotalPayables    decimal.Decimal            `json:"total_payables"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ChronoLess is the canonical ordering for replaying records: date, then
// created_at, then id. The id tiebreaker keeps the order reproducible when
// two records share the same creation instant.
func ChronoLess(d1, c1 time.Time, id1 string, d2, c2 time.Time, id2 string) bool {
	if !d1.Equal(d2) {
		return d1.Before(d2)
	}
	if !c1.Equal(c2) {
		return c1.Before(c2)
	}
	return id1 < id2
}

// SortFinancial orders financial transactions chronologically in place.
func SortFinancial(txs []FinancialTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		return ChronoLess(txs[i].Date, txs[i].CreatedAt, txs[i].ID, txs[j].Date, txs[j].CreatedAt, txs[j].ID)
	})
}

// SortStock orders stock transactions chronologically in place.
func SortStock(txs []StockTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		return ChronoLess(txs[i].Date, txs[i].CreatedAt, txs[i].ID, txs[j].Date, txs[j].CreatedAt, txs[j].ID)
	})
}

// SortLedger orders ledger entries chronologically in place, oldest
// obligation first.
func SortLedger(entries []LedgerTransaction) {
	sort.Slice(entries, func(i, j int) bool {
		return ChronoLess(entries[i].Date, entries[i].CreatedAt, entries[i].ID, entries[j].Date, entries[j].CreatedAt, entries[j].ID)
	})
}
