package snapshot

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/costing"
)

// ComputeFrom folds already-loaded history into a checkpoint for the
// first day of month. Inputs must contain only non-deleted records dated
// strictly before the month start; installments are keyed by ledger entry
// id and may extend past the boundary (they are filtered by date here).
func ComputeFrom(month time.Time,
	fins []book.FinancialTransaction,
	stocks []book.StockTransaction,
	entries []book.LedgerTransaction,
	installments map[string][]book.PaymentInstallment) (*book.MonthlySnapshot, error) {

	month = book.MonthStart(month)
	snap := &book.MonthlySnapshot{
		ID:               uuid.New().String(),
		Month:            month,
		CashBalance:      decimal.Zero,
		BankBalances:     map[string]decimal.Decimal{},
		StockWeights:     map[string]decimal.Decimal{},
		StockValues:      map[string]decimal.Decimal{},
		TotalReceivables: decimal.Zero,
		TotalPayables:    decimal.Zero,
		CreatedAt:        time.Now().UTC(),
	}

	for _, tx := range fins {
		switch tx.Account.Kind {
		case book.AccountCash:
			snap.CashBalance = snap.CashBalance.Add(tx.Signed())
		case book.AccountBank:
			cur := snap.BankBalances[tx.Account.BankID]
			snap.BankBalances[tx.Account.BankID] = cur.Add(tx.Signed())
		}
	}

	// Historical replay never refuses an oversell; the negative weight
	// surfaces in the checkpoint instead.
	engine := costing.NewEngine(costing.OversellAllow)
	if err := engine.ApplyAll(stocks); err != nil {
		return nil, err
	}
	for name, item := range engine.Items() {
		snap.StockWeights[name] = item.TotalWeight
		snap.StockValues[name] = item.TotalValue
	}

	// Outstanding as of the month start: entry amount minus installments
	// recorded before that instant. The entry's live paid_amount cannot
	// be used, it may include later payments.
	for _, entry := range entries {
		if entry.Kind == book.LedgerAdvance {
			continue
		}
		paid := decimal.Zero
		for _, in := range installments[entry.ID] {
			if in.Date.Before(month) {
				paid = paid.Add(in.Amount)
			}
		}
		due := entry.Amount.Sub(paid)
		if !due.IsPositive() {
			continue
		}
		if entry.Kind == book.LedgerReceivable {
			snap.TotalReceivables = snap.TotalReceivables.Add(due)
		} else {
			snap.TotalPayables = snap.TotalPayables.Add(due)
		}
	}

	return snap, nil
}
