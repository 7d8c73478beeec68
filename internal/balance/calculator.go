// Package balance computes running account balances, using monthly
// checkpoints to avoid replaying full history.
package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/store"
)

// Line is one step of a running balance: the transaction and the balance
// after applying it.
type Line struct {
	TransactionID string
	Amount        decimal.Decimal // signed by direction
	Balance       decimal.Decimal
}

// Calculator folds transactions into running balances.
type Calculator struct {
	store *store.Store
}

// NewCalculator creates a calculator over the local store.
func NewCalculator(st *store.Store) *Calculator {
	return &Calculator{store: st}
}

// Opening resolves the account balance just before at: from the nearest
// preceding monthly checkpoint plus the transactions between the
// checkpoint and at, or by full replay when no checkpoint exists.
func (c *Calculator) Opening(ctx context.Context, account book.Account, at time.Time) (decimal.Decimal, error) {
	q := c.store.Queries()

	opening := decimal.Zero
	var sumFrom *time.Time

	// LatestSnapshotBefore is strict, so probe with the following month
	// to admit a checkpoint dated exactly MonthStart(at).
	probe := book.MonthStart(at).AddDate(0, 1, 0)
	snap, err := q.LatestSnapshotBefore(ctx, probe)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("failed to resolve checkpoint: %w", err)
		}
		snap = nil
	}

	if snap != nil {
		opening = accountBalance(snap, account)
		m := snap.Month
		sumFrom = &m
	}

	txs, err := q.ListFinancial(ctx, store.FinancialFilter{
		Account: &account,
		From:    sumFrom,
		To:      &at,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load transactions before range: %w", err)
	}
	for _, tx := range txs {
		opening = opening.Add(tx.Signed())
	}
	return opening, nil
}

// Running returns the running balance over [from, to). Transactions are
// folded in (date, created_at, id) order, so recomputing from the same
// inputs yields identical results.
func (c *Calculator) Running(ctx context.Context, account book.Account, from, to time.Time) ([]Line, error) {
	if !from.Before(to) {
		return nil, &book.ValidationError{Field: "range", Reason: "from must be before to"}
	}

	opening, err := c.Opening(ctx, account, from)
	if err != nil {
		return nil, err
	}

	txs, err := c.store.Queries().ListFinancial(ctx, store.FinancialFilter{
		Account: &account,
		From:    &from,
		To:      &to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions in range: %w", err)
	}

	lines := make([]Line, 0, len(txs))
	balance := opening
	for _, tx := range txs {
		amount := tx.Signed()
		balance = balance.Add(amount)
		lines = append(lines, Line{TransactionID: tx.ID, Amount: amount, Balance: balance})
	}
	return lines, nil
}

// Closing returns the balance after every transaction in [from, to).
func (c *Calculator) Closing(ctx context.Context, account book.Account, at time.Time) (decimal.Decimal, error) {
	return c.Opening(ctx, account, at)
}

func accountBalance(s *book.MonthlySnapshot, account book.Account) decimal.Decimal {
	if account.Kind == book.AccountCash {
		return s.CashBalance
	}
	if b, ok := s.BankBalances[account.BankID]; ok {
		return b
	}
	return decimal.Zero
}
