package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/ledgersync/internal/book"
)

// FinancialFilter narrows a financial transaction query.
type FinancialFilter struct {
	View      View
	Account   *book.Account
	From      *time.Time // inclusive, on date
	To        *time.Time // exclusive, on date
	ContactID string
}

func viewClause(v View) string {
	switch v {
	case ViewRecycleBin:
		return "deleted_at IS NOT NULL"
	case ViewAll:
		return "1=1"
	default:
		return "deleted_at IS NULL"
	}
}

func lifecycleOf(deletedAt sql.NullString) book.Lifecycle {
	if deletedAt.Valid {
		return book.LifecycleDeleted
	}
	return book.LifecycleActive
}

// CreateFinancial inserts a financial transaction.
func (q *Queries) CreateFinancial(ctx context.Context, t book.FinancialTransaction) error {
	_, err := q.r.ExecContext(ctx, `
		INSERT INTO financial_transactions (
			id, date, direction, category, account_kind, bank_id,
			expected_amount, actual_amount, contact_id, linked_stock_tx_id,
			linked_loan_id, advance_id, transfer_id, deleted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, t.ID, fmtTime(t.Date), string(t.Direction), t.Category,
		string(t.Account.Kind), t.Account.BankID,
		t.ExpectedAmount.String(), t.ActualAmount.String(),
		t.ContactID, t.LinkedStockTxID, t.LinkedLoanID, t.AdvanceID, t.TransferID,
		fmtTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert financial transaction: %w", err)
	}
	return nil
}

// UpdateFinancial rewrites the mutable fields of a financial transaction.
func (q *Queries) UpdateFinancial(ctx context.Context, t book.FinancialTransaction) error {
	res, err := q.r.ExecContext(ctx, `
		UPDATE financial_transactions
		SET date = ?, direction = ?, category = ?, account_kind = ?, bank_id = ?,
		    expected_amount = ?, actual_amount = ?, contact_id = ?,
		    linked_stock_tx_id = ?, linked_loan_id = ?, advance_id = ?, transfer_id = ?
		WHERE id = ?
	`, fmtTime(t.Date), string(t.Direction), t.Category,
		string(t.Account.Kind), t.Account.BankID,
		t.ExpectedAmount.String(), t.ActualAmount.String(), t.ContactID,
		t.LinkedStockTxID, t.LinkedLoanID, t.AdvanceID, t.TransferID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update financial transaction: %w", err)
	}
	return requireRow(res)
}

// GetFinancial fetches one financial transaction in any lifecycle state.
func (q *Queries) GetFinancial(ctx context.Context, id string) (*book.FinancialTransaction, error) {
	row := q.r.QueryRowContext(ctx, `
		SELECT id, date, direction, category, account_kind, bank_id,
		       expected_amount, actual_amount, contact_id, linked_stock_tx_id,
		       linked_loan_id, advance_id, transfer_id, deleted_at, created_at
		FROM financial_transactions WHERE id = ?
	`, id)
	t, err := scanFinancial(row)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListFinancial returns matching transactions in chronological order
// (date, created_at, id).
func (q *Queries) ListFinancial(ctx context.Context, f FinancialFilter) ([]book.FinancialTransaction, error) {
	query := `
		SELECT id, date, direction, category, account_kind, bank_id,
		       expected_amount, actual_amount, contact_id, linked_stock_tx_id,
		       linked_loan_id, advance_id, transfer_id, deleted_at, created_at
		FROM financial_transactions WHERE ` + viewClause(f.View)
	var args []any
	if f.Account != nil {
		query += " AND account_kind = ?"
		args = append(args, string(f.Account.Kind))
		if f.Account.Kind == book.AccountBank {
			query += " AND bank_id = ?"
			args = append(args, f.Account.BankID)
		}
	}
	if f.From != nil {
		query += " AND date >= ?"
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		query += " AND date < ?"
		args = append(args, fmtTime(*f.To))
	}
	if f.ContactID != "" {
		query += " AND contact_id = ?"
		args = append(args, f.ContactID)
	}
	query += " ORDER BY date ASC, created_at ASC, id ASC"

	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query financial transactions: %w", err)
	}
	defer rows.Close()

	var out []book.FinancialTransaction
	for rows.Next() {
		t, err := scanFinancial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SoftDeleteFinancial moves a transaction into the recycle bin.
func (q *Queries) SoftDeleteFinancial(ctx context.Context, id string, at time.Time) error {
	res, err := q.r.ExecContext(ctx,
		`UPDATE financial_transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to soft delete financial transaction: %w", err)
	}
	return requireRow(res)
}

// RestoreFinancial clears the deletion marker.
func (q *Queries) RestoreFinancial(ctx context.Context, id string) error {
	res, err := q.r.ExecContext(ctx,
		`UPDATE financial_transactions SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to restore financial transaction: %w", err)
	}
	return requireRow(res)
}

// PurgeFinancial removes a transaction permanently. Links from other
// transactions to it are nulled, not cascaded.
func (q *Queries) PurgeFinancial(ctx context.Context, id string) error {
	if _, err := q.r.ExecContext(ctx,
		`UPDATE financial_transactions SET linked_stock_tx_id = '' WHERE linked_stock_tx_id = ?`, id); err != nil {
		return fmt.Errorf("failed to null links: %w", err)
	}
	res, err := q.r.ExecContext(ctx, `DELETE FROM financial_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge financial transaction: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFinancial(row rowScanner) (*book.FinancialTransaction, error) {
	var t book.FinancialTransaction
	var date, createdAt, expected, actual, direction, accountKind string
	var deletedAt sql.NullString
	err := row.Scan(&t.ID, &date, &direction, &t.Category, &accountKind, &t.Account.BankID,
		&expected, &actual, &t.ContactID, &t.LinkedStockTxID,
		&t.LinkedLoanID, &t.AdvanceID, &t.TransferID, &deletedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan financial transaction: %w", err)
	}
	t.Direction = book.Direction(direction)
	t.Account.Kind = book.AccountKind(accountKind)
	if t.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.ExpectedAmount, err = parseDec(expected); err != nil {
		return nil, err
	}
	if t.ActualAmount, err = parseDec(actual); err != nil {
		return nil, err
	}
	t.Difference = t.ActualAmount.Sub(t.ExpectedAmount)
	t.State = lifecycleOf(deletedAt)
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StockFilter narrows a stock transaction query.
type StockFilter struct {
	View     View
	ItemName string
	From     *time.Time
	To       *time.Time
}

// CreateStock inserts a stock transaction.
func (q *Queries) CreateStock(ctx context.Context, t book.StockTransaction) error {
	_, err := q.r.ExecContext(ctx, `
		INSERT INTO stock_transactions (
			id, date, item_name, kind, weight, price_per_unit,
			method_kind, method_bank_id, contact_id, deleted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, t.ID, fmtTime(t.Date), t.ItemName, string(t.Kind),
		t.Weight.String(), t.PricePerUnit.String(),
		string(t.PaymentMethod.Kind), t.PaymentMethod.BankID,
		t.ContactID, fmtTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert stock transaction: %w", err)
	}
	return nil
}

// GetStock fetches one stock transaction in any lifecycle state.
func (q *Queries) GetStock(ctx context.Context, id string) (*book.StockTransaction, error) {
	row := q.r.QueryRowContext(ctx, `
		SELECT id, date, item_name, kind, weight, price_per_unit,
		       method_kind, method_bank_id, contact_id, deleted_at, created_at
		FROM stock_transactions WHERE id = ?
	`, id)
	return scanStock(row)
}

// ListStock returns matching stock transactions in chronological order.
func (q *Queries) ListStock(ctx context.Context, f StockFilter) ([]book.StockTransaction, error) {
	query := `
		SELECT id, date, item_name, kind, weight, price_per_unit,
		       method_kind, method_bank_id, contact_id, deleted_at, created_at
		FROM stock_transactions WHERE ` + viewClause(f.View)
	var args []any
	if f.ItemName != "" {
		query += " AND item_name = ?"
		args = append(args, f.ItemName)
	}
	if f.From != nil {
		query += " AND date >= ?"
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		query += " AND date < ?"
		args = append(args, fmtTime(*f.To))
	}
	query += " ORDER BY date ASC, created_at ASC, id ASC"

	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock transactions: %w", err)
	}
	defer rows.Close()

	var out []book.StockTransaction
	for rows.Next() {
		t, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SoftDeleteStock moves a stock transaction into the recycle bin.
func (q *Queries) SoftDeleteStock(ctx context.Context, id string, at time.Time) error {
	res, err := q.r.ExecContext(ctx,
		`UPDATE stock_transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to soft delete stock transaction: %w", err)
	}
	return requireRow(res)
}

// RestoreStock clears the deletion marker.
func (q *Queries) RestoreStock(ctx context.Context, id string) error {
	res, err := q.r.ExecContext(ctx,
		`UPDATE stock_transactions SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to restore stock transaction: %w", err)
	}
	return requireRow(res)
}

// PurgeStock removes a stock transaction permanently, nulling links from
// financial transactions.
func (q *Queries) PurgeStock(ctx context.Context, id string) error {
	if _, err := q.r.ExecContext(ctx,
		`UPDATE financial_transactions SET linked_stock_tx_id = '' WHERE linked_stock_tx_id = ?`, id); err != nil {
		return fmt.Errorf("failed to null links: %w", err)
	}
	res, err := q.r.ExecContext(ctx, `DELETE FROM stock_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge stock transaction: %w", err)
	}
	return requireRow(res)
}

func scanStock(row rowScanner) (*book.StockTransaction, error) {
	var t book.StockTransaction
	var date, createdAt, weight, price, kind, methodKind string
	var deletedAt sql.NullString
	err := row.Scan(&t.ID, &date, &t.ItemName, &kind, &weight, &price,
		&methodKind, &t.PaymentMethod.BankID, &t.ContactID, &deletedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan stock transaction: %w", err)
	}
	t.Kind = book.StockKind(kind)
	t.PaymentMethod.Kind = book.AccountKind(methodKind)
	if t.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.Weight, err = parseDec(weight); err != nil {
		return nil, err
	}
	if t.PricePerUnit, err = parseDec(price); err != nil {
		return nil, err
	}
	t.State = lifecycleOf(deletedAt)
	return &t, nil
}

// LedgerFilter narrows a ledger entry query.
type LedgerFilter struct {
	View      View
	ContactID string
	Kinds     []book.LedgerKind
	Statuses  []book.LedgerStatus
	To        *time.Time // exclusive, on date
}

// CreateLedger inserts a ledger entry.
func (q *Queries) CreateLedger(ctx context.Context, l book.LedgerTransaction) error {
	_, err := q.r.ExecContext(ctx, `
		INSERT INTO ledger_transactions (
			id, date, kind, amount, paid_amount, status, contact_id, deleted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, l.ID, fmtTime(l.Date), string(l.Kind), l.Amount.String(), l.PaidAmount.String(),
		string(l.Status), l.ContactID, fmtTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// UpdateLedgerSettlement rewrites amount, paid_amount and status, which is
// everything payment allocation may touch.
func (q *Queries) UpdateLedgerSettlement(ctx context.Context, l book.LedgerTransaction) error {
	res, err := q.r.ExecContext(ctx, `
		UPDATE ledger_transactions SET amount = ?, paid_amount = ?, status = ? WHERE id = ?
	`, l.Amount.String(), l.PaidAmount.String(), string(l.Status), l.ID)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	return requireRow(res)
}

// GetLedger fetches one ledger entry in any lifecycle state.
func (q *Queries) GetLedger(ctx context.Context, id string) (*book.LedgerTransaction, error) {
	row := q.r.QueryRowContext(ctx, `
		SELECT id, date, kind, amount, paid_amount, status, contact_id, deleted_at, created_at
		FROM ledger_transactions WHERE id = ?
	`, id)
	return scanLedger(row)
}

// ListLedger returns matching ledger entries in chronological order,
// oldest obligation first.
func (q *Queries) ListLedger(ctx context.Context, f LedgerFilter) ([]book.LedgerTransaction, error) {
	query := `
		SELECT id, date, kind, amount, paid_amount, status, contact_id, deleted_at, created_at
		FROM ledger_transactions WHERE ` + viewClause(f.View)
	var args []any
	if f.ContactID != "" {
		query += " AND contact_id = ?"
		args = append(args, f.ContactID)
	}
	if len(f.Kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(f.Kinds)) + ")"
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.To != nil {
		query += " AND date < ?"
		args = append(args, fmtTime(*f.To))
	}
	query += " ORDER BY date ASC, created_at ASC, id ASC"

	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []book.LedgerTransaction
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// SoftDeleteLedger moves a ledger entry into the recycle bin.
func (q *Queries) SoftDeleteLedger(ctx context.Context, id string, at time.Time) error {
	res, err := q.r.ExecContext(ctx,
		`UPDATE ledger_transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to soft delete ledger entry: %w", err)
	}
	return requireRow(res)
}

// RestoreLedger clears the deletion marker.
func (q *Queries) RestoreLedger(ctx context.Context, id string) error {
	res, err := q.r.ExecContext(ctx,
		`UPDATE ledger_transactions SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to restore ledger entry: %w", err)
	}
	return requireRow(res)
}

// PurgeLedger removes a ledger entry permanently. Its installments
// cascade with it.
func (q *Queries) PurgeLedger(ctx context.Context, id string) error {
	if _, err := q.r.ExecContext(ctx,
		`DELETE FROM payment_installments WHERE ledger_transaction_id = ?`, id); err != nil {
		return fmt.Errorf("failed to cascade installments: %w", err)
	}
	res, err := q.r.ExecContext(ctx, `DELETE FROM ledger_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge ledger entry: %w", err)
	}
	return requireRow(res)
}

func scanLedger(row rowScanner) (*book.LedgerTransaction, error) {
	var l book.LedgerTransaction
	var date, createdAt, amount, paid, kind, status string
	var deletedAt sql.NullString
	err := row.Scan(&l.ID, &date, &kind, &amount, &paid, &status, &l.ContactID, &deletedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	l.Kind = book.LedgerKind(kind)
	l.Status = book.LedgerStatus(status)
	if l.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.Amount, err = parseDec(amount); err != nil {
		return nil, err
	}
	if l.PaidAmount, err = parseDec(paid); err != nil {
		return nil, err
	}
	l.State = lifecycleOf(deletedAt)
	return &l, nil
}

// CreateInstallment inserts an immutable payment installment.
func (q *Queries) CreateInstallment(ctx context.Context, in book.PaymentInstallment) error {
	_, err := q.r.ExecContext(ctx, `
		INSERT INTO payment_installments (
			id, ledger_transaction_id, amount, date, method_kind, method_bank_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.LedgerTransactionID, in.Amount.String(), fmtTime(in.Date),
		string(in.Method.Kind), in.Method.BankID, fmtTime(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert installment: %w", err)
	}
	return nil
}

// ListInstallments returns a ledger entry's installments in creation order.
func (q *Queries) ListInstallments(ctx context.Context, ledgerID string) ([]book.PaymentInstallment, error) {
	rows, err := q.r.QueryContext(ctx, `
		SELECT id, ledger_transaction_id, amount, date, method_kind, method_bank_id, created_at
		FROM payment_installments WHERE ledger_transaction_id = ?
		ORDER BY created_at ASC, id ASC
	`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []book.PaymentInstallment
	for rows.Next() {
		var in book.PaymentInstallment
		var amount, date, createdAt, methodKind string
		if err := rows.Scan(&in.ID, &in.LedgerTransactionID, &amount, &date,
			&methodKind, &in.Method.BankID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		in.Method.Kind = book.AccountKind(methodKind)
		if in.Amount, err = parseDec(amount); err != nil {
			return nil, err
		}
		if in.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if in.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
