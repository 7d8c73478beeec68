package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
)

// InsertSnapshot persists a monthly checkpoint. The snapshot_month unique
// constraint stops duplicate creation races: the loser gets
// ErrSnapshotExists and must re-read the winner's row.
func (q *Queries) InsertSnapshot(ctx context.Context, s book.MonthlySnapshot) error {
	banks, err := encodeDecMap(s.BankBalances)
	if err != nil {
		return err
	}
	weights, err := encodeDecMap(s.StockWeights)
	if err != nil {
		return err
	}
	values, err := encodeDecMap(s.StockValues)
	if err != nil {
		return err
	}

	_, err = q.r.ExecContext(ctx, `
		INSERT INTO monthly_snapshots (
			id, snapshot_month, cash_balance, bank_balances,
			stock_weights, stock_values, total_receivables, total_payables, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, fmtTime(s.Month), s.CashBalance.String(), banks, weights, values,
		s.TotalReceivables.String(), s.TotalPayables.String(), fmtTime(s.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSnapshotExists
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot fetches the checkpoint for an exact month.
func (q *Queries) GetSnapshot(ctx context.Context, month time.Time) (*book.MonthlySnapshot, error) {
	row := q.r.QueryRowContext(ctx, snapshotSelect+` WHERE snapshot_month = ?`,
		fmtTime(book.MonthStart(month)))
	return scanSnapshot(row)
}

// LatestSnapshotBefore fetches the newest checkpoint strictly before the
// given month, or ErrNotFound.
func (q *Queries) LatestSnapshotBefore(ctx context.Context, month time.Time) (*book.MonthlySnapshot, error) {
	row := q.r.QueryRowContext(ctx,
		snapshotSelect+` WHERE snapshot_month < ? ORDER BY snapshot_month DESC LIMIT 1`,
		fmtTime(book.MonthStart(month)))
	return scanSnapshot(row)
}

// LatestSnapshotMonth returns the newest checkpoint month, or the zero
// time if no checkpoint exists.
func (q *Queries) LatestSnapshotMonth(ctx context.Context) (time.Time, error) {
	var s sql.NullString
	err := q.r.QueryRowContext(ctx,
		`SELECT MAX(snapshot_month) FROM monthly_snapshots`).Scan(&s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest snapshot month: %w", err)
	}
	if !s.Valid {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}

// DeleteSnapshotsFrom removes every checkpoint for the given month and
// later. Used only by administrative regeneration.
func (q *Queries) DeleteSnapshotsFrom(ctx context.Context, month time.Time) (int64, error) {
	res, err := q.r.ExecContext(ctx,
		`DELETE FROM monthly_snapshots WHERE snapshot_month >= ?`,
		fmtTime(book.MonthStart(month)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return res.RowsAffected()
}

const snapshotSelect = `
	SELECT id, snapshot_month, cash_balance, bank_balances,
	       stock_weights, stock_values, total_receivables, total_payables, created_at
	FROM monthly_snapshots`

func scanSnapshot(row rowScanner) (*book.MonthlySnapshot, error) {
	var s book.MonthlySnapshot
	var month, cash, banks, weights, values, recv, pay, createdAt string
	err := row.Scan(&s.ID, &month, &cash, &banks, &weights, &values, &recv, &pay, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if s.Month, err = parseTime(month); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.CashBalance, err = parseDec(cash); err != nil {
		return nil, err
	}
	if s.TotalReceivables, err = parseDec(recv); err != nil {
		return nil, err
	}
	if s.TotalPayables, err = parseDec(pay); err != nil {
		return nil, err
	}
	if s.BankBalances, err = decodeDecMap(banks); err != nil {
		return nil, err
	}
	if s.StockWeights, err = decodeDecMap(weights); err != nil {
		return nil, err
	}
	if s.StockValues, err = decodeDecMap(values); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeDecMap(m map[string]decimal.Decimal) (string, error) {
	strs := make(map[string]string, len(m))
	for k, v := range m {
		strs[k] = v.String()
	}
	b, err := json.Marshal(strs)
	if err != nil {
		return "", fmt.Errorf("failed to encode decimal map: %w", err)
	}
	return string(b), nil
}

func decodeDecMap(s string) (map[string]decimal.Decimal, error) {
	var strs map[string]string
	if err := json.Unmarshal([]byte(s), &strs); err != nil {
		return nil, fmt.Errorf("failed to decode decimal map: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(strs))
	for k, v := range strs {
		d, err := parseDec(v)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}
