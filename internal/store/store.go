// Package store implements the embedded local record store. It mirrors the
// remote schema table by table, holds the durable sync queue in the same
// database file, and gives soft-deletable entities a recycle-bin view.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record does not exist or is purged.
	ErrNotFound = errors.New("not found")
	// ErrSnapshotExists is returned when inserting a snapshot for a month
	// that already has one.
	ErrSnapshotExists = errors.New("snapshot already exists for month")
	// ErrNotCancelable is returned when cancelling a queue entry that is
	// no longer pending.
	ErrNotCancelable = errors.New("queue entry is not pending")
)

// View selects which lifecycle states a query sees.
type View int

const (
	// ViewActive excludes soft-deleted records. The default.
	ViewActive View = iota
	// ViewRecycleBin returns only soft-deleted records.
	ViewRecycleBin
	// ViewAll returns active and deleted records.
	ViewAll
)

// timeLayout is fixed width on purpose: timestamps are TEXT columns
// compared lexically in ORDER BY and range predicates, and RFC3339Nano
// trims trailing fractional zeros, which breaks lexical ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store owns the sqlite database holding all local state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local database at path and ensures
// the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	// One writer at a time: the local store runs on a single logical
	// thread per device, and sqlite enforces it anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries exposes the record operations, bound either to the database
// directly or to an open transaction.
type Queries struct {
	r runner
}

// Queries returns auto-committing queries bound to the database.
func (s *Store) Queries() *Queries {
	return &Queries{r: s.db}
}

// WithinTx runs fn inside a single sqlite transaction. It is how a local
// write and its sync-queue entry commit or roll back together.
func (s *Store) WithinTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{r: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseDec(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse stored decimal %q: %w", s, err)
	}
	return d, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS financial_transactions (
	id                 TEXT PRIMARY KEY,
	date               TEXT NOT NULL,
	direction          TEXT NOT NULL,
	category           TEXT NOT NULL,
	account_kind       TEXT NOT NULL,
	bank_id            TEXT NOT NULL DEFAULT '',
	expected_amount    TEXT NOT NULL,
	actual_amount      TEXT NOT NULL,
	contact_id         TEXT NOT NULL DEFAULT '',
	linked_stock_tx_id TEXT NOT NULL DEFAULT '',
	linked_loan_id     TEXT NOT NULL DEFAULT '',
	advance_id         TEXT NOT NULL DEFAULT '',
	transfer_id        TEXT NOT NULL DEFAULT '',
	deleted_at         TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fin_date ON financial_transactions(date, created_at);

CREATE TABLE IF NOT EXISTS stock_transactions (
	id             TEXT PRIMARY KEY,
	date           TEXT NOT NULL,
	item_name      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	weight         TEXT NOT NULL,
	price_per_unit TEXT NOT NULL,
	method_kind    TEXT NOT NULL,
	method_bank_id TEXT NOT NULL DEFAULT '',
	contact_id     TEXT NOT NULL DEFAULT '',
	deleted_at     TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_date ON stock_transactions(date, created_at);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id          TEXT PRIMARY KEY,
	date        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	amount      TEXT NOT NULL,
	paid_amount TEXT NOT NULL,
	status      TEXT NOT NULL,
	contact_id  TEXT NOT NULL,
	deleted_at  TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_contact ON ledger_transactions(contact_id, status);

CREATE TABLE IF NOT EXISTS payment_installments (
	id                    TEXT PRIMARY KEY,
	ledger_transaction_id TEXT NOT NULL,
	amount                TEXT NOT NULL,
	date                  TEXT NOT NULL,
	method_kind           TEXT NOT NULL,
	method_bank_id        TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inst_ledger ON payment_installments(ledger_transaction_id);

CREATE TABLE IF NOT EXISTS monthly_snapshots (
	id                TEXT PRIMARY KEY,
	snapshot_month    TEXT NOT NULL UNIQUE,
	cash_balance      TEXT NOT NULL,
	bank_balances     TEXT NOT NULL,
	stock_weights     TEXT NOT NULL,
	stock_values      TEXT NOT NULL,
	total_receivables TEXT NOT NULL,
	total_payables    TEXT NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	device_id  TEXT NOT NULL,
	action     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	state      TEXT NOT NULL,
	depends_on TEXT NOT NULL DEFAULT '[]',
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS app_state (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	device_id TEXT NOT NULL,
	settings  TEXT NOT NULL DEFAULT '{}'
);
`
