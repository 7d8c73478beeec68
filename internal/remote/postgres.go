package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/ledgersync/internal/allocate"
	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/snapshot"
)

// PostgresClient is the production backend client. Every replicated table
// holds (id, record jsonb, deleted_at); the two multi-row operations run
// under SERIALIZABLE isolation with retry on serialization failure.
type PostgresClient struct {
	Pool *pgxpool.Pool
}

// NewPostgresClient creates a backend client over an existing pool.
func NewPostgresClient(pool *pgxpool.Pool) *PostgresClient {
	return &PostgresClient{Pool: pool}
}

// EnsureSchema creates the replicated tables if missing.
func (pc *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, table := range Tables() {
		unique := ""
		if table == TableSnapshots {
			unique = ", snapshot_month TEXT NOT NULL UNIQUE"
		}
		_, err := pc.Pool.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				record JSONB NOT NULL,
				deleted_at TIMESTAMPTZ%s
			)
		`, table, unique))
		if err != nil {
			return classify(fmt.Errorf("failed to ensure table %s: %w", table, err))
		}
	}
	_, err := pc.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_ops (
			id TEXT PRIMARY KEY,
			result JSONB NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return classify(fmt.Errorf("failed to ensure sync_ops: %w", err))
	}
	return nil
}

// Close closes the underlying pool.
func (pc *PostgresClient) Close() {
	pc.Pool.Close()
}

func requireAdmin(actor book.Actor, op string) error {
	if !actor.CanWrite() {
		return &book.AuthorizationError{Role: actor.Role, Operation: op}
	}
	return nil
}

// Create inserts a record under a client-generated id. Re-sending the
// same id is a no-op, never a duplicate row.
func (pc *PostgresClient) Create(ctx context.Context, actor book.Actor, table, id string, record json.RawMessage) error {
	if err := requireAdmin(actor, "create "+table); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	if table == TableSnapshots {
		month := recordMonth(record)
		_, err = pc.Pool.Exec(queryCtx, fmt.Sprintf(
			`INSERT INTO %s (id, record, snapshot_month) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`, table),
			id, record, month)
	} else {
		_, err = pc.Pool.Exec(queryCtx, fmt.Sprintf(
			`INSERT INTO %s (id, record) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, table),
			id, record)
	}
	if err != nil {
		return classify(fmt.Errorf("failed to create record in %s: %w", table, err))
	}
	return nil
}

// Update merges a patch into the stored record.
func (pc *PostgresClient) Update(ctx context.Context, actor book.Actor, table, id string, patch json.RawMessage) error {
	if err := requireAdmin(actor, "update "+table); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
		`UPDATE %s SET record = record || $2::jsonb WHERE id = $1`, table),
		id, patch)
	if err != nil {
		return classify(fmt.Errorf("failed to update record in %s: %w", table, err))
	}
	if tag.RowsAffected() == 0 {
		return &book.ConflictError{Table: table, ID: id, Reason: "record does not exist"}
	}
	return nil
}

// SoftDelete marks a record deleted.
func (pc *PostgresClient) SoftDelete(ctx context.Context, actor book.Actor, table, id string, at time.Time) error {
	if err := requireAdmin(actor, "delete from "+table); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
		`UPDATE %s SET deleted_at = $2, record = jsonb_set(record, '{state}', '"deleted"') WHERE id = $1`, table),
		id, at.UTC())
	if err != nil {
		return classify(fmt.Errorf("failed to soft delete record in %s: %w", table, err))
	}
	if tag.RowsAffected() == 0 {
		return &book.ConflictError{Table: table, ID: id, Reason: "record does not exist"}
	}
	return nil
}

// Restore clears a record's deletion marker.
func (pc *PostgresClient) Restore(ctx context.Context, actor book.Actor, table, id string) error {
	if err := requireAdmin(actor, "restore in "+table); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
		`UPDATE %s SET deleted_at = NULL, record = jsonb_set(record, '{state}', '"active"') WHERE id = $1`, table),
		id)
	if err != nil {
		return classify(fmt.Errorf("failed to restore record in %s: %w", table, err))
	}
	if tag.RowsAffected() == 0 {
		return &book.ConflictError{Table: table, ID: id, Reason: "record does not exist"}
	}
	return nil
}

// Purge removes a record permanently. Already-purged ids succeed, so
// replaying a purge stays idempotent.
func (pc *PostgresClient) Purge(ctx context.Context, actor book.Actor, table, id string) error {
	if err := requireAdmin(actor, "purge from "+table); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if table == TableLedger {
		// Installments cascade with their ledger entry.
		_, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
			`DELETE FROM %s WHERE record->>'ledger_transaction_id' = $1`, TableInstallments), id)
		if err != nil {
			return classify(fmt.Errorf("failed to cascade installments: %w", err))
		}
	}
	_, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return classify(fmt.Errorf("failed to purge record in %s: %w", table, err))
	}
	return nil
}

// Query returns matching records. Both roles may read.
func (pc *PostgresClient) Query(ctx context.Context, actor book.Actor, table string, filter QueryFilter) ([]json.RawMessage, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`SELECT record FROM %s WHERE 1=1`, table)
	var args []any
	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	n := 1
	for key, val := range filter.Equals {
		query += fmt.Sprintf(" AND record->>$%d = $%d", n, n+1)
		args = append(args, key, val)
		n += 2
	}
	query += " ORDER BY record->>'date' ASC, record->>'created_at' ASC, id ASC"

	rows, err := pc.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query %s: %w", table, err))
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var rec json.RawMessage
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllocatePayment settles the contact's outstanding entries FIFO inside
// one SERIALIZABLE transaction, retrying on serialization failure.
// Replaying an already-applied opID returns the recorded result.
func (pc *PostgresClient) AllocatePayment(ctx context.Context, actor book.Actor, req AllocationRequest) (*AllocationResult, error) {
	if err := requireAdmin(actor, "allocate payment"); err != nil {
		return nil, err
	}

	const maxRetries = 3
	var result *AllocationResult
	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		result, err = pc.allocateOnce(ctx, req)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to allocate payment after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return nil, classify(fmt.Errorf("failed to allocate payment: %w", err))
		}
		break
	}
	return result, nil
}

func (pc *PostgresClient) allocateOnce(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pc.Pool.Acquire(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	// Structural idempotency: an applied opID short-circuits with the
	// stored result.
	var prior []byte
	err = tx.QueryRow(queryCtx, `SELECT result FROM sync_ops WHERE id = $1`, req.OpID).Scan(&prior)
	if err == nil {
		var res AllocationResult
		if err := json.Unmarshal(prior, &res); err != nil {
			return nil, fmt.Errorf("failed to decode prior allocation result: %w", err)
		}
		return &res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check applied operations: %w", err)
	}

	rows, err := tx.Query(queryCtx, fmt.Sprintf(`
		SELECT record FROM %s
		WHERE deleted_at IS NULL
		  AND record->>'contact_id' = $1
		  AND record->>'kind' IN ('payable', 'receivable')
		  AND record->>'status' IN ('unpaid', 'partially_paid')
		FOR UPDATE
	`, TableLedger), req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock outstanding entries: %w", err)
	}

	var outstanding []book.LedgerTransaction
	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		var entry book.LedgerTransaction
		if err := json.Unmarshal(rec, &entry); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode ledger record: %w", err)
		}
		outstanding = append(outstanding, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outstanding entries: %w", err)
	}

	plan, err := allocate.Build(req.ContactID, req.Amount, req.Date, req.Method, outstanding, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	plan.AssignIDs(req.InstallmentIDs, req.AdvanceID)

	result := &AllocationResult{Advance: plan.Advance}
	for _, alloc := range plan.Allocations {
		rec, err := json.Marshal(alloc.Entry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode ledger record: %w", err)
		}
		tag, err := tx.Exec(queryCtx, fmt.Sprintf(`UPDATE %s SET record = $2 WHERE id = $1`, TableLedger),
			alloc.Entry.ID, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to update ledger record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, &book.ConflictError{Table: TableLedger, ID: alloc.Entry.ID, Reason: "entry vanished during allocation"}
		}
		result.LedgerUpdates = append(result.LedgerUpdates, alloc.Entry)
	}
	for _, inst := range plan.Installments {
		rec, err := json.Marshal(inst)
		if err != nil {
			return nil, fmt.Errorf("failed to encode installment: %w", err)
		}
		if _, err := tx.Exec(queryCtx, fmt.Sprintf(
			`INSERT INTO %s (id, record) VALUES ($1, $2)`, TableInstallments), inst.ID, rec); err != nil {
			return nil, fmt.Errorf("failed to insert installment: %w", err)
		}
		result.Installments = append(result.Installments, inst)
	}
	if plan.Advance != nil {
		rec, err := json.Marshal(plan.Advance)
		if err != nil {
			return nil, fmt.Errorf("failed to encode advance: %w", err)
		}
		if _, err := tx.Exec(queryCtx, fmt.Sprintf(
			`INSERT INTO %s (id, record) VALUES ($1, $2)`, TableLedger), plan.Advance.ID, rec); err != nil {
			return nil, fmt.Errorf("failed to insert advance: %w", err)
		}
	}

	resJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocation result: %w", err)
	}
	if _, err := tx.Exec(queryCtx,
		`INSERT INTO sync_ops (id, result) VALUES ($1, $2)`, req.OpID, resJSON); err != nil {
		return nil, fmt.Errorf("failed to record applied operation: %w", err)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// GetOrCreateSnapshot returns the checkpoint for month, computing and
// persisting it atomically when missing. A losing concurrent creator
// re-reads the winner's row.
func (pc *PostgresClient) GetOrCreateSnapshot(ctx context.Context, actor book.Actor, month time.Time) (*book.MonthlySnapshot, error) {
	month = book.MonthStart(month)

	if snap, err := pc.readSnapshot(ctx, month); err == nil {
		return snap, nil
	} else if !errors.Is(err, errSnapshotMissing) {
		return nil, err
	}

	if err := requireAdmin(actor, "create snapshot"); err != nil {
		return nil, err
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		snap, err := pc.createSnapshotOnce(ctx, month)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to create snapshot after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return nil, classify(fmt.Errorf("failed to create snapshot: %w", err))
		}
		return snap, nil
	}
	return nil, nil
}

var errSnapshotMissing = errors.New("snapshot missing")

func (pc *PostgresClient) readSnapshot(ctx context.Context, month time.Time) (*book.MonthlySnapshot, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec []byte
	err := pc.Pool.QueryRow(queryCtx, fmt.Sprintf(
		`SELECT record FROM %s WHERE snapshot_month = $1`, TableSnapshots),
		month.Format("2006-01")).Scan(&rec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errSnapshotMissing
		}
		return nil, classify(fmt.Errorf("failed to read snapshot: %w", err))
	}
	var snap book.MonthlySnapshot
	if err := json.Unmarshal(rec, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (pc *PostgresClient) createSnapshotOnce(ctx context.Context, month time.Time) (*book.MonthlySnapshot, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := pc.Pool.Acquire(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	fins, err := loadRecords[book.FinancialTransaction](queryCtx, tx, TableFinancial)
	if err != nil {
		return nil, err
	}
	stocks, err := loadRecords[book.StockTransaction](queryCtx, tx, TableStock)
	if err != nil {
		return nil, err
	}
	entries, err := loadRecords[book.LedgerTransaction](queryCtx, tx, TableLedger)
	if err != nil {
		return nil, err
	}
	allInstallments, err := loadRecords[book.PaymentInstallment](queryCtx, tx, TableInstallments)
	if err != nil {
		return nil, err
	}

	var priorFins []book.FinancialTransaction
	for _, t := range fins {
		if t.Date.Before(month) {
			priorFins = append(priorFins, t)
		}
	}
	var priorStocks []book.StockTransaction
	for _, t := range stocks {
		if t.Date.Before(month) {
			priorStocks = append(priorStocks, t)
		}
	}
	var priorEntries []book.LedgerTransaction
	installments := make(map[string][]book.PaymentInstallment)
	for _, e := range entries {
		if e.Kind != book.LedgerAdvance && e.Date.Before(month) {
			priorEntries = append(priorEntries, e)
		}
	}
	for _, in := range allInstallments {
		installments[in.LedgerTransactionID] = append(installments[in.LedgerTransactionID], in)
	}

	snap, err := snapshot.ComputeFrom(month, priorFins, priorStocks, priorEntries, installments)
	if err != nil {
		return nil, err
	}

	rec, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	tag, err := tx.Exec(queryCtx, fmt.Sprintf(`
		INSERT INTO %s (id, record, snapshot_month) VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_month) DO NOTHING
	`, TableSnapshots), snap.ID, rec, month.Format("2006-01"))
	if err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if err := tx.Commit(queryCtx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the creation race; the winner's row is the truth.
		return pc.readSnapshot(ctx, month)
	}
	return snap, nil
}

// DropSnapshots removes checkpoints for month and later.
func (pc *PostgresClient) DropSnapshots(ctx context.Context, actor book.Actor, from time.Time) error {
	if err := requireAdmin(actor, "drop snapshots"); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
		`DELETE FROM %s WHERE snapshot_month >= $1`, TableSnapshots),
		book.MonthStart(from).Format("2006-01"))
	if err != nil {
		return classify(fmt.Errorf("failed to drop snapshots: %w", err))
	}
	return nil
}

// ExportAll dumps every table including recycled records.
func (pc *PostgresClient) ExportAll(ctx context.Context, actor book.Actor) (map[string][]json.RawMessage, error) {
	out := make(map[string][]json.RawMessage, len(Tables()))
	for _, table := range Tables() {
		recs, err := pc.Query(ctx, actor, table, QueryFilter{IncludeDeleted: true})
		if err != nil {
			return nil, err
		}
		out[table] = recs
	}
	return out, nil
}

// ImportAll replaces table contents with the payload. Best effort per
// table: a failure aborts and leaves earlier tables replaced.
func (pc *PostgresClient) ImportAll(ctx context.Context, actor book.Actor, payload map[string][]json.RawMessage) error {
	if err := requireAdmin(actor, "import"); err != nil {
		return err
	}
	for _, table := range Tables() {
		recs, ok := payload[table]
		if !ok {
			continue
		}
		queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := func() error {
			defer cancel()
			if _, err := pc.Pool.Exec(queryCtx, `DELETE FROM `+table); err != nil {
				return classify(fmt.Errorf("failed to clear %s: %w", table, err))
			}
			for _, rec := range recs {
				id := recordID(rec)
				if id == "" {
					return &book.ValidationError{Field: "record", Reason: "missing id in import payload for " + table}
				}
				if table == TableSnapshots {
					if _, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
						`INSERT INTO %s (id, record, snapshot_month) VALUES ($1, $2, $3)`, table),
						id, rec, recordMonth(rec)); err != nil {
						return classify(fmt.Errorf("failed to import into %s: %w", table, err))
					}
					continue
				}
				if _, err := pc.Pool.Exec(queryCtx, fmt.Sprintf(
					`INSERT INTO %s (id, record) VALUES ($1, $2)`, table), id, rec); err != nil {
					return classify(fmt.Errorf("failed to import into %s: %w", table, err))
				}
			}
			return nil
		}()
		if err != nil {
			return err
		}
	}
	return nil
}

// loadRecords reads and decodes every live record of a table inside tx.
func loadRecords[T any](ctx context.Context, tx pgx.Tx, table string) ([]T, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT record FROM %s WHERE deleted_at IS NULL`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("failed to decode record from %s: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func recordID(rec json.RawMessage) string {
	var v struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec, &v)
	return v.ID
}

func recordMonth(rec json.RawMessage) string {
	var v struct {
		Month time.Time `json:"snapshot_month"`
	}
	_ = json.Unmarshal(rec, &v)
	return v.Month.Format("2006-01")
}

// classify maps low-level failures onto the error taxonomy: connectivity
// problems become NetworkError (retryable), constraint violations become
// ConflictError, everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503":
			return &book.ConflictError{Reason: pgErr.Message}
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return &book.NetworkError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &book.NetworkError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &book.NetworkError{Err: err}
	}
	return err
}
