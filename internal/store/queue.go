package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ledgersync/internal/book"
)

// Enqueue appends a mutation to the durable sync queue. Called inside the
// same transaction as the local write it mirrors.
func (q *Queries) Enqueue(ctx context.Context, e book.SyncEntry) error {
	deps, err := json.Marshal(e.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}
	_, err = q.r.ExecContext(ctx, `
		INSERT INTO sync_queue (id, device_id, action, payload, state, depends_on, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?)
	`, e.ID, e.DeviceID, string(e.Action), string(e.Payload), string(book.SyncPending),
		string(deps), fmtTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue sync entry: %w", err)
	}
	return nil
}

// ListQueue returns queue entries in enqueue order, optionally filtered
// by state.
func (q *Queries) ListQueue(ctx context.Context, states ...book.SyncState) ([]book.SyncEntry, error) {
	query := `
		SELECT seq, id, device_id, action, payload, state, depends_on, attempts, last_error, created_at
		FROM sync_queue`
	var args []any
	if len(states) > 0 {
		query += ` WHERE state IN (` + placeholders(len(states)) + `)`
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY seq ASC`

	rows, err := q.r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var out []book.SyncEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetQueueEntry fetches one entry by id.
func (q *Queries) GetQueueEntry(ctx context.Context, id string) (*book.SyncEntry, error) {
	row := q.r.QueryRowContext(ctx, `
		SELECT seq, id, device_id, action, payload, state, depends_on, attempts, last_error, created_at
		FROM sync_queue WHERE id = ?
	`, id)
	return scanQueueEntry(row)
}

// MarkSending transitions a pending entry to sending. Returns ErrNotFound
// if the entry is gone or not pending, which stops a cancelled entry from
// being sent.
func (q *Queries) MarkSending(ctx context.Context, id string) error {
	res, err := q.r.ExecContext(ctx, `
		UPDATE sync_queue SET state = ?, attempts = attempts + 1
		WHERE id = ? AND state = ?
	`, string(book.SyncSending), id, string(book.SyncPending))
	if err != nil {
		return fmt.Errorf("failed to mark entry sending: %w", err)
	}
	return requireRow(res)
}

// MarkApplied removes a confirmed entry from the queue. Entries are
// deleted only after the remote acknowledged them.
func (q *Queries) MarkApplied(ctx context.Context, id string) error {
	res, err := q.r.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to dequeue applied entry: %w", err)
	}
	return requireRow(res)
}

// MarkPending returns a sending entry to pending after a transient
// failure so it is retried on the next pass.
func (q *Queries) MarkPending(ctx context.Context, id, lastError string) error {
	res, err := q.r.ExecContext(ctx, `
		UPDATE sync_queue SET state = ?, last_error = ? WHERE id = ?
	`, string(book.SyncPending), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry pending: %w", err)
	}
	return requireRow(res)
}

// MarkFailed records a non-retryable rejection.
func (q *Queries) MarkFailed(ctx context.Context, id, lastError string) error {
	res, err := q.r.ExecContext(ctx, `
		UPDATE sync_queue SET state = ?, last_error = ? WHERE id = ?
	`, string(book.SyncFailed), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	return requireRow(res)
}

// CancelPending removes a not-yet-sent entry. An entry already sending
// cannot be cancelled; the caller must wait for its outcome.
func (q *Queries) CancelPending(ctx context.Context, id string) error {
	res, err := q.r.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id = ? AND state = ?`,
		id, string(book.SyncPending))
	if err != nil {
		return fmt.Errorf("failed to cancel entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, err := q.GetQueueEntry(ctx, id); err == nil {
			return ErrNotCancelable
		}
		return ErrNotFound
	}
	return nil
}

// QueueDepth counts entries still awaiting confirmation.
func (q *Queries) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := q.r.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func scanQueueEntry(row rowScanner) (*book.SyncEntry, error) {
	var e book.SyncEntry
	var action, payload, state, deps, createdAt string
	err := row.Scan(&e.Seq, &e.ID, &e.DeviceID, &action, &payload, &state,
		&deps, &e.Attempts, &e.LastError, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}
	e.Action = book.SyncAction(action)
	e.Payload = json.RawMessage(payload)
	e.State = book.SyncState(state)
	if err := json.Unmarshal([]byte(deps), &e.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
