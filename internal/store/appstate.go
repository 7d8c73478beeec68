package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DeviceID returns the device id from the singleton app-state row, or
// ErrNotFound when the store was never initialized.
func (q *Queries) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := q.r.QueryRowContext(ctx, `SELECT device_id FROM app_state WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}

// InitDeviceID stores id as this device's identity if none exists yet and
// returns the id in effect afterwards. The stored id survives restarts so
// queue entries keep a stable device stamp.
func (q *Queries) InitDeviceID(ctx context.Context, id string) (string, error) {
	if _, err := q.r.ExecContext(ctx,
		`INSERT INTO app_state (id, device_id) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return "", fmt.Errorf("failed to initialize app state: %w", err)
	}
	return q.DeviceID(ctx)
}
