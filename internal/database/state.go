package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pocketplan/internal/models"
)

// GetSyncValue returns the stored value for a sync-state key, or the
// empty string when the key is unset.
func (db *DB) GetSyncValue(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", db.wrap(fmt.Errorf("failed to get sync state %s: %w", key, err))
	}
	return value, nil
}

func (db *DB) SetSyncValue(ctx context.Context, key, value string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
            INSERT INTO sync_state (key, value, updated_at)
            VALUES (?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET
                value = excluded.value,
                updated_at = excluded.updated_at
        `
		if _, err := tx.ExecContext(ctx, query, key, value, time.Now()); err != nil {
			return fmt.Errorf("failed to set sync state %s: %w", key, err)
		}
		return nil
	})
}

// GetLastSyncAt returns the timestamp of the last successful cycle,
// nil before the first one.
func (db *DB) GetLastSyncAt(ctx context.Context) (*time.Time, error) {
	raw, err := db.GetSyncValue(ctx, models.StateKeyLastSync)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time %q: %w", raw, err)
	}
	return &at, nil
}

func (db *DB) SetLastSyncAt(ctx context.Context, at time.Time) error {
	return db.SetSyncValue(ctx, models.StateKeyLastSync, at.Format(time.RFC3339Nano))
}
