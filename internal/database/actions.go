package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pocketplan/internal/models"
)

const actionColumns = `id, action_kind, entity_kind, entity_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func scanAction(scan func(dest ...interface{}) error) (models.PendingAction, error) {
	var a models.PendingAction
	err := scan(
		&a.ID, &a.Kind, &a.EntityKind, &a.EntityID, &a.Payload, &a.Status,
		&a.RetryCount, &a.LastError, &a.CreatedAt, &a.ProcessedAt, &a.NextRetryAt,
	)
	return a, err
}

func enqueueActionTx(ctx context.Context, tx *sql.Tx, action *models.PendingAction) error {
	if action.Kind == "" {
		return errors.New("action kind is required")
	}
	if action.EntityID == "" {
		return errors.New("entity id is required")
	}
	if action.Status == "" {
		action.Status = models.ActionStatusPending
	}

	query := `INSERT INTO pending_actions (action_kind, entity_kind, entity_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := tx.ExecContext(ctx, query,
		action.Kind,
		action.EntityKind,
		action.EntityID,
		action.Payload,
		action.Status,
		action.RetryCount,
		action.LastError,
		now,
		action.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	action.ID = id
	action.CreatedAt = now

	return nil
}

// EnqueueAction appends an offline mutation to the durable log.
func (db *DB) EnqueueAction(ctx context.Context, action *models.PendingAction) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return enqueueActionTx(ctx, tx, action)
	})
}

// NextAction returns the oldest unconfirmed action for one entity, or
// nil when the entity has nothing queued. Enqueue order is the replay
// order.
func (db *DB) NextAction(ctx context.Context, entityID string) (*models.PendingAction, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_actions
              WHERE entity_id = ? AND status IN (?, ?)
              ORDER BY created_at ASC, id ASC LIMIT 1`, actionColumns)
	row := db.QueryRowContext(ctx, query, entityID, models.ActionStatusPending, models.ActionStatusRetry)

	a, err := scanAction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.wrap(fmt.Errorf("failed to get next action for %s: %w", entityID, err))
	}
	return &a, nil
}

// ListPending returns actions eligible for submission: pending, or
// retry whose backoff delay has elapsed. Ordered by enqueue time so
// per-entity grouping preserves replay order.
func (db *DB) ListPending(ctx context.Context, limit int) ([]models.PendingAction, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_actions
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`, actionColumns)
	rows, err := db.QueryContext(ctx, query, models.ActionStatusPending, models.ActionStatusRetry, time.Now(), limit)
	if err != nil {
		return nil, db.wrap(fmt.Errorf("failed to list pending actions: %w", err))
	}
	defer rows.Close()

	var actions []models.PendingAction
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, db.wrap(fmt.Errorf("failed to scan pending action: %w", err))
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.wrap(err)
	}
	return actions, nil
}

// DequeueAction removes a confirmed action from the log. Dequeueing an
// already-removed action is a no-op, which keeps replays idempotent.
func (db *DB) DequeueAction(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to dequeue action %d: %w", id, err)
		}
		return nil
	})
}

// RecordActionFailure marks a failed submission. Terminal failures go
// straight to failed and are excluded from automatic retry; transient
// ones get a retry slot with the supplied backoff deadline.
func (db *DB) RecordActionFailure(ctx context.Context, id int64, cause string, nextRetryAt *time.Time, terminal bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if terminal {
			_, err := tx.ExecContext(ctx,
				`UPDATE pending_actions SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`,
				models.ActionStatusFailed, cause, now, id)
			if err != nil {
				return fmt.Errorf("failed to mark action %d failed: %w", id, err)
			}
			return nil
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE pending_actions SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`,
			models.ActionStatusRetry, cause, nextRetryAt, id)
		if err != nil {
			return fmt.Errorf("failed to mark action %d for retry: %w", id, err)
		}
		return nil
	})
}

// DiscardActions completes every unconfirmed action for an entity
// without submitting it. Used when the remote copy wins a conflict and
// the local edits are superseded.
func (db *DB) DiscardActions(ctx context.Context, entityID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_actions SET status = ?, processed_at = ?, next_retry_at = NULL
             WHERE entity_id = ? AND status IN (?, ?)`,
			models.ActionStatusCompleted, now, entityID, models.ActionStatusPending, models.ActionStatusRetry)
		if err != nil {
			return fmt.Errorf("failed to discard actions for %s: %w", entityID, err)
		}
		return nil
	})
}

// ListFailedActions returns terminally failed actions for user-level
// resolution. They stay in the log until resolved or the cache is
// cleared.
func (db *DB) ListFailedActions(ctx context.Context) ([]models.PendingAction, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_actions WHERE status = ? ORDER BY created_at DESC`, actionColumns)
	rows, err := db.QueryContext(ctx, query, models.ActionStatusFailed)
	if err != nil {
		return nil, db.wrap(fmt.Errorf("failed to list failed actions: %w", err))
	}
	defer rows.Close()

	var actions []models.PendingAction
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, db.wrap(fmt.Errorf("failed to scan failed action: %w", err))
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.wrap(err)
	}
	return actions, nil
}
