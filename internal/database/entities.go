package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pocketplan/internal/models"
)

const entityColumns = `id, kind, updated_at, dirty, deleted, payload`

func scanEntity(scan func(dest ...interface{}) error) (models.Entity, error) {
	var (
		e       models.Entity
		payload string
	)
	if err := scan(&e.ID, &e.Kind, &e.UpdatedAt, &e.Dirty, &e.Deleted, &payload); err != nil {
		return models.Entity{}, err
	}
	if err := e.DecodePayload(payload); err != nil {
		return models.Entity{}, err
	}
	return e, nil
}

// GetEntity returns the canonical local record or nil when absent.
func (db *DB) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE id = ?`, entityColumns)
	row := db.QueryRowContext(ctx, query, id)

	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.wrap(fmt.Errorf("failed to get entity %s: %w", id, err))
	}
	return &e, nil
}

// ListEntities returns every record of a kind, tombstones included,
// ordered by last modification. Never touches the network.
func (db *DB) ListEntities(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM entities WHERE kind = ? ORDER BY updated_at DESC, id`, entityColumns)
	rows, err := db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, db.wrap(fmt.Errorf("failed to list %s entities: %w", kind, err))
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, db.wrap(fmt.Errorf("failed to scan entity: %w", err))
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.wrap(err)
	}
	return entities, nil
}

func upsertEntityTx(ctx context.Context, tx *sql.Tx, e models.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := e.EncodePayload()
	if err != nil {
		return err
	}

	query := `
        INSERT INTO entities (id, kind, updated_at, dirty, deleted, payload)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            kind = excluded.kind,
            updated_at = excluded.updated_at,
            dirty = excluded.dirty,
            deleted = excluded.deleted,
            payload = excluded.payload
    `
	if _, err := tx.ExecContext(ctx, query, e.ID, e.Kind, e.UpdatedAt, e.Dirty, e.Deleted, payload); err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", e.ID, err)
	}
	return nil
}

// UpsertEntities writes all records in one transaction. Used by user
// actions and by sync merges alike.
func (db *DB) UpsertEntities(ctx context.Context, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entities {
			if err := upsertEntityTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveEntityWithAction couples an offline mutation with its queue
// entry so a crash can never leave one without the other.
func (db *DB) SaveEntityWithAction(ctx context.Context, entity models.Entity, action *models.PendingAction) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertEntityTx(ctx, tx, entity); err != nil {
			return err
		}
		return enqueueActionTx(ctx, tx, action)
	})
}

// Remap замещает временный идентификатор серверным: строка сущности,
// все отложенные действия и породившее действие create обновляются в
// одной транзакции.
func (db *DB) Remap(ctx context.Context, tentativeID, serverID string, createActionID int64) error {
	if !models.IsTentativeID(tentativeID) {
		return fmt.Errorf("remap: %q is not a tentative identifier", tentativeID)
	}
	if serverID == "" || models.IsTentativeID(serverID) {
		return fmt.Errorf("remap: invalid server identifier %q", serverID)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE entities SET id = ? WHERE id = ?`, serverID, tentativeID)
		if err != nil {
			return fmt.Errorf("remap entity %s: %w", tentativeID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("remap: entity %s not found", tentativeID)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_actions WHERE id = ?`, createActionID); err != nil {
			return fmt.Errorf("remap: remove create action %d: %w", createActionID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_actions SET entity_id = ? WHERE entity_id = ?`, serverID, tentativeID); err != nil {
			return fmt.Errorf("remap pending actions for %s: %w", tentativeID, err)
		}
		return nil
	})
}

// DeleteEntities removes records outright, e.g. when the server
// reports them deleted and no local tombstone is pending.
func (db *DB) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`DELETE FROM entities WHERE id IN (%s)`, placeholders(len(ids)))
		if _, err := tx.ExecContext(ctx, query, idArgs(ids)...); err != nil {
			return fmt.Errorf("failed to delete entities: %w", err)
		}
		return nil
	})
}

// PurgeTombstones removes records whose deletion the server has
// confirmed. Only tombstoned rows are touched.
func (db *DB) PurgeTombstones(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`DELETE FROM entities WHERE deleted = 1 AND id IN (%s)`, placeholders(len(ids)))
		if _, err := tx.ExecContext(ctx, query, idArgs(ids)...); err != nil {
			return fmt.Errorf("failed to purge tombstones: %w", err)
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// HasPendingActions reports whether unconfirmed mutations still
// reference the entity. Merge uses it to decide whether a canonical
// server record may clear the dirty flag.
func (db *DB) HasPendingActions(ctx context.Context, entityID string) (bool, error) {
	query := `SELECT COUNT(*) FROM pending_actions WHERE entity_id = ? AND status IN (?, ?)`
	var count int
	err := db.QueryRowContext(ctx, query, entityID, models.ActionStatusPending, models.ActionStatusRetry).Scan(&count)
	if err != nil {
		return false, db.wrap(fmt.Errorf("failed to count pending actions for %s: %w", entityID, err))
	}
	return count > 0, nil
}
