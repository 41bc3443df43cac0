package domain

import (
	"context"
	"time"

	"pocketplan/internal/models"
)

// LocalStore is the durable entity cache. Reads never touch the
// network; writes are serialized by the implementation.
type LocalStore interface {
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	ListEntities(ctx context.Context, kind models.EntityKind) ([]models.Entity, error)
	UpsertEntities(ctx context.Context, entities []models.Entity) error
	// SaveEntityWithAction writes an entity and enqueues the pending
	// action that produced it in a single transaction.
	SaveEntityWithAction(ctx context.Context, entity models.Entity, action *models.PendingAction) error
	// Remap atomically replaces a tentative identifier with the
	// server-assigned one across the entity row and every pending
	// action, and removes the originating create action.
	Remap(ctx context.Context, tentativeID, serverID string, createActionID int64) error
	DeleteEntities(ctx context.Context, ids []string) error
	PurgeTombstones(ctx context.Context, ids []string) error
	ClearAll(ctx context.Context) error
	// Reset rebuilds the schema from scratch after corruption.
	Reset(ctx context.Context) error
}

// ActionLog is the ordered, durable queue of offline mutations.
type ActionLog interface {
	EnqueueAction(ctx context.Context, action *models.PendingAction) error
	NextAction(ctx context.Context, entityID string) (*models.PendingAction, error)
	ListPending(ctx context.Context, limit int) ([]models.PendingAction, error)
	DequeueAction(ctx context.Context, id int64) error
	RecordActionFailure(ctx context.Context, id int64, cause string, nextRetryAt *time.Time, terminal bool) error
	DiscardActions(ctx context.Context, entityID string) error
	HasPendingActions(ctx context.Context, entityID string) (bool, error)
	ListFailedActions(ctx context.Context) ([]models.PendingAction, error)
}

// SyncStateStore persists the sync cursor and timestamps across
// process restarts.
type SyncStateStore interface {
	GetSyncValue(ctx context.Context, key string) (string, error)
	SetSyncValue(ctx context.Context, key, value string) error
	GetLastSyncAt(ctx context.Context) (*time.Time, error)
	SetLastSyncAt(ctx context.Context, at time.Time) error
}

// Store combines every durable surface the sync engine touches; the
// sqlite database satisfies all of them.
type Store interface {
	LocalStore
	ActionLog
	SyncStateStore
}

// RemoteClient is the authenticated wrapper around the backend API.
type RemoteClient interface {
	// ListEntities returns canonical records of a kind plus the next
	// incremental cursor. An empty cursor requests a full snapshot.
	// Server-side deletions arrive as records with Deleted set; the
	// merge never prunes local rows that are merely absent from the
	// feed, so the backend must emit tombstones until every client
	// has observed them.
	ListEntities(ctx context.Context, kind models.EntityKind, cursor string) ([]models.Entity, string, error)
	// CreateEntity returns the canonical record with the
	// server-assigned identifier and updated_at.
	CreateEntity(ctx context.Context, entity models.Entity) (models.Entity, error)
	UpdateEntity(ctx context.Context, entity models.Entity) (models.Entity, error)
	// DeleteEntity treats "already absent" as success.
	DeleteEntity(ctx context.Context, kind models.EntityKind, id string) error
}

// EventPublisher is the explicit notification channel consumed by
// UI-layer subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
