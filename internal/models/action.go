package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionKind is the mutation a pending action replays remotely.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

const (
	ActionStatusPending   = "pending"
	ActionStatusRetry     = "retry"
	ActionStatusCompleted = "completed"
	ActionStatusFailed    = "failed"
)

// PendingAction is a queued offline mutation awaiting confirmation by
// the remote service. Payload holds the full entity snapshot (JSON)
// taken at enqueue time; deletes carry no snapshot.
type PendingAction struct {
	ID          int64      `json:"id"`
	Kind        ActionKind `json:"kind"`
	EntityKind  EntityKind `json:"entity_kind"`
	EntityID    string     `json:"entity_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Snapshot decodes the entity snapshot stored in the action payload.
// The authoritative identifier is always EntityID: a remap rewrites
// the column but leaves old snapshots untouched.
func (a *PendingAction) Snapshot() (Entity, error) {
	if a.Kind == ActionDelete {
		return Entity{ID: a.EntityID, Kind: a.EntityKind}, nil
	}
	var e Entity
	if err := json.Unmarshal([]byte(a.Payload), &e); err != nil {
		return Entity{}, fmt.Errorf("decode action %d snapshot: %w", a.ID, err)
	}
	e.ID = a.EntityID
	e.Kind = a.EntityKind
	return e, nil
}

// EncodeSnapshot serializes an entity snapshot for enqueueing.
func EncodeSnapshot(e Entity) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode snapshot for %s: %w", e.ID, err)
	}
	return string(raw), nil
}
