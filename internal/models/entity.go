package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKind discriminates the payload carried by an Entity.
type EntityKind string

const (
	KindTask  EntityKind = "task"
	KindEvent EntityKind = "event"
)

// Kinds lists every entity kind the sync core manages.
func Kinds() []EntityKind {
	return []EntityKind{KindTask, KindEvent}
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindTask || k == KindEvent
}

// Task is the domain payload of a to-do item.
type Task struct {
	Title  string     `json:"title"`
	Notes  string     `json:"notes,omitempty"`
	DueAt  *time.Time `json:"due_at,omitempty"`
	Done   bool       `json:"done"`
	Labels []string   `json:"labels,omitempty"`
}

// CalendarEvent is the domain payload of a calendar entry.
type CalendarEvent struct {
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	AllDay   bool      `json:"all_day"`
}

// Entity is one synchronizable record: the domain payload plus the
// metadata the sync core needs. Exactly one of Task or Event is set,
// matching Kind.
type Entity struct {
	ID        string     `json:"id"`
	Kind      EntityKind `json:"kind"`
	UpdatedAt time.Time  `json:"updated_at"`
	// Dirty marks a local change the server has not confirmed yet.
	Dirty bool `json:"dirty,omitempty"`
	// Deleted marks a local tombstone awaiting server confirmation.
	Deleted bool `json:"deleted,omitempty"`

	Task  *Task          `json:"task,omitempty"`
	Event *CalendarEvent `json:"event,omitempty"`
}

// Validate checks that the payload matches the declared kind.
func (e *Entity) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	switch e.Kind {
	case KindTask:
		if e.Task == nil || e.Event != nil {
			return fmt.Errorf("entity %s: kind=task requires a task payload", e.ID)
		}
	case KindEvent:
		if e.Event == nil || e.Task != nil {
			return fmt.Errorf("entity %s: kind=event requires an event payload", e.ID)
		}
	}
	return nil
}

// Title returns the display title regardless of kind.
func (e *Entity) Title() string {
	switch {
	case e.Task != nil:
		return e.Task.Title
	case e.Event != nil:
		return e.Event.Title
	}
	return ""
}

// EncodePayload serializes the domain payload for storage.
func (e *Entity) EncodePayload() (string, error) {
	var v interface{}
	switch e.Kind {
	case KindTask:
		v = e.Task
	case KindEvent:
		v = e.Event
	default:
		return "", fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	return string(raw), nil
}

// DecodePayload fills the typed payload field from its stored form.
func (e *Entity) DecodePayload(raw string) error {
	switch e.Kind {
	case KindTask:
		e.Task = &Task{}
		if err := json.Unmarshal([]byte(raw), e.Task); err != nil {
			return fmt.Errorf("decode task payload: %w", err)
		}
	case KindEvent:
		e.Event = &CalendarEvent{}
		if err := json.Unmarshal([]byte(raw), e.Event); err != nil {
			return fmt.Errorf("decode event payload: %w", err)
		}
	default:
		return fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	return nil
}

// TentativeIDPrefix marks identifiers assigned locally before the
// server has confirmed a create.
const TentativeIDPrefix = "local-"

// NewTentativeID returns a fresh locally scoped identifier.
func NewTentativeID() string {
	return TentativeIDPrefix + uuid.NewString()
}

// IsTentativeID reports whether id was generated locally and still
// awaits the server-assigned identifier.
func IsTentativeID(id string) bool {
	return strings.HasPrefix(id, TentativeIDPrefix)
}
