package events

import (
	"encoding/json"
	"sync"
	"time"

	"pocketplan/internal/models"
)

const (
	EventConnectivityChanged = "connectivity_changed"
	EventSyncStarted         = "sync_started"
	EventSyncCompleted       = "sync_completed"
	EventSyncFailed          = "sync_failed"
	EventEntitiesUpdated     = "entities_updated"
	EventActionFailed        = "action_failed"
)

// ConnectivityPayload describes a reachability transition.
type ConnectivityPayload struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// SyncCyclePayload describes the outcome of one sync cycle.
type SyncCyclePayload struct {
	Result     string    `json:"result"`
	Flushed    int       `json:"flushed"`
	Failed     int       `json:"failed"`
	Retried    int       `json:"retried"`
	Pulled     int       `json:"pulled"`
	Conflicts  int       `json:"conflicts"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// EntitiesUpdatedPayload tells UI subscribers which kinds changed so
// they can re-read the local store.
type EntitiesUpdatedPayload struct {
	Kinds []models.EntityKind `json:"kinds"`
}

// ActionFailedPayload surfaces a terminally failed offline mutation
// for user-level resolution.
type ActionFailedPayload struct {
	ActionID   int64             `json:"action_id"`
	Kind       models.ActionKind `json:"kind"`
	EntityKind models.EntityKind `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Error      string            `json:"error"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
