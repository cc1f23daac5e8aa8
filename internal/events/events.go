package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"allotment/internal/metrics"
)

// Event types published by the dashboard.
const (
	TypeReminder           = "reminder"
	TypeOngoing            = "ongoing"
	TypeUpcoming           = "upcoming"
	TypeArrived            = "arrived"
	TypeScheduleEdited     = "schedule_edited"
	TypeRowChanged         = "row_changed"
	TypePersistenceFailure = "persistence_failure"
	TypeStorageUnavailable = "storage_unavailable"
)

// AllTypes subscribes a handler to every event type.
const AllTypes = "*"

// Event represents a lightweight domain event.
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type, or AllTypes.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns the event
// as delivered.
func (b *EventBus) Publish(event Event) Event {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllTypes]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	metrics.IncEvent(event.Type)

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("type", event.Type).Int64("event_id", event.ID).Msg("Event handler failed")
		}
	}
	return event
}

// PublishJSON publishes an event whose payload is v encoded as JSON.
func (b *EventBus) PublishJSON(eventType, message string, v any) (Event, error) {
	var payload json.RawMessage
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		payload = data
	}
	return b.Publish(Event{Type: eventType, Message: message, Payload: payload}), nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %d has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}
