package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a persisted domain event.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (Event, error)
}

// DeliveryScheduler schedules webhook deliveries for emitted events.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, event Event) error
}

// Notifier reacts to emitted events (e.g. logs, metrics, etc.).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Emitter is the publishing side of the bus consumed by services.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (Event, error)
}

// Bus persists domain events and fans them out to downstream handlers.
type Bus struct {
	Store     EventStore
	Scheduler DeliveryScheduler
	Notifiers []Notifier
}

// Emit records the event and dispatches it to all configured handlers. Handler failures
// are joined into the returned error after the event has been persisted.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if aggregateID == uuid.Nil {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev, err := b.Store.InsertDomainEvent(ctx, topic, aggregateID, encoded)
	if err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	var joined error
	if b.Scheduler != nil {
		if schedErr := b.Scheduler.Schedule(ctx, ev); schedErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: schedule deliveries: %w", schedErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case string:
		data = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
