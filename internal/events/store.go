package events

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-revshare/internal/db"
)

// ErrStoreUnavailable indicates the event store dependency is not configured.
var ErrStoreUnavailable = errors.New("events: store unavailable")

// NewStore constructs an EventStore writing to the domain_events table.
func NewStore(conn db.DBTX) EventStore {
	return &pgStore{conn: conn}
}

type pgStore struct {
	conn db.DBTX
}

func (s *pgStore) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (Event, error) {
	if s == nil || s.conn == nil {
		return Event{}, ErrStoreUnavailable
	}
	ev := Event{Topic: topic, AggregateID: aggregateID}
	var raw []byte
	err := s.conn.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING id, payload, occurred_at`, uuid.New(), topic, aggregateID, string(payload)).Scan(&ev.ID, &raw, &ev.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = raw
	return ev, nil
}
