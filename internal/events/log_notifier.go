package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/obs"
)

// LogNotifier records every emitted event in the structured log and the events counter.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	if obs.DomainEventsTotal != nil {
		obs.DomainEventsTotal.WithLabelValues(event.Topic).Inc()
	}
	n.Logger.Debug().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID.String()).
		Msg("domain_event")
	return nil
}
