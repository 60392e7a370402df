package revenue

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/queue"
)

// ResplitTaskKind is the queue kind carrying split repair work.
const ResplitTaskKind = "revenue-resplit"

// QueueRetrier schedules split repairs on the Redis queue. The event id doubles as the
// idempotency key so repeated failures keep a single task in flight.
type QueueRetrier struct {
	Queue       queue.Enqueuer
	MaxAttempts int
}

// EnqueueResplit implements Retrier.
func (q QueueRetrier) EnqueueResplit(ctx context.Context, eventID uuid.UUID) error {
	return q.Queue.Enqueue(ctx, queue.Task{
		Kind:           ResplitTaskKind,
		Payload:        []byte(eventID.String()),
		IdempotencyKey: eventID.String(),
		MaxAttempts:    q.MaxAttempts,
	})
}

// ResplitHandler adapts Service.Resplit to a queue worker handler.
func ResplitHandler(svc *Service, logger zerolog.Logger) func(context.Context, queue.Task) error {
	return func(ctx context.Context, task queue.Task) error {
		id, err := uuid.Parse(strings.TrimSpace(string(task.Payload)))
		if err != nil {
			logger.Warn().Str("payload", string(task.Payload)).Msg("resplit_invalid_payload")
			return queue.Permanent(err)
		}
		splits, err := svc.Resplit(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn().Str("event_id", id.String()).Msg("resplit_event_missing")
				return queue.Permanent(err)
			}
			logger.Warn().Err(err).Str("event_id", id.String()).Int("attempt", task.Attempt).Msg("resplit_failed")
			return err
		}
		logger.Info().Str("event_id", id.String()).Int("splits", len(splits)).Msg("resplit_done")
		return nil
	}
}
