package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-revshare/internal/obs"
)

const (
	defaultMaxAttempts = 10
	defaultDedupTTL    = 24 * time.Hour
)

// Enqueuer writes tasks into the per-kind ready set, scored by due time.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t. A task with an IdempotencyKey is accepted once until it
// completes, dead-letters, or DedupTTL passes; repeats return nil.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	m := message{
		ID:          uuid.NewString(),
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, defaultMaxAttempts),
		DueAt:       time.Now().Add(t.Delay).UnixMilli(),
	}
	ks := keyspace{prefix: e.Prefix}

	dedup := ""
	if m.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = defaultDedupTTL
		}
		fresh, err := e.R.SetNX(ctx, ks.dedup(kind, m.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !fresh {
			obs.Inc(obs.QueueEnqueuedTotal, kind, "deduped")
			return nil
		}
		dedup = ks.dedup(kind, m.Key)
	}
	if err := push(ctx, e.R, ks.ready(kind), m); err != nil {
		if dedup != "" {
			// release the claim so a retry is queued
			_ = e.R.Del(context.WithoutCancel(ctx), dedup).Err()
		}
		return err
	}
	obs.Inc(obs.QueueEnqueuedTotal, kind, "queued")
	return nil
}

func push(ctx context.Context, r *redis.Client, key string, m message) error {
	raw, err := m.encode()
	if err != nil {
		return err
	}
	return r.ZAdd(ctx, key, redis.Z{Score: float64(m.DueAt), Member: raw}).Err()
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
