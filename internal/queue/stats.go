package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-revshare/internal/obs"
)

// Depth is a point-in-time view of one task kind.
type Depth struct {
	Kind       string `json:"kind"`
	Ready      int64  `json:"ready"`
	Processing int64  `json:"processing"`
	DLQ        int64  `json:"dlq"`
	OldestLag  int64  `json:"oldest_lag_ms"`
}

// Inspect reads the sizes for kind in one pipeline and refreshes the
// queue_size gauges. OldestLag is how long the earliest due task has waited.
func Inspect(ctx context.Context, r *redis.Client, prefix, kind string) (Depth, error) {
	kind = sanitizeKind(kind)
	d := Depth{Kind: kind}
	if r == nil {
		return d, errors.New("queue: redis client is required")
	}
	if kind == "" {
		return d, errors.New("queue: kind is required")
	}
	ks := keyspace{prefix: prefix}

	pipe := r.Pipeline()
	ready := pipe.ZCard(ctx, ks.ready(kind))
	processing := pipe.ZCard(ctx, ks.processing(kind))
	dead := pipe.LLen(ctx, ks.dlq(kind))
	oldest := pipe.ZRangeWithScores(ctx, ks.ready(kind), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return d, err
	}
	d.Ready, d.Processing, d.DLQ = ready.Val(), processing.Val(), dead.Val()
	if head := oldest.Val(); len(head) > 0 {
		if lag := time.Since(time.UnixMilli(int64(head[0].Score))); lag > 0 {
			d.OldestLag = lag.Milliseconds()
		}
	}

	obs.SetGauge(obs.QueueSize, float64(d.Ready), kind, "ready")
	obs.SetGauge(obs.QueueSize, float64(d.Processing), kind, "processing")
	obs.SetGauge(obs.QueueSize, float64(d.DLQ), kind, "dlq")
	return d, nil
}
