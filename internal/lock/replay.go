package lock

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard marks keys as seen for a TTL so a payload is processed once. The stored value
// is the first-seen time.
type ReplayGuard struct {
	Client *redis.Client
	Prefix string
}

func (g ReplayGuard) key(key string) string {
	if g.Prefix == "" {
		return key
	}
	return g.Prefix + ":" + key
}

// Acquire claims key for ttl and reports whether this caller is the first. Without a client
// every call is first.
func (g ReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	err := g.Client.SetArgs(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339Nano), redis.SetArgs{
		Mode: "NX",
		TTL:  lockTTL(ttl),
	}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, err
	}
}

// FirstSeen returns when key was first acquired.
func (g ReplayGuard) FirstSeen(ctx context.Context, key string) (time.Time, bool, error) {
	if g.Client == nil {
		return time.Time{}, false, nil
	}
	raw, err := g.Client.Get(ctx, g.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// Release forgets key so the next delivery is processed again.
func (g ReplayGuard) Release(ctx context.Context, key string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, g.key(key)).Err()
}
