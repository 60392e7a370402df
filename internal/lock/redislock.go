package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the key stays held by someone else.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes KEYS[1] only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
)

// Locker hands out Redis locks keyed by name. Each holder writes a random
// token, so an expired holder can never release a successor's lock.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a contended key; zero waits for ctx.
	MaxWait time.Duration
}

// WithLock runs fn once key is held, polling every RetryBackoff. It returns
// ErrNotAcquired when MaxWait passes first and ctx.Err() when ctx ends.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if l.MaxWait > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, l.MaxWait)
	}
	defer cancel()

	retry := l.RetryBackoff
	if retry <= 0 {
		retry = defaultRetry
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	h := l.holder(key, ttl)
	for {
		ok, err := h.acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			defer h.release()
			return fn(ctx)
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrNotAcquired
		case <-ticker.C:
		}
	}
}

// TryLock runs fn only when key is free right now.
func (l Locker) TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := l.check(fn); err != nil {
		return err
	}
	h := l.holder(key, ttl)
	ok, err := h.acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer h.release()
	return fn(ctx)
}

func (l Locker) check(fn func(context.Context) error) error {
	switch {
	case l.R == nil:
		return errors.New("lock: redis client not configured")
	case fn == nil:
		return errors.New("lock: callback not provided")
	}
	return nil
}

type holder struct {
	r     *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func (l Locker) holder(key string, ttl time.Duration) holder {
	if l.Prefix != "" {
		key = l.Prefix + ":" + key
	}
	return holder{r: l.R, key: key, token: uuid.NewString(), ttl: lockTTL(ttl)}
}

func lockTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTTL
	}
	return d
}

func (h holder) acquire(ctx context.Context) (bool, error) {
	return h.r.SetNX(ctx, h.key, h.token, h.ttl).Result()
}

// release runs detached from the caller's context so a cancelled request
// still frees the key.
func (h holder) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, h.r, []string{h.key}, h.token).Err()
}
