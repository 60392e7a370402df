package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether another request for key fits inside limit per window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error)
}

func unlimited(limit int, window time.Duration, now time.Time) Decision {
	return Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: now.Add(window)}
}

// FixedWindow adapts a ulule limiter store to the Limiter interface.
type FixedWindow struct {
	Store limiter.Store
}

// NewFixedWindow builds a fixed window limiter keeping its counters in Redis.
func NewFixedWindow(rdb *redis.Client, prefix string) (FixedWindow, error) {
	if rdb == nil {
		return FixedWindow{}, errors.New("ratelimit: redis client is required")
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix:   strings.TrimSuffix(prefix, ":"),
		MaxRetry: 3,
	})
	if err != nil {
		return FixedWindow{}, err
	}
	return FixedWindow{Store: store}, nil
}

// Allow increments the counter for key and reports the resulting window state.
func (f FixedWindow) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	if f.Store == nil || limit <= 0 || window <= 0 {
		return unlimited(limit, window, time.Now()), nil
	}
	res, err := f.Store.Get(ctx, key, limiter.Rate{Period: window, Limit: int64(limit)})
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		Reset:     time.Unix(res.Reset, 0),
	}, nil
}

// ParseRate reads the "<limit>-<period>" notation, for example "600-M" or "10-S".
func ParseRate(formatted string) (window time.Duration, limit int, err error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return 0, 0, err
	}
	return rate.Period, int(rate.Limit), nil
}
