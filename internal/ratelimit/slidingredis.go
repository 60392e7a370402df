package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims entries older than the window and admits the request
// only while the window holds fewer than max entries. Rejected calls are not
// recorded. Scores are unix milliseconds.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then first = tonumber(oldest[2]) end
return {allowed, count, first}
`)

// Sliding is a sliding window limiter over Redis sorted sets.
type Sliding struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow checks key and records the request when it is admitted.
func (l Sliding) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return unlimited(limit, window, now), nil
	}
	nowMS := now.UnixMilli()
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMS, windowMS, limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	allowed, count, oldest := res[0] == 1, int(res[1]), res[2]
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(0, limit-count),
		Reset:     time.UnixMilli(oldest + windowMS),
	}, nil
}
