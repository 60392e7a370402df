package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON wraps Redis helpers for JSON payloads. A nil client or non-positive TTL turns
// every call into a miss.
type JSON struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

// Key joins parts with ':' under the configured prefix.
func (c JSON) Key(parts ...any) string {
	formatted := make([]string, 0, len(parts)+1)
	if c.Prefix != "" {
		formatted = append(formatted, c.Prefix)
	}
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

func (c JSON) enabled() bool {
	return c.R != nil && c.TTL > 0
}

// Get unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	data, err := c.R.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set serialises v as JSON and stores it with the configured TTL.
func (c JSON) Set(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, key, data, c.TTL).Err()
}

// Delete removes keys; missing keys are ignored.
func (c JSON) Delete(ctx context.Context, keys ...string) error {
	if c.R == nil || len(keys) == 0 {
		return nil
	}
	return c.R.Del(ctx, keys...).Err()
}
