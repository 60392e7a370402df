package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/resilience"
)

// claimScript moves the earliest due member of KEYS[1] into the processing
// set KEYS[2], scored by its visibility deadline.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

const (
	idlePoll   = 100 * time.Millisecond
	sweepEvery = time.Second
)

// Worker runs Handler for every task of one kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler call; zero or anything above the
	// visibility timeout means the visibility timeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	// Store mirrors dead-lettered tasks into PostgreSQL when set.
	Store  Store
	Logger zerolog.Logger
}

type runConfig struct {
	kind        string
	concurrency int
	visibility  time.Duration
	deadline    time.Duration
	retryBase   time.Duration
	keys        keyspace
}

func (w Worker) config() (runConfig, error) {
	if w.R == nil {
		return runConfig{}, errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return runConfig{}, errors.New("queue: worker handler not configured")
	}
	rc := runConfig{
		kind:        sanitizeKind(w.Kind),
		concurrency: max(w.Concurrency, 1),
		visibility:  w.VisibilityTimeout,
		deadline:    w.SoftDeadline,
		retryBase:   w.RetryBase,
		keys:        keyspace{prefix: w.Prefix},
	}
	if rc.kind == "" {
		return runConfig{}, errors.New("queue: worker kind is required")
	}
	if rc.visibility <= 0 {
		rc.visibility = 30 * time.Second
	}
	if rc.deadline <= 0 || rc.deadline > rc.visibility {
		rc.deadline = rc.visibility
	}
	if rc.retryBase <= 0 {
		rc.retryBase = 200 * time.Millisecond
	}
	return rc, nil
}

// Run claims and handles tasks until ctx is cancelled, then waits for
// in-flight handlers. Tasks whose visibility deadline passes are put back on
// the ready set and count as a spent attempt.
func (w Worker) Run(ctx context.Context) error {
	rc, err := w.config()
	if err != nil {
		return err
	}
	slots := make(chan struct{}, rc.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	var lastSweep time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case slots <- struct{}{}:
		}

		if time.Since(lastSweep) >= sweepEvery {
			if err := w.sweep(ctx, rc); err != nil && ctx.Err() == nil {
				<-slots
				return err
			}
			lastSweep = time.Now()
		}

		raw, err := w.claim(ctx, rc)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				sleepCtx(ctx, idlePoll)
				continue
			}
			return err
		}
		m, err := decodeMessage(raw)
		if err != nil {
			<-slots
			w.Logger.Warn().Err(err).Str("kind", rc.kind).Msg("queue_message_undecodable")
			_ = w.R.ZRem(ctx, rc.keys.processing(rc.kind), raw).Err()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(ctx, rc, raw, m)
		}()
	}
}

func (w Worker) claim(ctx context.Context, rc runConfig) (string, error) {
	now := time.Now()
	return claimScript.Run(ctx, w.R,
		[]string{rc.keys.ready(rc.kind), rc.keys.processing(rc.kind)},
		now.UnixMilli(), now.Add(rc.visibility).UnixMilli(),
	).Text()
}

func (w Worker) process(ctx context.Context, rc runConfig, raw string, m message) {
	m.Attempt++
	jobCtx, cancel := context.WithTimeout(ctx, rc.deadline)
	started := time.Now()
	err := w.Handler(jobCtx, Task{
		Kind:           m.Kind,
		Payload:        m.Payload,
		IdempotencyKey: m.Key,
		MaxAttempts:    m.MaxAttempts,
		Attempt:        m.Attempt,
	})
	cancel()
	obs.Observe(obs.QueueTaskDuration, time.Since(started).Seconds(), m.Kind)

	// bookkeeping must outlive shutdown
	book := context.WithoutCancel(ctx)
	owned, remErr := w.R.ZRem(book, rc.keys.processing(m.Kind), raw).Result()
	if remErr == nil && owned == 0 {
		// the sweep already handed this delivery back to the ready set
		return
	}
	if err == nil {
		w.complete(book, rc, m)
		return
	}
	w.fail(book, rc, m, err)
}

func (w Worker) complete(ctx context.Context, rc runConfig, m message) {
	if m.Key != "" {
		_ = w.R.Del(ctx, rc.keys.dedup(m.Kind, m.Key)).Err()
	}
	obs.Inc(obs.QueueProcessedTotal, m.Kind, "done")
}

func (w Worker) fail(ctx context.Context, rc runConfig, m message, cause error) {
	m.LastError = cause.Error()
	if IsPermanent(cause) || m.exhausted() {
		w.deadLetter(ctx, rc, m)
		return
	}
	delay := resilience.Backoff(rc.retryBase, m.Attempt, w.RetryJitter)
	m.DueAt = time.Now().Add(delay).UnixMilli()
	if err := push(ctx, w.R, rc.keys.ready(m.Kind), m); err != nil {
		w.Logger.Error().Err(err).Str("kind", m.Kind).Str("key", m.Key).Msg("queue_retry_push_failed")
		return
	}
	obs.Inc(obs.QueueProcessedTotal, m.Kind, "retry")
	w.Logger.Debug().Str("kind", m.Kind).Str("key", m.Key).Int("attempt", m.Attempt).Dur("retry_in", delay).Msg("queue_task_retry")
}

func (w Worker) deadLetter(ctx context.Context, rc runConfig, m message) {
	raw, err := m.encode()
	if err != nil {
		return
	}
	if err := w.R.LPush(ctx, rc.keys.dlq(m.Kind), raw).Err(); err != nil {
		w.Logger.Error().Err(err).Str("kind", m.Kind).Msg("queue_dlq_push_failed")
	}
	if m.Key != "" {
		_ = w.R.Del(ctx, rc.keys.dedup(m.Kind, m.Key)).Err()
	}
	if w.Store != nil {
		entry := DLQEntry{
			Kind:           m.Kind,
			IdempotencyKey: m.Key,
			Payload:        []byte(raw),
			Attempts:       m.Attempt,
			LastError:      m.LastError,
		}
		if _, err := w.Store.Park(ctx, entry); err != nil {
			w.Logger.Error().Err(err).Str("kind", m.Kind).Msg("queue_dlq_persist_failed")
		}
	}
	obs.Inc(obs.QueueProcessedTotal, m.Kind, "dead")
	w.Logger.Warn().
		Str("kind", m.Kind).
		Str("key", m.Key).
		Int("attempts", m.Attempt).
		Str("last_error", m.LastError).
		Msg("queue_task_dead_lettered")
}

// sweep returns processing members past their visibility deadline to the
// ready set or, once out of attempts, to the dead-letter list.
func (w Worker) sweep(ctx context.Context, rc runConfig) error {
	processing := rc.keys.processing(rc.kind)
	expired, err := w.R.ZRangeByScore(ctx, processing, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, processing, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		m, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		m.Attempt++
		m.LastError = "visibility timeout exceeded"
		if m.exhausted() {
			w.deadLetter(ctx, rc, m)
			continue
		}
		m.DueAt = time.Now().UnixMilli()
		if err := push(ctx, w.R, rc.keys.ready(m.Kind), m); err != nil {
			return err
		}
		w.Logger.Info().Str("kind", m.Kind).Str("key", m.Key).Int("attempt", m.Attempt).Msg("queue_task_redelivered")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
