package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/events"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/queue"
	"github.com/noah-isme/backend-revshare/internal/resilience"
)

// DeliveryTaskKind is the queue kind used for webhook deliveries.
const DeliveryTaskKind = "notify-webhook"

// Enqueuer is the queue publishing dependency of the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Dispatcher fans domain events out to subscribed endpoints as queue tasks.
type Dispatcher struct {
	Queue       Enqueuer
	Endpoints   []Endpoint
	Enabled     bool
	MaxAttempts int
}

// deliveryTask is the queue payload for one endpoint and one event.
type deliveryTask struct {
	Endpoint string       `json:"endpoint"`
	Event    events.Event `json:"event"`
}

// Schedule implements events.DeliveryScheduler.
func (d *Dispatcher) Schedule(ctx context.Context, event events.Event) error {
	if d == nil || !d.Enabled || d.Queue == nil {
		return nil
	}
	if strings.TrimSpace(event.Topic) == "" {
		return nil
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	var joined error
	for _, ep := range d.Endpoints {
		if !ep.Subscribed(event.Topic) {
			continue
		}
		payload, err := json.Marshal(deliveryTask{Endpoint: ep.Name, Event: event})
		if err != nil {
			return err
		}
		err = d.Queue.Enqueue(ctx, queue.Task{
			Kind:           DeliveryTaskKind,
			Payload:        payload,
			IdempotencyKey: ep.Name + ":" + event.ID.String(),
			MaxAttempts:    maxAttempts,
		})
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery for %s: %w", ep.Name, err))
		}
	}
	return joined
}

// Locker serialises deliveries of the same event to the same endpoint.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// DeliveryWorker posts queued events to their endpoints.
type DeliveryWorker struct {
	Endpoints []Endpoint
	HTTP      resilience.HTTPClient
	Locker    Locker
	LockTTL   time.Duration
	Replay    ReplayProtector
	ReplayTTL time.Duration
	UserAgent string
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Handle is the queue handler for DeliveryTaskKind tasks. Transport errors and 5xx
// responses are returned so the queue retries; 4xx responses are dropped.
func (w DeliveryWorker) Handle(ctx context.Context, task queue.Task) error {
	var dt deliveryTask
	if err := json.Unmarshal(task.Payload, &dt); err != nil {
		return queue.Permanent(fmt.Errorf("notify: decode task: %w", err))
	}
	ep, ok := w.endpoint(dt.Endpoint)
	if !ok {
		w.Logger.Warn().Str("endpoint", dt.Endpoint).Str("event_id", dt.Event.ID.String()).Msg("webhook_endpoint_unknown")
		return queue.Permanent(fmt.Errorf("notify: unknown endpoint %q", dt.Endpoint))
	}
	run := func(ctx context.Context) error {
		return w.deliver(ctx, ep, dt.Event, task.Attempt)
	}
	if w.Locker == nil {
		return run(ctx)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "lock:notify:"+replayKey(ep.Name, dt.Event.ID), ttl, run)
}

func (w DeliveryWorker) deliver(ctx context.Context, ep Endpoint, ev events.Event, attempt int) error {
	ctx, span := otel.Tracer("notify.DeliveryWorker").Start(ctx, "DeliveryWorker.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint", ep.Name),
		attribute.String("webhook.event_id", ev.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
		attribute.Int("webhook.attempt", attempt),
	)

	key := "wh:" + replayKey(ep.Name, ev.ID)
	if w.Replay != nil && w.ReplayTTL > 0 {
		ok, err := w.Replay.Acquire(ctx, key, w.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			w.record("replayed", 0)
			return nil
		}
	}

	start := time.Now()
	status, err := w.post(ctx, ep, ev)
	if err == nil && status >= 200 && status < 300 {
		span.SetAttributes(attribute.Int("http.status_code", status))
		w.record("delivered", time.Since(start))
		return nil
	}
	if w.Replay != nil && w.ReplayTTL > 0 {
		_ = w.Replay.Release(context.WithoutCancel(ctx), key)
	}
	if err == nil {
		// 4xx: the receiver rejected the payload, retrying will not help
		span.SetAttributes(attribute.Int("http.status_code", status))
		w.record("dropped", time.Since(start))
		w.Logger.Warn().Str("endpoint", ep.Name).Str("event_id", ev.ID.String()).Int("status", status).Msg("webhook_rejected")
		return nil
	}
	span.RecordError(err)
	w.record("failed", time.Since(start))
	w.Logger.Warn().Err(err).Str("endpoint", ep.Name).Str("event_id", ev.ID.String()).Int("attempt", attempt).Msg("webhook_delivery_failed")
	return err
}

func (w DeliveryWorker) post(ctx context.Context, ep Endpoint, ev events.Event) (int, error) {
	body, err := json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID.String(),
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return 0, err
	}
	ts := w.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	ua := w.UserAgent
	if ua == "" {
		ua = "revshare-webhooks/1.0"
	}
	eventID := ev.ID.String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", replayKey(ep.Name, ev.ID))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))

	resp, err := w.HTTP.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (w DeliveryWorker) endpoint(name string) (Endpoint, bool) {
	for _, ep := range w.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (w DeliveryWorker) record(result string, elapsed time.Duration) {
	obs.Inc(obs.WebhookDeliveriesTotal, result)
	if obs.WebhookAttemptLatency != nil && elapsed > 0 {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
	}
}

func (w DeliveryWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	return common.SignHMAC(secret, []byte(strconv.FormatInt(ts, 10)), []byte(eventID), body)
}

func replayKey(endpoint string, eventID uuid.UUID) string {
	return endpoint + ":" + eventID.String()
}
