package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/revenue"
)

// RevenueRecorder is the ingestion surface the webhook drives.
type RevenueRecorder interface {
	Ingest(ctx context.Context, req revenue.IngestRequest) (revenue.IngestResult, error)
	UpdateStatus(ctx context.Context, provider, intentID string, status revenue.Status) (revenue.Event, error)
}

// ReplayGuard suppresses provider callbacks that were already processed.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	FirstSeen(ctx context.Context, key string) (time.Time, bool, error)
	Release(ctx context.Context, key string) error
}

// Webhook handles payment provider callbacks: signature verification, replay
// suppression, then ingestion or status transition.
type Webhook struct {
	Providers map[string]Provider
	Revenue   RevenueRecorder
	Replay    ReplayGuard
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// NewProviders indexes providers by name.
func NewProviders(providers ...Provider) map[string]Provider {
	out := make(map[string]Provider, len(providers))
	for _, p := range providers {
		out[p.Name()] = p
	}
	return out
}

// Handle serves POST /api/v1/webhooks/payment/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if h.Revenue == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	provider, ok := h.Providers[providerKey]
	if !ok {
		obs.Inc(obs.PaymentWebhookTotal, "unknown", "unsupported")
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	note, err := provider.VerifyWebhook(r, body)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			obs.Inc(obs.PaymentWebhookTotal, providerKey, "invalid_signature")
			common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
			return
		}
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "invalid")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if note.Ignored {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "ignored")
		common.JSON(w, http.StatusOK, map[string]any{"status": "ignored", "event": note.EventType})
		return
	}

	ctx := r.Context()
	replayKey := fmt.Sprintf("wh:payment:%s:%s", providerKey, common.SHA256Hex(body))
	guarded := h.Replay != nil && h.ReplayTTL > 0
	if guarded {
		fresh, err := h.Replay.Acquire(ctx, replayKey, h.ReplayTTL)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			obs.Inc(obs.PaymentWebhookTotal, providerKey, "replayed")
			resp := map[string]any{"status": "replayed"}
			if seen, ok, err := h.Replay.FirstSeen(ctx, replayKey); err == nil && ok {
				resp["firstSeenAt"] = seen
			}
			common.JSON(w, http.StatusOK, resp)
			return
		}
	}

	outcome, eventID, err := h.apply(ctx, note)
	if err != nil {
		if guarded {
			// let the provider's retry through
			_ = h.Replay.Release(context.WithoutCancel(ctx), replayKey)
		}
		if errors.Is(err, revenue.ErrInvalidRequest) {
			obs.Inc(obs.PaymentWebhookTotal, providerKey, "invalid")
			common.JSONError(w, http.StatusUnprocessableEntity, "WEBHOOK_UNPROCESSABLE", err.Error(), nil)
			return
		}
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "error")
		h.Logger.Error().Err(err).Str("provider", providerKey).Str("intent_id", note.IntentID).Msg("payment_webhook_failed")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_PROCESSING_FAILED", "unable to record payment", nil)
		return
	}
	obs.Inc(obs.PaymentWebhookTotal, providerKey, outcome)
	h.Logger.Info().
		Str("provider", providerKey).
		Str("intent_id", note.IntentID).
		Str("status", string(note.Status)).
		Str("outcome", outcome).
		Msg("payment_webhook_processed")
	common.JSON(w, http.StatusOK, map[string]any{"status": outcome, "eventId": eventID})
}

// apply records the notification. Succeeded payments are ingested; an intent that
// was recorded earlier as pending or failed is moved to succeeded. Other states update
// the existing event or, when none exists, record it in that state. A notification the
// stored status may not move to is reported as stale.
func (h Webhook) apply(ctx context.Context, note Notification) (string, string, error) {
	if note.Status == revenue.StatusSucceeded {
		res, err := h.Revenue.Ingest(ctx, note.IngestRequest())
		if err != nil {
			return "", "", err
		}
		if !res.Duplicate {
			return "ingested", res.EventID.String(), nil
		}
		if res.Status == revenue.StatusSucceeded || res.Status == revenue.StatusRefunded {
			// a late success never reverses a refund
			return "duplicate", res.EventID.String(), nil
		}
		ev, err := h.Revenue.UpdateStatus(ctx, note.Provider, note.IntentID, revenue.StatusSucceeded)
		if err != nil {
			return "", "", err
		}
		return "status_updated", ev.ID.String(), nil
	}

	ev, err := h.Revenue.UpdateStatus(ctx, note.Provider, note.IntentID, note.Status)
	if err == nil {
		if ev.Status != note.Status {
			// refunded and succeeded events keep their state
			return "stale", ev.ID.String(), nil
		}
		return "status_updated", ev.ID.String(), nil
	}
	if !errors.Is(err, revenue.ErrNotFound) {
		return "", "", err
	}
	res, err := h.Revenue.Ingest(ctx, note.IngestRequest())
	if err != nil {
		return "", "", err
	}
	return "ingested", res.EventID.String(), nil
}
