package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/revenue"
)

// HMAC is a generic callback provider signing the raw body with a shared secret
// in the X-Callback-Signature header. Amounts are in major units.
type HMAC struct {
	ProviderName string
	Secret       string
}

func (h HMAC) Name() string {
	if h.ProviderName == "" {
		return "hmac"
	}
	return h.ProviderName
}

// VerifyWebhook implements Provider.
func (h HMAC) VerifyWebhook(r *http.Request, body []byte) (Notification, error) {
	expected := h.computeSignature(body)
	provided := strings.TrimSpace(r.Header.Get("X-Callback-Signature"))
	if expected == "" || !common.EqualHex(expected, provided) {
		return Notification{}, ErrInvalidSignature
	}

	var payload struct {
		Event      string            `json:"event"`
		IntentID   string            `json:"intent_id"`
		Status     string            `json:"status"`
		Amount     decimal.Decimal   `json:"amount"`
		Currency   string            `json:"currency"`
		OccurredAt *time.Time        `json:"occurred_at"`
		Metadata   map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(payload.IntentID) == "" {
		return Notification{}, fmt.Errorf("%w: missing intent_id", ErrInvalidPayload)
	}
	n := Notification{
		Provider:  h.Name(),
		EventType: payload.Event,
		IntentID:  strings.TrimSpace(payload.IntentID),
		Amount:    payload.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(payload.Currency)),
	}
	status, ok := normaliseCallbackStatus(payload.Status)
	if !ok {
		n.Ignored = true
		return n, nil
	}
	n.Status = status
	if payload.OccurredAt != nil {
		n.OccurredAt = payload.OccurredAt.UTC()
	}
	applyMetadata(&n, payload.Metadata)
	return n, nil
}

// Sign returns the signature expected for body; used by callers and tests.
func (h HMAC) Sign(body []byte) string {
	return h.computeSignature(body)
}

func (h HMAC) computeSignature(body []byte) string {
	key := strings.TrimSpace(h.Secret)
	if key == "" {
		return ""
	}
	return common.SignHMAC(key, body)
}

func normaliseCallbackStatus(status string) (revenue.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "settled", "success", "succeeded":
		return revenue.StatusSucceeded, true
	case "pending":
		return revenue.StatusPending, true
	case "failed", "canceled", "cancelled", "expired":
		return revenue.StatusFailed, true
	case "refunded", "refund":
		return revenue.StatusRefunded, true
	default:
		return "", false
	}
}
