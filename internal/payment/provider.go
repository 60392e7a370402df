package payment

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/revenue"
)

var (
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	// ErrInvalidPayload is returned when a verified webhook cannot be decoded.
	ErrInvalidPayload = errors.New("payment: invalid webhook payload")
)

// Notification is a provider callback normalised into revenue terms.
type Notification struct {
	Provider  string
	EventType string
	IntentID  string
	Status    revenue.Status
	Amount    decimal.Decimal
	Currency  string
	// Revenue metadata attached to the intent when it was created.
	RevenueTypeID string
	CreatorID     string
	RoomKey       string
	AffiliateID   string
	SessionRef    string
	OccurredAt    time.Time
	// Ignored marks a verified callback that carries nothing to record.
	Ignored bool
}

// IngestRequest converts the notification into an ingestion request.
func (n Notification) IngestRequest() revenue.IngestRequest {
	req := revenue.IngestRequest{
		RevenueTypeID:   n.RevenueTypeID,
		RoomKey:         n.RoomKey,
		CreatorID:       n.CreatorID,
		AffiliateID:     n.AffiliateID,
		PaymentProvider: n.Provider,
		PaymentIntentID: n.IntentID,
		GrossAmount:     n.Amount,
		Currency:        n.Currency,
		Status:          string(n.Status),
		SessionRef:      n.SessionRef,
		Metadata:        map[string]any{"providerEvent": n.EventType},
	}
	if !n.OccurredAt.IsZero() {
		occurred := n.OccurredAt
		req.OccurredAt = &occurred
	}
	return req
}

// Provider verifies and decodes callbacks from one upstream payment provider.
type Provider interface {
	Name() string
	VerifyWebhook(r *http.Request, body []byte) (Notification, error)
}

// metadata keys shared by every provider integration
const (
	metaRevenueType = "revenue_type"
	metaCreatorID   = "creator_id"
	metaRoomKey     = "room_key"
	metaAffiliateID = "affiliate_id"
	metaSessionRef  = "session_ref"
)

func applyMetadata(n *Notification, meta map[string]string) {
	n.RevenueTypeID = strings.TrimSpace(meta[metaRevenueType])
	n.CreatorID = strings.TrimSpace(meta[metaCreatorID])
	n.RoomKey = strings.TrimSpace(meta[metaRoomKey])
	n.AffiliateID = strings.TrimSpace(meta[metaAffiliateID])
	n.SessionRef = strings.TrimSpace(meta[metaSessionRef])
}
