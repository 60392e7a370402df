package payment

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/revenue"
)

// Midtrans verifies HTTP notifications whose signature_key is
// SHA512(order_id + status_code + gross_amount + server_key). Revenue metadata
// travels in custom_field1..3 (revenue type, creator id, room key).
type Midtrans struct {
	ServerKey string
}

var midtransZone = time.FixedZone("WIB", 7*60*60)

func (Midtrans) Name() string { return "midtrans" }

// VerifyWebhook implements Provider.
func (m Midtrans) VerifyWebhook(_ *http.Request, body []byte) (Notification, error) {
	var payload struct {
		OrderID           string `json:"order_id"`
		StatusCode        string `json:"status_code"`
		GrossAmount       string `json:"gross_amount"`
		Currency          string `json:"currency"`
		SignatureKey      string `json:"signature_key"`
		TransactionStatus string `json:"transaction_status"`
		TransactionTime   string `json:"transaction_time"`
		CustomField1      string `json:"custom_field1"`
		CustomField2      string `json:"custom_field2"`
		CustomField3      string `json:"custom_field3"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.OrderID == "" {
		return Notification{}, fmt.Errorf("%w: missing order id", ErrInvalidPayload)
	}

	expected := m.computeSignature(payload.OrderID, payload.StatusCode, payload.GrossAmount)
	if expected == "" || !common.EqualHex(expected, payload.SignatureKey) {
		return Notification{}, ErrInvalidSignature
	}

	n := Notification{
		Provider:  m.Name(),
		EventType: payload.TransactionStatus,
		IntentID:  payload.OrderID,
		Currency:  strings.ToUpper(strings.TrimSpace(payload.Currency)),
	}
	if n.Currency == "" {
		n.Currency = "IDR"
	}
	status, ok := normaliseMidtransStatus(payload.TransactionStatus)
	if !ok {
		n.Ignored = true
		return n, nil
	}
	n.Status = status
	amount, err := decimal.NewFromString(strings.TrimSpace(payload.GrossAmount))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: gross_amount: %v", ErrInvalidPayload, err)
	}
	n.Amount = amount
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", payload.TransactionTime, midtransZone); err == nil {
		n.OccurredAt = ts.UTC()
	}
	applyMetadata(&n, map[string]string{
		metaRevenueType: payload.CustomField1,
		metaCreatorID:   payload.CustomField2,
		metaRoomKey:     payload.CustomField3,
	})
	return n, nil
}

func (m Midtrans) computeSignature(orderID, statusCode, grossAmount string) string {
	key := strings.TrimSpace(m.ServerKey)
	if key == "" {
		return ""
	}
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + key))
	return hex.EncodeToString(sum[:])
}

func normaliseMidtransStatus(status string) (revenue.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "capture", "settlement":
		return revenue.StatusSucceeded, true
	case "pending":
		return revenue.StatusPending, true
	case "deny", "cancel", "expire", "failure":
		return revenue.StatusFailed, true
	case "refund", "partial_refund":
		return revenue.StatusRefunded, true
	default:
		return "", false
	}
}
