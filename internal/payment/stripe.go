package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/revenue"
)

// Stripe verifies Stripe-Signature headers and maps payment intent and charge events.
type Stripe struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// currencies Stripe reports without a minor unit
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

func (Stripe) Name() string { return "stripe" }

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID             string            `json:"id"`
			Object         string            `json:"object"`
			Amount         int64             `json:"amount"`
			AmountReceived int64             `json:"amount_received"`
			Currency       string            `json:"currency"`
			PaymentIntent  string            `json:"payment_intent"`
			Created        int64             `json:"created"`
			Metadata       map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook implements Provider.
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (Notification, error) {
	if err := s.verify(r.Header.Get("Stripe-Signature"), body); err != nil {
		return Notification{}, err
	}
	var evt stripeEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	obj := evt.Data.Object
	n := Notification{Provider: s.Name(), EventType: evt.Type, Currency: strings.ToUpper(obj.Currency)}
	applyMetadata(&n, obj.Metadata)

	switch evt.Type {
	case "payment_intent.succeeded":
		n.Status = revenue.StatusSucceeded
		n.IntentID = obj.ID
	case "payment_intent.payment_failed":
		n.Status = revenue.StatusFailed
		n.IntentID = obj.ID
	case "charge.refunded":
		n.Status = revenue.StatusRefunded
		n.IntentID = obj.PaymentIntent
	default:
		n.Ignored = true
		return n, nil
	}
	if strings.TrimSpace(n.IntentID) == "" {
		return Notification{}, fmt.Errorf("%w: missing payment intent", ErrInvalidPayload)
	}
	minor := obj.Amount
	if obj.AmountReceived > 0 {
		minor = obj.AmountReceived
	}
	n.Amount = fromMinorUnits(minor, n.Currency)
	created := obj.Created
	if created == 0 {
		created = evt.Created
	}
	if created > 0 {
		n.OccurredAt = time.Unix(created, 0).UTC()
	}
	return n, nil
}

// verify checks "t=<unix>,v1=<hex>[,v1=<hex>]" against HMAC-SHA256("<t>.<body>").
func (s Stripe) verify(header string, body []byte) error {
	secret := strings.TrimSpace(s.Secret)
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	var (
		ts         int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if ts == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrInvalidSignature
	}
	expected := StripeSignature(secret, ts, body)
	for _, sig := range signatures {
		if common.EqualHex(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (s Stripe) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// StripeSignature computes the v1 signature for a payload signed at ts.
func StripeSignature(secret string, ts int64, body []byte) string {
	return common.SignHMAC(secret, []byte(strconv.FormatInt(ts, 10)), body)
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
