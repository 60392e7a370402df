package payment_test

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/payment"
	"github.com/noah-isme/backend-revshare/internal/revenue"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func stripeBody(eventType, currency string, amount int64) string {
	return fmt.Sprintf(`{"id":"evt_1","type":%q,"created":%d,"data":{"object":{"id":"pi_123","object":"payment_intent","amount":%d,"currency":%q,"payment_intent":"pi_123","metadata":{"revenue_type":"tip","creator_id":"creator-1","room_key":"room-9","affiliate_id":"aff-2"}}}}`,
		eventType, fixedNow.Unix(), amount, currency)
}

func stripeRequest(secret string, ts int64, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, payment.StripeSignature(secret, ts, []byte(body))))
	return req
}

func TestStripeVerifiesAndNormalises(t *testing.T) {
	p := payment.Stripe{Secret: "whsec", Now: func() time.Time { return fixedNow }}
	body := stripeBody("payment_intent.succeeded", "usd", 1099)

	n, err := p.VerifyWebhook(stripeRequest("whsec", fixedNow.Unix(), body), []byte(body))
	require.NoError(t, err)
	require.Equal(t, "stripe", n.Provider)
	require.Equal(t, "pi_123", n.IntentID)
	require.Equal(t, revenue.StatusSucceeded, n.Status)
	require.True(t, n.Amount.Equal(decimal.RequireFromString("10.99")))
	require.Equal(t, "USD", n.Currency)
	require.Equal(t, "tip", n.RevenueTypeID)
	require.Equal(t, "creator-1", n.CreatorID)
	require.Equal(t, "room-9", n.RoomKey)
	require.Equal(t, "aff-2", n.AffiliateID)
	require.Equal(t, fixedNow, n.OccurredAt)

	req := n.IngestRequest()
	require.Equal(t, "stripe", req.PaymentProvider)
	require.Equal(t, "succeeded", req.Status)
	require.NotNil(t, req.OccurredAt)
}

func TestStripeEventMapping(t *testing.T) {
	p := payment.Stripe{Secret: "whsec", Now: func() time.Time { return fixedNow }}
	cases := map[string]revenue.Status{
		"payment_intent.payment_failed": revenue.StatusFailed,
		"charge.refunded":               revenue.StatusRefunded,
	}
	for eventType, want := range cases {
		body := stripeBody(eventType, "usd", 500)
		n, err := p.VerifyWebhook(stripeRequest("whsec", fixedNow.Unix(), body), []byte(body))
		require.NoError(t, err, eventType)
		require.Equal(t, want, n.Status, eventType)
		require.Equal(t, "pi_123", n.IntentID)
	}

	body := stripeBody("customer.created", "usd", 0)
	n, err := p.VerifyWebhook(stripeRequest("whsec", fixedNow.Unix(), body), []byte(body))
	require.NoError(t, err)
	require.True(t, n.Ignored)
}

func TestStripeZeroDecimalCurrency(t *testing.T) {
	p := payment.Stripe{Secret: "whsec", Now: func() time.Time { return fixedNow }}
	body := stripeBody("payment_intent.succeeded", "jpy", 500)
	n, err := p.VerifyWebhook(stripeRequest("whsec", fixedNow.Unix(), body), []byte(body))
	require.NoError(t, err)
	require.True(t, n.Amount.Equal(decimal.NewFromInt(500)))
}

func TestStripeRejectsBadSignatures(t *testing.T) {
	p := payment.Stripe{Secret: "whsec", Tolerance: time.Minute, Now: func() time.Time { return fixedNow }}
	body := stripeBody("payment_intent.succeeded", "usd", 100)

	_, err := p.VerifyWebhook(stripeRequest("other", fixedNow.Unix(), body), []byte(body))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	_, err = p.VerifyWebhook(stripeRequest("whsec", fixedNow.Add(-2*time.Minute).Unix(), body), []byte(body))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	req := stripeRequest("whsec", fixedNow.Unix(), body)
	_, err = p.VerifyWebhook(req, []byte(body+" "))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	req.Header.Del("Stripe-Signature")
	_, err = p.VerifyWebhook(req, []byte(body))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestHMACProvider(t *testing.T) {
	p := payment.HMAC{ProviderName: "wallet", Secret: "s3cret"}
	body := []byte(`{"event":"payment.paid","intent_id":"w-1","status":"PAID","amount":"12.50","currency":"eur","metadata":{"revenue_type":"unlock","creator_id":"c-7"}}`)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Callback-Signature", p.Sign(body))

	n, err := p.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.Equal(t, "wallet", n.Provider)
	require.Equal(t, revenue.StatusSucceeded, n.Status)
	require.True(t, n.Amount.Equal(decimal.RequireFromString("12.50")))
	require.Equal(t, "EUR", n.Currency)
	require.Equal(t, "unlock", n.RevenueTypeID)

	req.Header.Set("X-Callback-Signature", "deadbeef")
	_, err = p.VerifyWebhook(req, body)
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	unknown := []byte(`{"intent_id":"w-1","status":"authorized"}`)
	req.Header.Set("X-Callback-Signature", p.Sign(unknown))
	n, err = p.VerifyWebhook(req, unknown)
	require.NoError(t, err)
	require.True(t, n.Ignored)

	missing := []byte(`{"status":"paid"}`)
	req.Header.Set("X-Callback-Signature", p.Sign(missing))
	_, err = p.VerifyWebhook(req, missing)
	require.ErrorIs(t, err, payment.ErrInvalidPayload)
}

func TestMidtransProvider(t *testing.T) {
	key := "SB-Mid-server"
	sum := sha512.Sum512([]byte("tip-1" + "200" + "15000.00" + key))
	body := []byte(fmt.Sprintf(`{"order_id":"tip-1","status_code":"200","gross_amount":"15000.00","currency":"IDR","signature_key":%q,"transaction_status":"settlement","transaction_time":"2026-03-10 19:00:00","custom_field1":"tip","custom_field2":"creator-1"}`,
		hex.EncodeToString(sum[:])))

	p := payment.Midtrans{ServerKey: key}
	n, err := p.VerifyWebhook(httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.NoError(t, err)
	require.Equal(t, revenue.StatusSucceeded, n.Status)
	require.Equal(t, "tip-1", n.IntentID)
	require.True(t, n.Amount.Equal(decimal.NewFromInt(15000)))
	require.Equal(t, "creator-1", n.CreatorID)
	require.Equal(t, fixedNow, n.OccurredAt)

	_, err = payment.Midtrans{ServerKey: "other"}.VerifyWebhook(httptest.NewRequest(http.MethodPost, "/", nil), body)
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}
