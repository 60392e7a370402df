package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorUsesAppErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NotFound("NOT_FOUND", "missing"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Data(rec, http.StatusCreated, map[string]int{"splits": 3})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":{"splits":3}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteError(rec, BadRequest("INVALID_AMOUNT", "amount must be positive", map[string]string{"field": "grossAmount"}))
	require.JSONEq(t, `{"error":{"code":"INVALID_AMOUNT","message":"amount must be positive","details":{"field":"grossAmount"}}}`, rec.Body.String())
}

func TestDecodeJSONValidates(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}
	var p payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	err := DecodeJSON(req, &p)
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	appErr, ok = AsAppError(DecodeJSON(req, &p))
	require.True(t, ok)
	require.Equal(t, "BAD_REQUEST", appErr.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, DecodeJSON(req, &p))
	require.Equal(t, "x", p.Name)
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=-3", nil)
	limit, offset := ParsePagination(req, 20, 100)
	require.Equal(t, 100, limit)
	require.Equal(t, 0, offset)

	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	limit, _ = ParsePagination(req, 20, 100)
	require.Equal(t, 20, limit)
}

func TestCallerRoundTrip(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{Subject: "svc-billing", Roles: []string{"ingest"}})
	c, ok := CallerFrom(ctx)
	require.True(t, ok)
	require.True(t, c.HasRole("ingest"))
	require.False(t, c.HasRole("admin"))
	require.Equal(t, "svc-billing", Subject(ctx))
	require.Empty(t, Subject(context.Background()))
}

func TestIdemRejectsReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	h := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/split-profiles", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusCreated, send())
	require.Equal(t, http.StatusConflict, send())
	require.Equal(t, 1, calls)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	h := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/revenue/events/x/resplit", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusBadGateway, send().Code)
	require.Equal(t, http.StatusAccepted, send().Code)
	replay := send()
	require.Equal(t, http.StatusConflict, replay.Code)
	require.Contains(t, replay.Body.String(), `"status":202`)
	require.Equal(t, 2, calls)
}

func TestIdemInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var inner *httptest.ResponseRecorder
	var h http.Handler
	h = Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = httptest.NewRecorder()
			h.ServeHTTP(inner, r)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/split-mappings", nil)
	req.Header.Set("Idempotency-Key", "slow")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, http.StatusConflict, inner.Code)
	require.Contains(t, inner.Body.String(), "IDEMPOTENCY_IN_PROGRESS")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:5555"
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	require.Equal(t, "192.168.1.4", ClientIP(req))

	req.RemoteAddr = "10.0.0.9"
	require.Equal(t, "10.0.0.9", ClientIP(req))

	req.RemoteAddr = "pipe"
	require.Equal(t, "10.0.0.1", ClientIP(req))

	req.RemoteAddr = "[::ffff:172.16.0.5]:80"
	require.Equal(t, "172.16.0.5", ClientIP(req))
}

func TestSignatureHelpers(t *testing.T) {
	sig := SignHMAC("secret", []byte("1700000000"), []byte(`{"a":1}`))
	require.Len(t, sig, 64)
	require.Equal(t, sig, SignHMAC("secret", []byte("1700000000"), []byte(`{"a":1}`)))
	require.NotEqual(t, sig, SignHMAC("other", []byte("1700000000"), []byte(`{"a":1}`)))
	require.True(t, EqualHex(sig, " "+strings.ToUpper(sig)))
	require.False(t, EqualHex("", ""))
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", SHA256Hex(nil))
}
