package revenue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/split"
)

func newTestRouter(svc *Service) http.Handler {
	h := &Handler{Svc: svc}
	r := chi.NewRouter()
	r.Post("/revenue/ingest", h.Ingest)
	r.Get("/revenue/events/{id}", h.GetEvent)
	r.Post("/revenue/events/{id}/resplit", h.Resplit)
	return r
}

const ingestBody = `{"revenueTypeId":"tip","creatorId":"creator-1","paymentProvider":"stripe",
"paymentIntentId":"pi_http","grossAmount":"10.00","currency":"USD"}`

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func TestHandlerIngestStatusCodes(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f.svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/ingest", strings.NewReader(ingestBody)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created IngestResult
	decodeData(t, rec, &created)
	require.Len(t, created.Splits, 3)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/ingest", strings.NewReader(ingestBody)))
	require.Equal(t, http.StatusOK, rec.Code)
	var replay IngestResult
	decodeData(t, rec, &replay)
	require.True(t, replay.Duplicate)
	require.Equal(t, created.EventID, replay.EventID)

	f.resolver.set(split.Profile{}, split.ErrNotFound)
	body := strings.Replace(ingestBody, "pi_http", "pi_http_pending", 1)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/ingest", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandlerIngestRejectsInvalidBody(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f.svc)

	for _, body := range []string{
		`{"unknown":1}`,
		strings.Replace(ingestBody, `"10.00"`, `"-4.00"`, 1),
		strings.Replace(ingestBody, `"10.00"`, `"4.001"`, 1),
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/ingest", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Zero(t, f.store.eventCount())
}

func TestHandlerGetEventAndResplit(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f.svc)
	f.resolver.set(split.Profile{}, split.ErrNotFound)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/ingest", strings.NewReader(ingestBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var res IngestResult
	decodeData(t, rec, &res)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/events/"+res.EventID.String()+"/resplit", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.resolver.set(standardProfile(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/revenue/events/"+res.EventID.String()+"/resplit", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revenue/events/"+res.EventID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Event  Event   `json:"event"`
		Splits []Split `json:"splits"`
	}
	decodeData(t, rec, &got)
	require.Equal(t, "pi_http", got.Event.PaymentIntentID)
	require.Len(t, got.Splits, 3)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revenue/events/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/revenue/events/nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
