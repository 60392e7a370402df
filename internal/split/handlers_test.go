package split

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestHandler(s *memStore) *Handler {
	return &Handler{Store: s, Resolver: Resolver{Store: s}, Now: func() time.Time { return t0 }}
}

func TestHandlerCreateProfileAndPreview(t *testing.T) {
	s := newMemStore("tip")
	h := newTestHandler(s)

	body := `{"name":"default","percentages":{"creator":"70","platform":"25","processor":"5"}}`
	rec := httptest.NewRecorder()
	h.CreateProfile(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/split-profiles", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data ProfileResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "default", created.Data.Name)

	preview := `{"amount":"100.00","profileId":"` + created.Data.ID.String() + `"}`
	rec = httptest.NewRecorder()
	h.Preview(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/split-preview", strings.NewReader(preview)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":"100"`)
	require.Contains(t, rec.Body.String(), `"beneficiary":"creator"`)
}

func TestHandlerCreateProfileRejectsBadInput(t *testing.T) {
	h := newTestHandler(newMemStore())

	cases := map[string]string{
		"unknown beneficiary": `{"name":"x","percentages":{"sponsor":"10"}}`,
		"over hundred":        `{"name":"x","percentages":{"creator":"120"}}`,
		"missing name":        `{"percentages":{"creator":"10"}}`,
		"all zero":            `{"name":"x","percentages":{"creator":"0"}}`,
		"five decimals":       `{"name":"x","percentages":{"creator":"33.33333"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.CreateProfile(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlerCreateMappingChecksReferences(t *testing.T) {
	s := newMemStore("tip")
	h := newTestHandler(s)
	p := seedProfile(t, s, "global", 70)

	send := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.CreateMapping(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/split-mappings", strings.NewReader(body)))
		return rec
	}

	rec := send(`{"revenueTypeId":"unlock","profileId":"` + p.ID.String() + `","effectiveFrom":"2026-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = send(`{"revenueTypeId":"tip","profileId":"` + uuid.NewString() + `","effectiveFrom":"2026-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = send(`{"revenueTypeId":"tip","profileId":"` + p.ID.String() + `","effectiveFrom":"2026-03-01T00:00:00Z","effectiveTo":"2026-02-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(`{"revenueTypeId":"tip","roomKey":"room-1","profileId":"` + p.ID.String() + `","effectiveFrom":"2026-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	mappings, err := s.ListMappings(context.Background(), "tip")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, "room-1", *mappings[0].RoomKey)
}

func TestHandlerResolve(t *testing.T) {
	s := newMemStore("tip")
	h := newTestHandler(s)
	p := seedProfile(t, s, "global", 70)
	_, _ = s.CreateMapping(context.Background(), Mapping{ID: uuid.New(), RevenueTypeID: "tip", ProfileID: p.ID, EffectiveFrom: t0})

	rec := httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/split-resolve?revenueTypeId=tip&at=2026-03-02T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), p.ID.String())

	rec = httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/split-resolve?revenueTypeId=tip&at=2026-02-02T00:00:00Z", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/split-resolve", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
