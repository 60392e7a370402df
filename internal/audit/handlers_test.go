package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerListPassesFilters(t *testing.T) {
	store := &memStore{entries: []Entry{{Action: "revenue.resplit", Method: http.MethodPost}}}
	rr := httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet,
		"/admin/audit-logs?limit=25&offset=10&action=revenue.resplit&resourceId=ev-1&actor=ops", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, Filter{Action: "revenue.resplit", ResourceID: "ev-1", Actor: "ops", Limit: 25, Offset: 10}, store.filter)

	var payload struct {
		Data  []Entry `json:"data"`
		Limit int     `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 1)
	require.Equal(t, 25, payload.Limit)
}

func TestHandlerListClampsLimit(t *testing.T) {
	store := &memStore{}
	rr := httptest.NewRecorder()
	Handler{Store: store}.List(rr, httptest.NewRequest(http.MethodGet, "/admin/audit-logs?limit=5000", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 200, store.filter.Limit)
	require.JSONEq(t, `{"data":[],"limit":200,"offset":0}`, rr.Body.String())
}

func TestHandlerListErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler{}.List(rr, httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	Handler{Store: &memStore{err: errors.New("boom")}}.List(rr, httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestListQueryBuildsPlaceholders(t *testing.T) {
	q, args := listQuery(Filter{ResourceType: "revenue_event", Actor: "ops", Limit: 10, Offset: 20})
	require.Contains(t, q, "WHERE resource_type = $1 AND actor_subject = $2")
	require.Contains(t, q, "LIMIT $3 OFFSET $4")
	require.Equal(t, []any{"revenue_event", "ops", 10, 20}, args)

	q, args = listQuery(Filter{Limit: 5})
	require.NotContains(t, q, "WHERE")
	require.Equal(t, []any{5, 0}, args)
}
