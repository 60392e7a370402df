package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/health"
)

type readyReport struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"checks"`
}

func ready(t *testing.T, h health.Handler) (int, readyReport) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var rep readyReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	return rr.Code, rep
}

func fixed(name string, err error) health.Probe {
	return health.Probe{Name: name, Check: func(context.Context) error { return err }}
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestReadyReportsEachProbe(t *testing.T) {
	code, rep := ready(t, health.Handler{Probes: []health.Probe{fixed("db", nil), fixed("redis", nil)}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", rep.Status)
	require.Equal(t, "ok", rep.Checks["db"].Status)
	require.Equal(t, "ok", rep.Checks["redis"].Status)

	code, rep = ready(t, health.Handler{Probes: []health.Probe{fixed("db", errors.New("db down")), fixed("redis", nil)}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", rep.Status)
	require.Equal(t, "db down", rep.Checks["db"].Error)
	require.Equal(t, "ok", rep.Checks["redis"].Status)
}

func TestReadyProbeTimeout(t *testing.T) {
	slow := health.Probe{Name: "db", Timeout: 20 * time.Millisecond, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	code, rep := ready(t, health.Handler{Probes: []health.Probe{slow}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, context.DeadlineExceeded.Error(), rep.Checks["db"].Error)
}

func TestReadyWhileDrainingOrUnconfigured(t *testing.T) {
	gate := &health.Gate{}
	h := health.Handler{Probes: []health.Probe{fixed("db", nil)}, Gate: gate}

	code, _ := ready(t, h)
	require.Equal(t, http.StatusOK, code)

	gate.Drain()
	require.True(t, gate.Draining())
	code, rep := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", rep.Status)

	code, rep = ready(t, health.Handler{})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unconfigured", rep.Status)

	var nilGate *health.Gate
	require.False(t, nilGate.Draining())
}

func TestBuiltinProbes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	code, rep := ready(t, health.Handler{Probes: []health.Probe{
		health.Redis(client, 100*time.Millisecond),
		health.Postgres(nil, 10*time.Millisecond),
	}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "ok", rep.Checks["redis"].Status)
	require.Equal(t, "db not configured", rep.Checks["db"].Error)
}
