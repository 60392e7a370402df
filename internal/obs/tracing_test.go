package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/noah-isme/backend-revshare/internal/obs"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{ServiceName: "revshare", Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = obs.InitTracer(context.Background(), obs.TracingConfig{ServiceName: "revshare", Exporter: "zipkin"})
	require.Error(t, err)
}

func TestTracingMiddlewareContinuesRemoteTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	var traceID string
	h := obs.TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, _ = obs.TraceIDs(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/stripe", nil)
	req.Header.Set("traceparent", parent)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}
