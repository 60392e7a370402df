package obs

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type routeKey struct{}

// WithRoute stores the matched route pattern on ctx.
func WithRoute(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routeKey{}, pattern)
}

// Route returns the route pattern recorded by RouteMiddleware, then chi's own route context.
// Empty when the request did not match a route.
func Route(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routeKey{}).(string); ok && v != "" {
		return v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// TraceIDs returns the trace and span id of the active span.
func TraceIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// Log enriches logger with the request id and trace id carried by ctx so service logs
// can be joined with request logs.
func Log(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	lc := logger.With()
	if id := middleware.GetReqID(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if traceID, _ := TraceIDs(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	return lc.Logger()
}
