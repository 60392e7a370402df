package obs

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
	wrote  bool
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wrote = true
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func routeOr(r *http.Request, fallback string) string {
	if route := Route(r.Context()); route != "" {
		return route
	}
	return fallback
}

// HTTPObs records request counts, latency, in-flight requests and response sizes.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

// Middleware implements chi middleware.
func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	m := o.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapWriter(w)
		m.InFlight.Inc()
		defer m.InFlight.Dec()
		start := time.Now()
		next.ServeHTTP(sw, r)

		route := routeOr(r, "unmatched")
		m.Requests.WithLabelValues(r.Method, route, StatusClass(sw.status)).Inc()
		m.Latency.WithLabelValues(r.Method, route).Observe(DurationMillis(time.Since(start)))
		if m.BodyBytes != nil {
			m.BodyBytes.WithLabelValues(route).Observe(float64(sw.bytes))
		}
	})
}

// TracingMiddleware starts a server span per request, continuing any trace propagated by
// the caller through W3C headers.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("revshare/http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		sw := wrapWriter(w)
		next.ServeHTTP(sw, r.WithContext(ctx))

		route := routeOr(r.WithContext(ctx), r.URL.Path)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("url.path", r.URL.Path),
			attribute.Int("http.response.status_code", sw.status),
			attribute.Int64("http.response.body.size", sw.bytes),
		)
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}
