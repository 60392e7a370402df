package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// NewLogger builds the process logger. format is json (default) or console; unknown levels
// fall back to info.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(logWriter(format, os.Stdout)).With().Timestamp().Logger()
}

func logWriter(format string, out io.Writer) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text", "pretty":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return out
	}
}

// RequestLogger writes one structured line per request. Paths listed in Quiet (health
// probes, metrics scrapes) are logged at debug unless they fail.
type RequestLogger struct {
	Logger zerolog.Logger
	Quiet  []string
}

func (l RequestLogger) level(path string, status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status == http.StatusTooManyRequests:
		return zerolog.WarnLevel
	}
	for _, q := range l.Quiet {
		if path == q {
			return zerolog.DebugLevel
		}
	}
	return zerolog.InfoLevel
}

// Middleware implements chi middleware.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapWriter(w)
		start := time.Now()
		next.ServeHTTP(sw, r)

		traceID, spanID := TraceIDs(r.Context())
		evt := l.Logger.WithLevel(l.level(r.URL.Path, sw.status)).
			Str("method", r.Method).
			Str("route", routeOr(r, r.URL.Path)).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int64("bytes", sw.bytes).
			Str("request_id", middleware.GetReqID(r.Context()))
		if traceID != "" {
			evt = evt.Str("trace_id", traceID).Str("span_id", spanID)
		}
		if ip := common.ClientIP(r); ip != "" {
			evt = evt.Str("client_ip", ip)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
			evt = evt.Str("idempotency_key", key)
		}
		evt.Msg("http_request")
	})
}
