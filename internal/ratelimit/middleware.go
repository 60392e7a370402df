package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/obs"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	// Scope labels metrics and log lines, e.g. "ingest".
	Scope  string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces a limit before delegating to the next handler. Limiter
// failures let the request through.
type Handler struct {
	Limiter Limiter
	Config  Config
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			obs.Inc(obs.RateLimitTotal, h.Config.Scope, "error")
			logger := obs.Log(r.Context(), h.Logger)
			logger.Warn().Err(err).Str("scope", h.Config.Scope).Msg("rate_limiter_unavailable")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(d.Limit, 0)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if d.Allowed {
			obs.Inc(obs.RateLimitTotal, h.Config.Scope, "allowed")
			next.ServeHTTP(w, r)
			return
		}

		obs.Inc(obs.RateLimitTotal, h.Config.Scope, "limited")
		headers.Set("Retry-After", strconv.Itoa(h.retryAfter(d.Reset)))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded",
			map[string]any{"scope": h.Config.Scope, "limit": d.Limit})
	})
}

// retryAfter rounds up to whole seconds, never below one.
func (h Handler) retryAfter(reset time.Time) int {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	return max(secs, 1)
}

// BySubject keys requests by the authenticated caller, falling back to the client IP.
func BySubject(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		if subject := strings.TrimSpace(common.Subject(r.Context())); subject != "" {
			return scope + ":sub:" + subject
		}
		return scope + ":ip:" + common.ClientIP(r)
	}
}

// ByIP keys requests by client IP only.
func ByIP(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		return scope + ":ip:" + common.ClientIP(r)
	}
}
