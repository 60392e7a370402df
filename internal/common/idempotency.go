package common

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idem guards write endpoints that receive an Idempotency-Key header. The first request
// for a key runs; later requests get 409 with the original status, or
// IDEMPOTENCY_IN_PROGRESS while the first one is still running. A 5xx outcome releases the
// key so the caller can retry.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// idemKey scopes the header per caller and route so two services cannot collide.
func idemKey(r *http.Request, header string) string {
	scope := strings.Join([]string{Subject(r.Context()), r.Method, r.URL.Path, header}, "|")
	return "idem:" + SHA256Hex([]byte(scope))
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusCapture) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

// Middleware implements chi middleware.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) > 255 {
			JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Idempotency-Key too long", nil)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		key := idemKey(r, header)
		ok, err := i.R.SetNX(r.Context(), key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replayed(w, r, key)
			return
		}

		sc := &statusCapture{ResponseWriter: w}
		completed := false
		defer func() {
			// a panic or a server error frees the key for a retry
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if !completed || sc.status >= http.StatusInternalServerError {
				_ = i.R.Del(ctx, key).Err()
				return
			}
			_ = i.R.SetArgs(ctx, key, strconv.Itoa(sc.status), redis.SetArgs{KeepTTL: true}).Err()
		}()
		next.ServeHTTP(sc, r)
		if sc.status == 0 {
			sc.status = http.StatusOK
		}
		completed = true
	})
}

func (i Idem) replayed(w http.ResponseWriter, r *http.Request, key string) {
	val, err := i.R.Get(r.Context(), key).Result()
	if err != nil || val == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "request with this key is still running", nil)
		return
	}
	details := map[string]any{}
	if status, convErr := strconv.Atoi(val); convErr == nil {
		details["status"] = status
	}
	JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", details)
}
