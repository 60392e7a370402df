package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/obs"
)

const maxHashedBody = 1 << 20

// HTTPRecorder audits admin routes after their handler returns.
type HTTPRecorder struct {
	Service *Service
	Logger  zerolog.Logger
}

// HTTPConfig names the audited action for one route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	// Metadata adds route specific fields to the defaults.
	Metadata func(r *http.Request, status int) map[string]any
}

// Middleware records one entry per request. Record failures are logged and
// never change the response.
func (h HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.Service == nil || !h.Service.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			bodyHash := hashBody(r)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			e := FromRequest(r, ww.Status())
			e.Action = cfg.Action
			e.ResourceType = cfg.ResourceType
			if cfg.ResourceIDParam != "" {
				e.ResourceID = chi.URLParam(r, cfg.ResourceIDParam)
			}
			meta := map[string]any{}
			if bodyHash != "" {
				meta["body_sha256"] = bodyHash
			}
			if key := r.Header.Get("Idempotency-Key"); key != "" {
				meta["idempotency_key"] = key
			}
			if r.URL.RawQuery != "" {
				meta["query"] = r.URL.RawQuery
			}
			if cfg.Metadata != nil {
				for k, v := range cfg.Metadata(r, e.Status) {
					meta[k] = v
				}
			}
			if len(meta) > 0 {
				if raw, err := json.Marshal(meta); err == nil {
					e.Metadata = raw
				}
			}

			if err := h.Service.Record(r.Context(), e); err != nil {
				logger := obs.Log(r.Context(), h.Logger)
				logger.Warn().Err(err).Str("action", e.Action).Msg("audit_record_failed")
			}
		})
	}
}

// hashBody digests the request body and puts an equivalent reader back.
func hashBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxHashedBody+1))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	if err != nil || len(raw) == 0 || len(raw) > maxHashedBody {
		return ""
	}
	return common.SHA256Hex(raw)
}
