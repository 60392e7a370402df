package security

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// BodyLimit caps request bodies at Max bytes. Paths matching a key of
// Overrides by prefix use that limit instead. Accepted bodies are buffered,
// so handlers may read them more than once through GetBody.
type BodyLimit struct {
	Max       int64
	Overrides map[string]int64
}

func (b BodyLimit) limitFor(path string) int64 {
	limit, longest := b.Max, -1
	for prefix, v := range b.Overrides {
		if strings.HasPrefix(path, prefix) && len(prefix) > longest {
			limit, longest = v, len(prefix)
		}
	}
	return limit
}

// Middleware answers 413 PAYLOAD_TOO_LARGE for oversized bodies.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := b.limitFor(r.URL.Path)
		if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			tooLarge(w, limit)
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				tooLarge(w, limit)
				return
			}
			common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(raw)), nil }
		r.ContentLength = int64(len(raw))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter, limit int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large",
		map[string]int64{"maxBytes": limit})
}

// RequireJSON answers 415 for requests that carry a body with a media type
// other than application/json.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || (mt != "application/json" && !strings.HasSuffix(mt, "+json")) {
			common.JSONError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE",
				"request body must be application/json", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
