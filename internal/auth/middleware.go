package auth

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Middleware wires service token authentication into HTTP handlers.
type Middleware struct {
	Tokens *Tokens
}

// RequireAuth enforces that a valid bearer token is present and stores the caller
// on the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			common.JSONError(w, http.StatusInternalServerError, "AUTH_NOT_CONFIGURED", "authentication unavailable", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		caller, err := m.Tokens.Parse(token)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithCaller(r.Context(), caller)))
	})
}

// RequireRole rejects callers lacking role. The admin role satisfies every check.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := common.CallerFrom(r.Context())
			if !ok {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}
			if !caller.HasRole(role) && !caller.HasRole(RoleAdmin) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "token lacks required role", map[string]string{"role": role})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
