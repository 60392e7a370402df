package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/auth"
	"github.com/noah-isme/backend-revshare/internal/common"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTokens(t *testing.T, now time.Time) *auth.Tokens {
	t.Helper()
	tokens, err := auth.NewTokens(auth.TokensConfig{
		Secret:   testSecret,
		Issuer:   "revshare",
		Audience: "revshare-api",
		TTL:      time.Hour,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return tokens
}

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	tokens := newTokens(t, now)

	signed, expires, err := tokens.Issue("checkout-service", []string{auth.RoleIngest}, 0)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), expires, time.Second)

	caller, err := tokens.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "checkout-service", caller.Subject)
	require.Equal(t, []string{auth.RoleIngest}, caller.Roles)
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Now()
	issuer := newTokens(t, now.Add(-2*time.Hour))
	signed, _, err := issuer.Issue("svc", []string{auth.RoleIngest}, time.Minute)
	require.NoError(t, err)

	_, err = newTokens(t, now).Parse(signed)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)

	other, err := auth.NewTokens(auth.TokensConfig{Secret: testSecret, Issuer: "someone-else", Audience: "revshare-api"})
	require.NoError(t, err)
	signed, _, err = other.Issue("svc", nil, time.Minute)
	require.NoError(t, err)
	_, err = newTokens(t, now).Parse(signed)
	require.Error(t, err)

	built, err := jwt.NewBuilder().Subject("svc").Issuer("revshare").Audience([]string{"revshare-api"}).
		IssuedAt(now).Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	hs384, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, []byte(testSecret)))
	require.NoError(t, err)
	_, err = newTokens(t, now).Parse(string(hs384))
	require.Error(t, err)

	_, err = newTokens(t, now).Parse("not-a-token")
	require.Error(t, err)
}

func TestParseExpiredUsesDedicatedCode(t *testing.T) {
	now := time.Now()
	signed, _, err := newTokens(t, now.Add(-3*time.Hour)).Issue("svc", []string{auth.RoleIngest}, time.Hour)
	require.NoError(t, err)

	_, err = newTokens(t, now).Parse(signed)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "TOKEN_EXPIRED", appErr.Code)
}

func TestParseAcceptsPreviousSecretAfterRotation(t *testing.T) {
	now := time.Now()
	old := newTokens(t, now)
	signed, _, err := old.Issue("svc", []string{auth.RoleAdmin}, 0)
	require.NoError(t, err)

	const rotated = "fedcba9876543210fedcba9876543210"
	cfg := auth.TokensConfig{Secret: rotated, Issuer: "revshare", Audience: "revshare-api", Now: func() time.Time { return now }}
	withoutPrevious, err := auth.NewTokens(cfg)
	require.NoError(t, err)
	_, err = withoutPrevious.Parse(signed)
	require.Error(t, err)

	cfg.PreviousSecrets = []string{" ", testSecret}
	withPrevious, err := auth.NewTokens(cfg)
	require.NoError(t, err)
	caller, err := withPrevious.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "svc", caller.Subject)

	fresh, _, err := withPrevious.Issue("svc", nil, 0)
	require.NoError(t, err)
	_, err = old.Parse(fresh)
	require.Error(t, err)
}

func TestParseRequiresSubjectClaim(t *testing.T) {
	now := time.Now()
	built, err := jwt.NewBuilder().Issuer("revshare").Audience([]string{"revshare-api"}).
		IssuedAt(now).Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	key, err := jwk.FromRaw([]byte(testSecret))
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, common.SHA256Hex([]byte(testSecret))[:16]))
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS256, key))
	require.NoError(t, err)

	_, err = newTokens(t, now).Parse(string(signed))
	require.Error(t, err)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := auth.NewTokens(auth.TokensConfig{})
	require.Error(t, err)
}

func TestMiddlewareRoles(t *testing.T) {
	now := time.Now()
	tokens := newTokens(t, now)
	mw := auth.Middleware{Tokens: tokens}

	var seen common.Caller
	handler := mw.RequireAuth(auth.RequireRole(auth.RoleIngest)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.CallerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/revenue/ingest", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusUnauthorized, call(""))
	require.Equal(t, http.StatusUnauthorized, call("garbage"))

	ingest, _, err := tokens.Issue("checkout", []string{auth.RoleIngest}, 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, call(ingest))
	require.Equal(t, "checkout", seen.Subject)

	reader, _, err := tokens.Issue("dashboard", []string{"reports"}, 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, call(reader))

	admin, _, err := tokens.Issue("ops", []string{auth.RoleAdmin}, 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, call(admin))
}
