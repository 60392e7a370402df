package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Roles carried by service tokens.
const (
	RoleIngest = "ingest"
	RoleAdmin  = "admin"
)

const rolesClaim = "roles"

// Tokens issues and verifies HS256 service tokens. Tokens are signed with
// the current secret; secrets listed in PreviousSecrets still verify so a
// rotation does not invalidate tokens already handed out.
type Tokens struct {
	signing  jwk.Key
	keys     jwk.Set
	issuer   string
	audience string
	ttl      time.Duration
	skew     time.Duration
	now      func() time.Time
}

// TokensConfig configures NewTokens.
type TokensConfig struct {
	Secret          string
	PreviousSecrets []string
	Issuer          string
	Audience        string
	TTL             time.Duration
	ClockSkew       time.Duration
	Now             func() time.Time
}

// NewTokens builds the key set and returns a token service.
func NewTokens(cfg TokensConfig) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	signing, err := hmacKey(secret)
	if err != nil {
		return nil, err
	}
	keys := jwk.NewSet()
	if err := keys.AddKey(signing); err != nil {
		return nil, fmt.Errorf("auth: add signing key: %w", err)
	}
	for _, prev := range cfg.PreviousSecrets {
		if prev = strings.TrimSpace(prev); prev == "" || prev == secret {
			continue
		}
		key, err := hmacKey(prev)
		if err != nil {
			return nil, err
		}
		if err := keys.AddKey(key); err != nil {
			return nil, fmt.Errorf("auth: add previous key: %w", err)
		}
	}

	t := &Tokens{
		signing:  signing,
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		skew:     cfg.ClockSkew,
		now:      cfg.Now,
	}
	if t.ttl <= 0 {
		t.ttl = 24 * time.Hour
	}
	if t.skew <= 0 {
		t.skew = 30 * time.Second
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// hmacKey wraps secret as a JWK whose kid is derived from the secret, so
// verification picks the right key without trying each one.
func hmacKey(secret string) (jwk.Key, error) {
	key, err := jwk.FromRaw([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("auth: build key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, common.SHA256Hex([]byte(secret))[:16]); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return nil, err
	}
	return key, nil
}

// Issue signs a token for subject with roles. A non-positive ttl uses the default.
func (t *Tokens) Issue(subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = t.ttl
	}
	now := t.now()
	expiresAt := now.Add(ttl)
	b := jwt.NewBuilder().
		Subject(subject).
		Issuer(t.issuer).
		IssuedAt(now).
		NotBefore(now.Add(-t.skew)).
		Expiration(expiresAt).
		Claim(rolesClaim, roles)
	if t.audience != "" {
		b = b.Audience([]string{t.audience})
	}
	token, err := b.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, t.signing))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies the signature and registered claims of token and returns
// the caller it describes.
func (t *Tokens) Parse(token string) (common.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.Caller{}, unauthorized("UNAUTHORIZED", "missing token", nil)
	}
	opts := []jwt.ParseOption{
		jwt.WithKeySet(t.keys),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(t.now)),
		jwt.WithAcceptableSkew(t.skew),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}
	parsed, err := jwt.ParseString(token, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return common.Caller{}, unauthorized("TOKEN_EXPIRED", "token expired", err)
		}
		return common.Caller{}, unauthorized("UNAUTHORIZED", "invalid token", err)
	}
	return common.Caller{Subject: parsed.Subject(), Roles: rolesFrom(parsed)}, nil
}

func rolesFrom(tok jwt.Token) []string {
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return nil
	}
	var roles []string
	switch v := raw.(type) {
	case []string:
		roles = append(roles, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
	case string:
		roles = strings.Fields(v)
	}
	return roles
}

func unauthorized(code, message string, err error) error {
	return common.NewAppError(code, message, http.StatusUnauthorized, err)
}
