package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SignHMAC returns the hex HMAC-SHA256 of parts joined by '.', keyed by secret.
func SignHMAC(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for i, p := range parts {
		if i > 0 {
			_, _ = mac.Write([]byte{'.'})
		}
		_, _ = mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHex compares two hex digests in constant time, ignoring case and surrounding space.
// Empty digests never match.
func EqualHex(expected, provided string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	provided = strings.ToLower(strings.TrimSpace(provided))
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
