package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address. RemoteAddr is authoritative because chi's RealIP
// middleware has already applied X-Forwarded-For and X-Real-IP at the edge; the forwarding
// headers are read only when RemoteAddr is not an address.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip, ok := parseIP(r.RemoteAddr); ok {
		return ip
	}
	for _, header := range []string{"X-Real-IP", "X-Forwarded-For"} {
		first, _, _ := strings.Cut(r.Header.Get(header), ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func parseIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
