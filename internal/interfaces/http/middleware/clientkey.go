package middleware

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the rate-limit key of a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys by the connection's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedClientIP keys by the first X-Forwarded-For hop, then X-Real-IP,
// then the remote address. Only use it behind a proxy that sets the header.
func ForwardedClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return ClientIP(r)
}

// KeyFuncFor picks the key function for the proxy setting.
func KeyFuncFor(trustProxyHeaders bool) KeyFunc {
	if trustProxyHeaders {
		return ForwardedClientIP
	}
	return ClientIP
}
