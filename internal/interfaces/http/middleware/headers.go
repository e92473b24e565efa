package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

// SetSecurityHeaders writes the fixed security header set and the request id.
func SetSecurityHeaders(h http.Header, requestID string) {
	for _, kv := range securityHeaders {
		h.Set(kv[0], kv[1])
	}
	if requestID != "" {
		h.Set(HeaderRequestID, requestID)
	}
}

// SecurityHeaders applies SetSecurityHeaders to routes outside the Guard.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w.Header(), RequestIDFromContext(r.Context()))
		next.ServeHTTP(w, r)
	})
}

// inboundRequestID bounds what a client may supply as its own request id.
var inboundRequestID = regexp.MustCompile(`^[A-Za-z0-9._\-]{8,128}$`)

type requestIDKey struct{}

// RequestID accepts a well-formed inbound X-Request-ID or mints a UUID, and
// stores it in the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if !inboundRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDFor(r *http.Request) string {
	if id := RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
