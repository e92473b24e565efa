package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists exact origins, "*" for any, or "*.example.com"
	// when AllowWildcard is set.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge        int
	AllowWildcard bool
}

// DefaultCORSConfig allows no origins until some are configured.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderRequestID},
		ExposedHeaders: []string{
			HeaderRequestID,
			HeaderRateLimitLimit,
			HeaderRateLimitRemaining,
			HeaderRateLimitReset,
			"Retry-After",
		},
		MaxAge: 86400,
	}
}

// CORS answers preflights and tags responses for allowed origins. Requests
// from other origins pass through untagged and the browser blocks them.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	allowedMethods := strings.Join(config.AllowedMethods, ", ")
	allowedHeaders := strings.Join(config.AllowedHeaders, ", ")
	exposedHeaders := strings.Join(config.ExposedHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	exact := make(map[string]bool, len(config.AllowedOrigins))
	var suffixes []string
	allowAll := false
	for _, origin := range config.AllowedOrigins {
		switch {
		case origin == "*":
			allowAll = true
		case config.AllowWildcard && strings.HasPrefix(origin, "*."):
			suffixes = append(suffixes, strings.ToLower(origin[1:]))
		default:
			exact[strings.ToLower(origin)] = true
		}
	}

	allowed := func(origin string) bool {
		if allowAll {
			return true
		}
		o := strings.ToLower(origin)
		if exact[o] {
			return true
		}
		for _, s := range suffixes {
			if strings.HasSuffix(o, s) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if allowAll && !config.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if config.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				SetSecurityHeaders(h, "")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if exposedHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposedHeaders)
			}
			next.ServeHTTP(w, r)
		})
	}
}
