package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	cases := map[string]struct {
		inbound string
		keep    bool
	}{
		"none":          {inbound: "", keep: false},
		"well formed":   {inbound: "req-2024.03.01_0001", keep: true},
		"too short":     {inbound: "abc", keep: false},
		"too long":      {inbound: strings.Repeat("a", 129), keep: false},
		"header inject": {inbound: "abcdefgh\r\nX-Evil: 1", keep: false},
		"spaces":        {inbound: "abcd efgh ijkl", keep: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.inbound != "" {
				r.Header[HeaderRequestID] = []string{tc.inbound}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
			if tc.keep {
				assert.Equal(t, tc.inbound, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := RequestID(SecurityHeaders(okHandler()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assertSecurityHeaders(t, w)
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:52000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.Header.Set("X-Real-IP", "203.0.113.9")

	assert.Equal(t, "192.0.2.10", ClientIP(r))
	assert.Equal(t, "192.0.2.10", KeyFuncFor(false)(r), "proxy headers ignored unless trusted")
	assert.Equal(t, "203.0.113.7", KeyFuncFor(true)(r))

	r.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "203.0.113.9", ForwardedClientIP(r))

	r.Header.Del("X-Real-IP")
	assert.Equal(t, "192.0.2.10", ForwardedClientIP(r))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(r))
}

func TestRecovery(t *testing.T) {
	logger, logs := observed()
	h := RequestID(Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "Internal server error", env.Error)
	assert.Equal(t, w.Header().Get(HeaderRequestID), env.RequestID)
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["panic"])
}
