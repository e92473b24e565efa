package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler("1.2.3", nil, CheckFunc("postgres", func(context.Context) error {
		return stderrors.New("down")
	}))
	w := httptest.NewRecorder()
	h.Liveness(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code, "liveness ignores dependencies")
	var body LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alive", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestHealthHandler_Readiness(t *testing.T) {
	healthy := CheckFunc("redis", func(context.Context) error { return nil })
	failing := CheckFunc("postgres", func(context.Context) error {
		return stderrors.New("dial tcp 10.0.0.5:5432: connection refused")
	})

	cases := map[string]struct {
		checkers []HealthChecker
		code     int
		status   string
	}{
		"no checkers": {code: http.StatusOK, status: "ready"},
		"all healthy": {checkers: []HealthChecker{healthy}, code: http.StatusOK, status: "ready"},
		"one failing": {checkers: []HealthChecker{healthy, failing}, code: http.StatusServiceUnavailable, status: "not_ready"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			h := NewHealthHandler("dev", logging.NewLoggerFromCore(core), tc.checkers...)
			w := httptest.NewRecorder()
			h.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Len(t, body.Components, len(tc.checkers))
			assert.NotContains(t, w.Body.String(), "10.0.0.5", "failure detail stays in the log")

			if tc.code != http.StatusOK {
				assert.Equal(t, "unhealthy", body.Components["postgres"].Status)
				assert.Equal(t, "healthy", body.Components["redis"].Status)
				require.Equal(t, 1, logs.FilterMessage("readiness check failed").Len())
			}
		})
	}
}

func TestHealthHandler_ReadinessHonoursTimeout(t *testing.T) {
	h := NewHealthHandler("dev", nil, CheckFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.timeout = 0

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
