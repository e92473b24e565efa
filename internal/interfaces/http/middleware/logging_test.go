package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

func observed() (logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.NewLoggerFromCore(core), logs
}

func TestRequestLogging_Levels(t *testing.T) {
	cases := map[string]struct {
		status int
		sleep  time.Duration
		msg    string
		level  zapcore.Level
	}{
		"ok":           {status: http.StatusOK, msg: "request completed", level: zapcore.InfoLevel},
		"client error": {status: http.StatusNotFound, msg: "request completed", level: zapcore.InfoLevel},
		"server error": {status: http.StatusBadGateway, msg: "request completed with server error", level: zapcore.ErrorLevel},
		"slow":         {status: http.StatusOK, sleep: 20 * time.Millisecond, msg: "slow request", level: zapcore.WarnLevel},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			logger, logs := observed()
			cfg := LoggingConfig{SlowThreshold: 10 * time.Millisecond}
			h := RequestLogging(logger, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tc.sleep)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("body"))
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tc.msg, entries[0].Message)
			assert.Equal(t, tc.level, entries[0].Level)
			fields := entries[0].ContextMap()
			assert.Equal(t, int64(tc.status), fields["status"])
			assert.Equal(t, int64(4), fields["bytes"])
			assert.Equal(t, "/metrics", fields["path"])
		})
	}
}

func TestRequestLogging_SkipsProbes(t *testing.T) {
	logger, logs := observed()
	h := RequestLogging(logger, DefaultLoggingConfig())(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Zero(t, logs.Len())
}

func TestRequestLogging_CarriesRequestID(t *testing.T) {
	logger, logs := observed()
	h := RequestID(RequestLogging(logger, DefaultLoggingConfig())(okHandler()))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, w.Header().Get(HeaderRequestID), logs.All()[0].ContextMap()["request_id"])
}

func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte("abc"))

	assert.Equal(t, http.StatusAccepted, rec.status)
	assert.Equal(t, int64(3), rec.bytes)
	assert.NotPanics(t, rec.Flush)
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}
