package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// DefaultSlowThreshold is used when no slow-request threshold is configured.
const DefaultSlowThreshold = time.Second

// LoggingConfig holds configuration for the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are not logged, e.g. probes.
	SkipPaths     []string
	SlowThreshold time.Duration
}

// DefaultLoggingConfig skips the probe endpoints.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz"},
		SlowThreshold: DefaultSlowThreshold,
	}
}

// statusRecorder captures the status code and bytes written.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Hijack implements http.Hijacker.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLog is one finished request as written to the log.
type requestLog struct {
	Method    string
	Path      string
	Route     string
	RequestID string
	UserID    string
	Role      string
	Status    int
	Bytes     int64
	Duration  time.Duration
}

// logRequest writes entry at ERROR for 5xx, WARN for slow requests and INFO
// otherwise.
func logRequest(logger logging.Logger, entry requestLog, slow time.Duration) {
	fields := []logging.Field{
		logging.String("method", entry.Method),
		logging.String("path", entry.Path),
		logging.Int("status", entry.Status),
		logging.Duration("duration", entry.Duration),
		logging.Int64("bytes", entry.Bytes),
		logging.String("request_id", entry.RequestID),
	}
	if entry.Route != "" {
		fields = append(fields, logging.String("route", entry.Route))
	}
	if entry.UserID != "" {
		fields = append(fields, logging.String("user_id", entry.UserID), logging.String("role", entry.Role))
	}

	switch {
	case entry.Status >= http.StatusInternalServerError:
		logger.Error("request completed with server error", fields...)
	case slow > 0 && entry.Duration >= slow:
		logger.Warn("slow request", append(fields, logging.Duration("threshold", slow))...)
	default:
		logger.Info("request completed", fields...)
	}
}

// RequestLogging logs requests that do not pass through a Guard.
func RequestLogging(logger logging.Logger, config LoggingConfig) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)
			logRequest(logger, requestLog{
				Method:    r.Method,
				Path:      r.URL.Path,
				RequestID: RequestIDFromContext(r.Context()),
				Status:    rec.status,
				Bytes:     rec.bytes,
				Duration:  time.Since(start),
			}, config.SlowThreshold)
		})
	}
}
