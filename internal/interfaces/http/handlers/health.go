package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// DefaultReadinessTimeout bounds one readiness round.
const DefaultReadinessTimeout = 5 * time.Second

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type namedCheck struct {
	name  string
	check func(ctx context.Context) error
}

func (c namedCheck) Name() string                    { return c.name }
func (c namedCheck) Check(ctx context.Context) error { return c.check(ctx) }

// CheckFunc adapts a ping function such as a connection health check.
func CheckFunc(name string, check func(ctx context.Context) error) HealthChecker {
	return namedCheck{name: name, check: check}
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	timeout  time.Duration
	logger   logging.Logger
}

// NewHealthHandler creates a HealthHandler over checkers.
func NewHealthHandler(version string, logger logging.Logger, checkers ...HealthChecker) *HealthHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
		timeout:  DefaultReadinessTimeout,
		logger:   logger,
	}
}

// LivenessResponse is the body of GET /healthz.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// ComponentCheck is the state of one dependency. Errors stay in the log.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
}

// Liveness always answers 200 while the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness answers 503 when any dependency fails its check.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if len(h.checkers) == 0 {
		writeProbe(w, http.StatusOK, ReadinessResponse{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := ReadinessResponse{Status: "ready", Components: h.checkAll(ctx)}
	code := http.StatusOK
	for _, c := range resp.Components {
		if c.Status != "healthy" {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeProbe(w, code, resp)
}

// checkAll runs every checker concurrently.
func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			cc := ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(start).Truncate(time.Microsecond).String(),
			}
			if err != nil {
				cc.Status = "unhealthy"
				h.logger.Warn("readiness check failed",
					logging.String("component", c.Name()),
					logging.Err(err),
				)
			}

			mu.Lock()
			results[c.Name()] = cc
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

func writeProbe(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
