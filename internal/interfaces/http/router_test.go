package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/handlers"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/middleware"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/detector"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/security/ratelimit"
	"github.com/turtacn/ConstructOps/internal/storage"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

const (
	projectA   = "5b1c3f0e-8d2a-4c61-9e47-0a6f2d9b1c01"
	projectB   = "5b1c3f0e-8d2a-4c61-9e47-0a6f2d9b1c02"
	taskID     = "8e0d7a52-1f3b-4b9c-a6d4-3c2e1f0a9b11"
	purchaseID = "c4a9e3d1-6b7f-4e2a-8c5d-9f1b0e2d3a21"
)

type executorSpy struct {
	mu    sync.Mutex
	calls []query.Instructions
}

func (e *executorSpy) Execute(_ context.Context, in query.Instructions) (storage.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, in)
	return storage.Result{Rows: []map[string]any{{"id": "row-1"}}, Count: 1}, nil
}

func (e *executorSpy) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// memberOf allows access to the projects in allowed and to rows of any
// other resource.
type memberOf map[string]bool

func (m memberOf) CanAccess(_ context.Context, _ *auth.RequestContext, resource, id string) (bool, error) {
	if resource != query.EntityProjects {
		return true, nil
	}
	return m[id], nil
}

var identities = map[string]*auth.Identity{
	"pm":     {User: &auth.User{ID: "u-pm", Role: string(authz.RoleProjectManager)}},
	"client": {User: &auth.User{ID: "u-client", Role: string(authz.RoleClient)}},
}

type routerFixture struct {
	exec    *executorSpy
	handler http.Handler
}

func newRouterFixture(t *testing.T, cors *middleware.CORSConfig) *routerFixture {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "router_test"}, nil)
	require.NoError(t, err)

	access := memberOf{projectA: true}
	guard, err := middleware.NewGuard(middleware.GuardConfig{
		Limiter:  ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		Policy:   ratelimit.StaticPolicy(ratelimit.Policy{Window: time.Minute, Max: 1000}),
		Detector: detector.New(),
		Authenticator: auth.AuthenticatorFunc(func(_ context.Context, r *http.Request) (*auth.Identity, error) {
			if id, ok := identities[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]; ok {
				return id, nil
			}
			return nil, errors.Unauthorized("Authentication required")
		}),
		Access:  access,
		Metrics: prometheus.NewSecurityMetrics(collector),
	})
	require.NoError(t, err)

	f := &routerFixture{exec: &executorSpy{}}
	f.handler = NewRouter(RouterConfig{
		Guard:       guard,
		Executor:    f.exec,
		Access:      access,
		WritePolicy: &ratelimit.Policy{Window: time.Minute, Max: 2},
		Health:      handlers.NewHealthHandler("test", nil),
		Metrics:     collector,
		CORS:        cors,
		Logging:     middleware.DefaultLoggingConfig(),
	})
	return f
}

func (f *routerFixture) do(method, target, token, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestRouter_OpsEndpointsArePublic(t *testing.T) {
	f := newRouterFixture(t, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := f.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID), path)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"), path)
	}
}

func TestRouter_MetricsExposeGuardSeries(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.do(http.MethodGet, "/api/v1/projects", "pm", "")

	w := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `router_test_guard_requests_total{outcome="ok",route="projects.list"} 1`)
}

func TestRouter_ResourceRoutes(t *testing.T) {
	f := newRouterFixture(t, nil)

	cases := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, "/api/v1/projects", "", http.StatusOK},
		{http.MethodGet, "/api/v1/projects/" + projectA, "", http.StatusOK},
		{http.MethodPatch, "/api/v1/projects/" + projectA, `{"status":"on_hold"}`, http.StatusOK},
		{http.MethodGet, "/api/v1/projects/" + projectA + "/tasks", "", http.StatusOK},
		{http.MethodPost, "/api/v1/projects/" + projectA + "/tasks", `{"title":"Pour slab"}`, http.StatusCreated},
		{http.MethodGet, "/api/v1/tasks/" + taskID, "", http.StatusOK},
		{http.MethodDelete, "/api/v1/tasks/" + taskID, "", http.StatusNoContent},
		{http.MethodGet, "/api/v1/material-specs", "", http.StatusOK},
		{http.MethodGet, "/api/v1/shop-drawings", "", http.StatusOK},
		{http.MethodGet, "/api/v1/field-reports", "", http.StatusOK},
		{http.MethodGet, "/api/v1/suppliers", "", http.StatusOK},
		{http.MethodGet, "/api/v1/purchase-requests", "", http.StatusOK},
	}
	for _, tc := range cases {
		w := f.do(tc.method, tc.target, "pm", tc.body)
		assert.Equal(t, tc.want, w.Code, "%s %s: %s", tc.method, tc.target, w.Body.String())
	}
	assert.Equal(t, len(cases), f.exec.count())
}

func TestRouter_UnknownAndUnsupported(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodGet, "/api/v1/molecules", "pm", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var env middleware.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "Resource not found", env.Error)
	assert.Equal(t, w.Header().Get(middleware.HeaderRequestID), env.RequestID)

	// field reports have no delete permission, so no delete route
	w = f.do(http.MethodDelete, "/api/v1/field-reports/r-1", "pm", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// tasks are listed only under their project
	w = f.do(http.MethodGet, "/api/v1/tasks", "pm", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, f.exec.count())
}

func TestRouter_GuardApplies(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodGet, "/api/v1/projects", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/v1/purchase-requests/"+purchaseID+"/approve", "client", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/api/v1/projects/"+projectB+"/tasks", "pm", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	var env middleware.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "Access denied", env.Error)

	w = f.do(http.MethodPost, "/api/v1/projects/"+projectA+"/tasks", "pm", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, f.exec.count())
}

func TestRouter_MalformedIDsAreNotFound(t *testing.T) {
	f := newRouterFixture(t, nil)

	for _, target := range []string{
		"/api/v1/projects/not-a-uuid",
		"/api/v1/projects/not-a-uuid/tasks",
		"/api/v1/tasks/42",
		"/api/v1/material-specs/" + taskID + "x",
	} {
		w := f.do(http.MethodGet, target, "pm", "")
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		var env middleware.ErrorEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.Equal(t, "Resource not found", env.Error, target)
	}
	assert.Zero(t, f.exec.count())

	// the id check runs after authentication
	w := f.do(http.MethodGet, "/api/v1/projects/not-a-uuid", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_WritePolicyPerRoute(t *testing.T) {
	f := newRouterFixture(t, nil)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPatch, "/api/v1/projects/"+projectA, "pm", `{"status":"active"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(http.MethodPatch, "/api/v1/projects/"+projectA, "pm", `{"status":"active"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = f.do(http.MethodGet, "/api/v1/projects/"+projectA, "pm", "")
	assert.Equal(t, http.StatusOK, w.Code, "reads use the guard-wide bucket")
}

func TestRouter_CORS(t *testing.T) {
	cfg := middleware.DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://app.constructops.example"}
	f := newRouterFixture(t, &cfg)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	r.Header.Set("Origin", "https://app.constructops.example")
	r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.constructops.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, f.exec.count())
}
