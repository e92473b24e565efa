package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/handlers"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/middleware"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/security/ratelimit"
	"github.com/turtacn/ConstructOps/internal/security/validation"
	"github.com/turtacn/ConstructOps/internal/storage"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// APIPrefix is where resources are mounted.
const APIPrefix = "/api/v1"

// RouterConfig aggregates what the route tree needs.
type RouterConfig struct {
	Guard    *middleware.Guard
	Executor storage.Executor
	// Access, when set, enables per-project row checks on item routes and
	// nested collections. The Guard must be built with the same checker.
	Access middleware.AccessChecker
	// Resources defaults to handlers.Resources().
	Resources []handlers.Resource
	Registry  *query.Registry
	// WritePolicy, when set, gives each mutating route its own bucket.
	WritePolicy *ratelimit.Policy

	Health  *handlers.HealthHandler
	Metrics prometheus.MetricsCollector
	// MetricsPath defaults to config.DefaultMetricsPath.
	MetricsPath string
	CORS    *middleware.CORSConfig
	Logging middleware.LoggingConfig
	Logger  logging.Logger
}

// NewRouter builds the route tree: probes and metrics outside the Guard,
// every resource route inside it.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Resources == nil {
		cfg.Resources = handlers.Resources()
	}
	if cfg.Registry == nil {
		cfg.Registry = query.DefaultRegistry()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = config.DefaultMetricsPath
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.CORS != nil && len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	r.Use(middleware.SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, middleware.RequestIDFromContext(req.Context()), time.Now(),
			errors.NotFound(errors.DefaultMessageForCode(errors.ErrCodeNotFound)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, middleware.RequestIDFromContext(req.Context()), time.Now(),
			errors.New(errors.ErrCodeMethodNotAllowed, errors.DefaultMessageForCode(errors.ErrCodeMethodNotAllowed)))
	})

	r.Group(func(ops chi.Router) {
		ops.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))
		if cfg.Health != nil {
			ops.Get("/healthz", cfg.Health.Liveness)
			ops.Get("/readyz", cfg.Health.Readiness)
		}
		if cfg.Metrics != nil {
			ops.Handle(cfg.MetricsPath, cfg.Metrics.Handler())
		}
	})

	if cfg.Guard != nil && cfg.Executor != nil {
		r.Route(APIPrefix, func(api chi.Router) {
			for _, res := range cfg.Resources {
				opts := []handlers.Option{handlers.WithRegistry(cfg.Registry), handlers.WithLogger(cfg.Logger)}
				if cfg.Access != nil {
					opts = append(opts, handlers.WithProjectAccess(cfg.Access))
				}
				h := handlers.NewResourceHandler(res, cfg.Executor, opts...)
				mountResource(api, cfg, h)
			}
		})
	}
	return r
}

func urlParam(name string) func(*http.Request) string {
	return func(r *http.Request) string { return chi.URLParam(r, name) }
}

// mountResource registers the routes of one resource. A scoped resource
// lists and creates under its parent and serves items at the top level.
func mountResource(api chi.Router, cfg RouterConfig, h *handlers.ResourceHandler) {
	res := h.Resource()
	g := cfg.Guard

	var itemAccess, collectionAccess *middleware.AccessRule
	if cfg.Access != nil {
		itemAccess = &middleware.AccessRule{Resource: res.Entity, ID: urlParam(handlers.ParamID), Valid: validation.IsUUID}
		if res.Scope != nil {
			collectionAccess = &middleware.AccessRule{
				Resource: query.EntityProjects, ID: urlParam(res.Scope.Param), Valid: validation.IsUUID,
			}
		}
	}

	list := g.Wrap(middleware.RouteConfig{
		Name: res.Name + ".list", Permission: res.Read, Access: collectionAccess, Query: handlers.ListQuery,
	}, h.List)
	create := g.Wrap(middleware.RouteConfig{
		Name: res.Name + ".create", Permission: res.Write, Access: collectionAccess, Body: res.Create,
		RateLimit: cfg.WritePolicy,
	}, h.Create)

	if res.Scope != nil {
		api.Route("/projects/{"+res.Scope.Param+"}/"+res.Name, func(c chi.Router) {
			c.Get("/", list.ServeHTTP)
			c.Post("/", create.ServeHTTP)
		})
	}

	api.Route("/"+res.Name, func(c chi.Router) {
		if res.Scope == nil {
			c.Get("/", list.ServeHTTP)
			c.Post("/", create.ServeHTTP)
		}
		c.Route("/{"+handlers.ParamID+"}", func(item chi.Router) {
			item.Method(http.MethodGet, "/", g.Wrap(middleware.RouteConfig{
				Name: res.Name + ".get", Permission: res.Read, Access: itemAccess, Query: handlers.ItemQuery,
			}, h.Get))
			item.Method(http.MethodPatch, "/", g.Wrap(middleware.RouteConfig{
				Name: res.Name + ".update", Permission: res.Write, Access: itemAccess, Body: res.Update,
				RateLimit: cfg.WritePolicy,
			}, h.Update))
			if res.Delete != "" {
				item.Method(http.MethodDelete, "/", g.Wrap(middleware.RouteConfig{
					Name: res.Name + ".delete", Permission: res.Delete, Access: itemAccess,
					RateLimit: cfg.WritePolicy,
				}, h.Delete))
			}
			if res.Approval != nil {
				item.Method(http.MethodPost, "/approve", g.Wrap(middleware.RouteConfig{
					Name: res.Name + ".approve", Permission: res.Approval.Permission, Access: itemAccess,
					RateLimit: cfg.WritePolicy,
				}, h.Approve))
			}
		})
	})
}
