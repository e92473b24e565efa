package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/ConstructOps/internal/security/audit"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/detector"
	"github.com/turtacn/ConstructOps/internal/security/ratelimit"
	"github.com/turtacn/ConstructOps/internal/security/sanitize"
	"github.com/turtacn/ConstructOps/internal/security/validation"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// Rate-limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// Input is the validated and sanitized request data. A field is nil when the
// route declares no schema for it.
type Input struct {
	Body  map[string]any
	Query map[string]any
}

// HandlerFunc is a business handler behind the Guard. It runs only after
// every check passed.
type HandlerFunc func(r *http.Request, in Input, rc *auth.RequestContext) (Response, error)

// Classifier flags requests that look like probes or attacks.
type Classifier interface {
	Classify(r *http.Request) detector.Verdict
}

// AccessChecker decides whether the caller may touch one resource instance.
type AccessChecker interface {
	CanAccess(ctx context.Context, rc *auth.RequestContext, resource, id string) (bool, error)
}

// AccessRule names the resource checked by the AccessChecker and where its id
// comes from. An empty id skips the check.
type AccessRule struct {
	Resource string
	ID       func(r *http.Request) string
	// Valid, when set, answers 404 for a malformed id before the checker runs.
	Valid func(id string) bool
}

// RouteConfig declares what the Guard enforces for one route.
type RouteConfig struct {
	// Name labels logs, metrics and events.
	Name string
	// RateLimit overrides the guard-wide policy with a per-route bucket.
	RateLimit *ratelimit.Policy
	// Public skips authentication and authorization.
	Public     bool
	Permission authz.Permission
	// Roles, when set, must contain the caller's role.
	Roles  []authz.Role
	Access *AccessRule
	Body   *validation.Schema
	Query  *validation.Schema
	// KeyFunc overrides the guard-wide rate-limit key.
	KeyFunc KeyFunc
}

func (rc RouteConfig) validate() error {
	if rc.Name == "" {
		return fmt.Errorf("guard: route name required")
	}
	if rc.Public && (rc.Permission != "" || len(rc.Roles) > 0 || rc.Access != nil) {
		return fmt.Errorf("guard: public route %s cannot require authorization", rc.Name)
	}
	if rc.RateLimit != nil {
		if err := rc.RateLimit.Validate(); err != nil {
			return fmt.Errorf("guard: route %s: %w", rc.Name, err)
		}
	}
	if rc.Access != nil && (rc.Access.Resource == "" || rc.Access.ID == nil) {
		return fmt.Errorf("guard: route %s: access rule needs a resource and an id func", rc.Name)
	}
	return nil
}

// GuardConfig wires the Guard's collaborators.
type GuardConfig struct {
	// Limiter may be nil to disable rate limiting; Policy is then ignored.
	Limiter *ratelimit.Limiter
	Policy  ratelimit.PolicySource
	// Detector may be nil to disable anomaly checks.
	Detector      Classifier
	Authenticator auth.Authenticator
	Permissions   authz.PermissionEvaluator
	// Access is required only by routes with an AccessRule.
	Access        AccessChecker
	Sanitizer     *sanitize.Sanitizer
	Events        audit.Sink
	Metrics       *prometheus.SecurityMetrics
	Logger        logging.Logger
	KeyFunc       KeyFunc
	SlowThreshold time.Duration
	MaxBodyBytes  int64
}

// Guard runs the request pipeline around business handlers: rate limit,
// anomaly check, authentication, authorization, resource access, validation
// and sanitization, then the handler, response shaping and observation.
type Guard struct {
	cfg   GuardConfig
	clock ratelimit.Clock
}

// NewGuard fills defaults and checks that required collaborators are present.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("guard: authenticator required")
	}
	if cfg.Limiter != nil && cfg.Policy == nil {
		return nil, fmt.Errorf("guard: rate limit policy required")
	}
	if cfg.Limiter != nil {
		if err := cfg.Policy.Policy().Validate(); err != nil {
			return nil, fmt.Errorf("guard: %w", err)
		}
	}
	if cfg.Permissions == nil {
		cfg.Permissions = authz.NewEvaluator(authz.DefaultRolePermissionMapping())
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitize.New()
	}
	if cfg.Events == nil {
		cfg.Events = audit.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = config.DefaultMaxBodyBytes
	}

	clock := ratelimit.SystemClock
	if cfg.Limiter != nil {
		clock = cfg.Limiter.Clock()
	}
	return &Guard{cfg: cfg, clock: clock}, nil
}

// Wrap returns h guarded by route. It panics on a route that cannot be
// enforced, which is a wiring mistake caught at startup.
func (g *Guard) Wrap(route RouteConfig, h HandlerFunc) http.Handler {
	if err := route.validate(); err != nil {
		panic(err)
	}
	if route.Access != nil && g.cfg.Access == nil {
		panic(fmt.Errorf("guard: route %s needs an access checker", route.Name))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(route, h, w, r)
	})
}

// request is the per-request state shared by the pipeline steps.
type request struct {
	route     RouteConfig
	w         *statusRecorder
	r         *http.Request
	rc        *auth.RequestContext
	clientKey string
}

func (g *Guard) serve(route RouteConfig, h HandlerFunc, w http.ResponseWriter, r *http.Request) {
	start := g.clock.Now()
	rc := &auth.RequestContext{RequestID: requestIDFor(r), StartedAt: start}
	r = r.WithContext(auth.WithRequestContext(r.Context(), rc))
	SetSecurityHeaders(w.Header(), rc.RequestID)

	keyFn := g.cfg.KeyFunc
	if route.KeyFunc != nil {
		keyFn = route.KeyFunc
	}
	req := &request{route: route, w: newStatusRecorder(w), r: r, rc: rc, clientKey: keyFn(r)}

	done := g.cfg.Metrics.RequestStarted(route.Name)
	outcome := prometheus.OutcomeInternalError
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				done()
				panic(p)
			}
			g.cfg.Logger.Error("panic in guarded handler",
				logging.String("panic", fmt.Sprint(p)),
				logging.String("stack", string(debug.Stack())),
				logging.String("route", route.Name),
				logging.String("request_id", rc.RequestID),
			)
			if !req.w.wroteHeader {
				WriteError(req.w, rc.RequestID, g.clock.Now(), fmt.Errorf("panic: %v", p))
			}
		}
		done()
		g.observe(req, outcome, g.clock.Now().Sub(start))
	}()

	outcome = g.run(req, h)
}

func (g *Guard) run(req *request, h HandlerFunc) string {
	ctx := req.r.Context()
	route, rc := req.route, req.rc

	if outcome, stop := g.checkRate(ctx, req); stop {
		return outcome
	}

	if g.cfg.Detector != nil {
		if v := g.cfg.Detector.Classify(req.r); v.Suspicious {
			g.cfg.Logger.Warn("suspicious request blocked",
				logging.String("reason", v.Reason),
				logging.String("client_key", req.clientKey),
				logging.String("method", req.r.Method),
				logging.String("path", req.r.URL.Path),
				logging.String("user_agent", req.r.UserAgent()),
				logging.String("request_id", rc.RequestID),
			)
			g.publish(ctx, req, audit.EventSuspiciousRequest, errors.ErrCodeSuspiciousRequest, v.Reason)
			g.fail(req, errors.New(errors.ErrCodeSuspiciousRequest, errors.DefaultMessageForCode(errors.ErrCodeSuspiciousRequest)))
			return prometheus.OutcomeSuspicious
		}
	}

	if outcome, stop := g.cancelled(ctx, req); stop {
		return outcome
	}

	if !route.Public {
		if outcome, stop := g.authenticate(ctx, req); stop {
			return outcome
		}
		if outcome, stop := g.authorize(ctx, req); stop {
			return outcome
		}
	}

	if route.Access != nil {
		if outcome, stop := g.checkAccess(ctx, req); stop {
			return outcome
		}
	}

	in, err := g.decodeInput(req)
	if err != nil {
		g.fail(req, err)
		return prometheus.OutcomeInvalid
	}

	if outcome, stop := g.cancelled(ctx, req); stop {
		return outcome
	}

	resp, err := h(req.r, in, rc)
	if err != nil {
		return g.handlerFailure(ctx, req, err)
	}
	WriteSuccess(req.w, rc.RequestID, g.clock.Now(), resp)
	return prometheus.OutcomeOK
}

func (g *Guard) checkRate(ctx context.Context, req *request) (string, bool) {
	if g.cfg.Limiter == nil {
		return "", false
	}
	policy := g.cfg.Policy.Policy()
	key := req.clientKey
	if req.route.RateLimit != nil {
		policy = *req.route.RateLimit
		key = req.route.Name + ":" + key
	}

	d, err := g.cfg.Limiter.Check(ctx, key, policy.Window, policy.Max)
	if err != nil {
		// fail open
		g.cfg.Logger.Error("rate limit check failed, request allowed",
			logging.Err(err),
			logging.String("client_key", req.clientKey),
			logging.String("route", req.route.Name),
			logging.String("request_id", req.rc.RequestID),
		)
		return "", false
	}

	h := req.w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Allowed {
		return "", false
	}

	now := g.clock.Now()
	h.Set("Retry-After", strconv.FormatInt(int64(d.RetryAfter(now)/time.Second), 10))
	g.publish(ctx, req, audit.EventRateLimited, errors.ErrCodeTooManyRequests,
		fmt.Sprintf("limit %d per %s", policy.Max, policy.Window))
	WriteRateLimited(req.w, req.rc.RequestID, now, d.ResetAt)
	return prometheus.OutcomeRateLimited, true
}

func (g *Guard) cancelled(ctx context.Context, req *request) (string, bool) {
	err := ctx.Err()
	if err == nil {
		return "", false
	}
	g.cfg.Logger.Debug("request cancelled before handler",
		logging.Err(err),
		logging.String("request_id", req.rc.RequestID),
	)
	g.fail(req, errors.Wrap(err, errors.ErrCodeTimeout, errors.DefaultMessageForCode(errors.ErrCodeTimeout)))
	return prometheus.OutcomeCancelled, true
}

func (g *Guard) authenticate(ctx context.Context, req *request) (string, bool) {
	id, err := g.cfg.Authenticator.Authenticate(ctx, req.r)
	if err == nil && (id == nil || id.User == nil || id.User.ID == "") {
		err = errors.Unauthorized("Invalid token")
	}
	if err != nil {
		ae, ok := errors.As(err)
		if !ok {
			ae = errors.Unauthorized(errors.DefaultMessageForCode(errors.ErrCodeUnauthorized)).WithCause(err)
		}
		if ae.HTTPStatus() >= http.StatusInternalServerError {
			g.cfg.Logger.Error("authentication backend failed",
				logging.Err(err),
				logging.String("request_id", req.rc.RequestID),
			)
		} else {
			g.publish(ctx, req, audit.EventAuthenticationFailed, ae.Code, ae.Message)
		}
		return outcomeFor(g.fail(req, ae)), true
	}
	req.rc.User = id.User
	req.rc.Profile = id.Profile
	return "", false
}

func (g *Guard) authorize(ctx context.Context, req *request) (string, bool) {
	role := authz.Role(req.rc.Role())
	var denied string
	switch {
	case req.route.Permission != "" && !g.cfg.Permissions.HasPermission(role, req.route.Permission):
		denied = "Insufficient permissions: requires " + string(req.route.Permission)
	case len(req.route.Roles) > 0 && !authz.RoleIn(role, req.route.Roles):
		denied = "Insufficient permissions: requires one of roles " + authz.JoinRoles(req.route.Roles)
	default:
		return "", false
	}
	g.publish(ctx, req, audit.EventAuthorizationDenied, errors.ErrCodeForbidden, denied)
	g.fail(req, errors.Forbidden(denied))
	return prometheus.OutcomeForbidden, true
}

func (g *Guard) checkAccess(ctx context.Context, req *request) (string, bool) {
	rule := req.route.Access
	id := rule.ID(req.r)
	if id == "" {
		return "", false
	}
	if rule.Valid != nil && !rule.Valid(id) {
		return outcomeFor(g.fail(req, errors.NotFound(errors.DefaultMessageForCode(errors.ErrCodeNotFound)))), true
	}
	ok, err := g.cfg.Access.CanAccess(ctx, req.rc, rule.Resource, id)
	if err != nil {
		g.cfg.Logger.Error("access check failed",
			logging.Err(err),
			logging.String("resource", rule.Resource),
			logging.String("resource_id", id),
			logging.String("request_id", req.rc.RequestID),
		)
		return outcomeFor(g.fail(req, err)), true
	}
	if !ok {
		g.publish(ctx, req, audit.EventAccessDenied, errors.ErrCodeAccessDenied, rule.Resource+"/"+id)
		g.fail(req, errors.New(errors.ErrCodeAccessDenied, errors.DefaultMessageForCode(errors.ErrCodeAccessDenied)))
		return prometheus.OutcomeForbidden, true
	}
	return "", false
}

// decodeInput validates body and query together so every violation is
// reported, then sanitizes the accepted values.
func (g *Guard) decodeInput(req *request) (Input, error) {
	var (
		in      Input
		details []validation.FieldError
	)
	if s := req.route.Body; s != nil {
		raw, fe := g.readBody(req)
		if fe != nil {
			details = append(details, *fe)
		} else {
			res := s.Validate(raw)
			details = append(details, res.Errors...)
			if res.OK() {
				in.Body, _ = g.cfg.Sanitizer.Value(res.Value, s).(map[string]any)
			}
		}
	}
	if s := req.route.Query; s != nil {
		res := s.ValidateQuery(req.r.URL.Query())
		details = append(details, res.Errors...)
		if res.OK() {
			in.Query, _ = g.cfg.Sanitizer.Value(res.Value, s).(map[string]any)
		}
	}
	if len(details) > 0 {
		return Input{}, newValidationFailure(details)
	}
	return in, nil
}

func (g *Guard) readBody(req *request) (map[string]any, *validation.FieldError) {
	if req.r.Body == nil || req.r.Body == http.NoBody {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(req.w, req.r.Body, g.cfg.MaxBodyBytes))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return map[string]any{}, nil
		case stderrors.As(err, &tooLarge):
			return nil, &validation.FieldError{Path: "body", Message: "request body too large"}
		default:
			return nil, &validation.FieldError{Path: "body", Message: "must be a JSON object"}
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func (g *Guard) handlerFailure(ctx context.Context, req *request, err error) string {
	fields := []logging.Field{
		logging.Err(err),
		logging.String("route", req.route.Name),
		logging.String("user_id", req.rc.UserID()),
		logging.String("request_id", req.rc.RequestID),
	}
	ae, ok := errors.As(err)
	switch {
	case !ok:
		g.cfg.Logger.Error("handler failed", fields...)
	case errors.IsQueryConstruction(ae.Code):
		g.cfg.Logger.Error("query construction rejected",
			append(fields, logging.String("code", string(ae.Code)), logging.String("detail", ae.Detail))...)
		g.cfg.Metrics.ObserveQueryFailure(string(ae.Code))
		g.publish(ctx, req, audit.EventQueryConstructionFailed, ae.Code, ae.Detail)
	case ae.HTTPStatus() >= http.StatusInternalServerError:
		g.cfg.Logger.Error("handler failed",
			append(fields, logging.String("code", string(ae.Code)), logging.String("detail", ae.Detail))...)
	}

	status := g.fail(req, err)
	if status >= http.StatusInternalServerError {
		return prometheus.OutcomeInternalError
	}
	return prometheus.OutcomeHandlerError
}

func (g *Guard) fail(req *request, err error) int {
	return WriteError(req.w, req.rc.RequestID, g.clock.Now(), err)
}

func (g *Guard) publish(ctx context.Context, req *request, typ audit.EventType, code errors.ErrorCode, reason string) {
	ev := audit.Event{
		Type:      typ,
		Time:      g.clock.Now(),
		RequestID: req.rc.RequestID,
		ClientKey: req.clientKey,
		UserID:    req.rc.UserID(),
		Role:      req.rc.Role(),
		Method:    req.r.Method,
		Path:      req.r.URL.Path,
		Route:     req.route.Name,
		Code:      string(code),
		Reason:    reason,
	}
	if err := g.cfg.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		g.cfg.Logger.Warn("security event dropped",
			logging.Err(err),
			logging.String("event_type", string(typ)),
			logging.String("request_id", req.rc.RequestID),
		)
	}
}

func (g *Guard) observe(req *request, outcome string, d time.Duration) {
	logRequest(g.cfg.Logger, requestLog{
		Method:    req.r.Method,
		Path:      req.r.URL.Path,
		Route:     req.route.Name,
		RequestID: req.rc.RequestID,
		UserID:    req.rc.UserID(),
		Role:      req.rc.Role(),
		Status:    req.w.status,
		Bytes:     req.w.bytes,
		Duration:  d,
	}, g.cfg.SlowThreshold)
	g.cfg.Metrics.ObserveRequest(req.route.Name, outcome, d)
}

func outcomeFor(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return prometheus.OutcomeUnauthorized
	case status == http.StatusForbidden:
		return prometheus.OutcomeForbidden
	case status == http.StatusTooManyRequests:
		return prometheus.OutcomeRateLimited
	case status >= http.StatusInternalServerError:
		return prometheus.OutcomeInternalError
	case status >= http.StatusBadRequest:
		return prometheus.OutcomeInvalid
	default:
		return prometheus.OutcomeOK
	}
}
