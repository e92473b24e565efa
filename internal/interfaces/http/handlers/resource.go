package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/middleware"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/security/validation"
	"github.com/turtacn/ConstructOps/internal/storage"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// URL parameters read by resource handlers.
const (
	ParamID        = "id"
	ParamProjectID = "projectID"
)

// Limits on list query parameters.
const (
	MaxSortKeys    = 5
	MaxSelectItems = 20
	MaxFilters     = 20
	MaxSearchTerm  = 100
)

var (
	sortPattern   = regexp.MustCompile(`^-?[a-z_]+$`)
	filterPattern = regexp.MustCompile(`^[a-z_]+:[a-z_]+:.*$`)
)

// ListQuery validates list parameters. Page and limit are clamped by the
// builder rather than rejected; invalid sort, select and filter items are
// dropped. Filters take the form column:operator:value, with in-lists
// separated by "|".
var ListQuery = validation.Query(
	validation.Field("page", validation.Int().Default(int64(query.MinPage))),
	validation.Field("limit", validation.Int().Default(int64(query.DefaultLimit))),
	validation.Field("sort", validation.List(validation.String().Pattern(sortPattern)).CSV().MaxItems(MaxSortKeys).Optional()),
	validation.Field("q", validation.String().Trim().Max(MaxSearchTerm).Optional()),
	validation.Field("select", validation.List(validation.String().Trim().Max(200)).MaxItems(MaxSelectItems).Optional()),
	validation.Field("filter", validation.List(validation.String().Pattern(filterPattern)).MaxItems(MaxFilters).Optional()),
)

// Scope ties a nested collection to its parent URL parameter.
type Scope struct {
	Param  string
	Column string
}

// Approval describes the approve action of a resource.
type Approval struct {
	Permission authz.Permission
	Status     string
	// ByColumn records the approving user.
	ByColumn string
}

// Resource describes one entity exposed over HTTP.
type Resource struct {
	// Name is the route segment and the prefix of route names.
	Name   string
	Entity string

	Read   authz.Permission
	Write  authz.Permission
	Delete authz.Permission

	Create *validation.Schema
	Update *validation.Schema

	Search []string
	// Defaults apply as eq filters on list unless the caller filters the
	// same column.
	Defaults map[string]string
	Sort     []query.SortSpec
	// Owner is set to the caller's id on create.
	Owner    string
	Scope    *Scope
	Approval *Approval
}

// ResourceHandler serves list, get, create, update, delete and approve for
// one Resource. Every operation goes through the secure query builder.
type ResourceHandler struct {
	res      Resource
	registry *query.Registry
	exec     storage.Executor
	access   middleware.AccessChecker
	logger   logging.Logger
}

// Option configures a ResourceHandler.
type Option func(*ResourceHandler)

// WithRegistry replaces the default entity registry.
func WithRegistry(registry *query.Registry) Option {
	return func(h *ResourceHandler) { h.registry = registry }
}

// WithProjectAccess checks a project_id given in a create body against
// checker.
func WithProjectAccess(checker middleware.AccessChecker) Option {
	return func(h *ResourceHandler) { h.access = checker }
}

// WithLogger sets the handler logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *ResourceHandler) { h.logger = logger.Named(h.res.Name) }
}

// NewResourceHandler binds res to exec.
func NewResourceHandler(res Resource, exec storage.Executor, opts ...Option) *ResourceHandler {
	h := &ResourceHandler{
		res:      res,
		registry: query.DefaultRegistry(),
		exec:     exec,
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resource returns the handled resource.
func (h *ResourceHandler) Resource() Resource { return h.res }

func (h *ResourceHandler) builder() (*query.Builder, error) {
	return query.NewBuilder(h.registry, h.res.Entity)
}

// scopeValue reads the parent id. Collection routes of a scoped resource
// require it; item routes use it when the URL carries it.
func (h *ResourceHandler) scopeValue(r *http.Request, required bool) (string, error) {
	if h.res.Scope == nil {
		return "", nil
	}
	v := chi.URLParam(r, h.res.Scope.Param)
	if v == "" && required {
		return "", errors.InvalidParam("missing " + h.res.Scope.Param)
	}
	if v != "" && !validation.IsUUID(v) {
		return "", errors.NotFound(errors.DefaultMessageForCode(errors.ErrCodeNotFound))
	}
	return v, nil
}

// id reads the row id. Ids are UUIDs, so anything else names no row.
func (h *ResourceHandler) id(r *http.Request) (string, error) {
	id := chi.URLParam(r, ParamID)
	if id == "" {
		return "", errors.InvalidParam("missing id")
	}
	if !validation.IsUUID(id) {
		return "", errors.NotFound(errors.DefaultMessageForCode(errors.ErrCodeNotFound))
	}
	return id, nil
}

// List returns one page of rows.
func (h *ResourceHandler) List(r *http.Request, in middleware.Input, _ *auth.RequestContext) (middleware.Response, error) {
	b, err := h.builder()
	if err != nil {
		return middleware.Response{}, err
	}
	scope, err := h.scopeValue(r, true)
	if err != nil {
		return middleware.Response{}, err
	}
	if scope != "" {
		_ = b.AddFilter(h.res.Scope.Column, query.OpEq, query.String(scope))
	}

	filtered := make(map[string]bool)
	for _, raw := range stringList(in.Query["filter"]) {
		column, op, value := splitFilter(raw)
		filtered[column] = true
		_ = b.AddFilter(column, op, filterValue(op, value))
	}
	for column, value := range h.res.Defaults {
		if !filtered[column] {
			_ = b.AddFilter(column, query.OpEq, query.String(value))
		}
	}

	if term, ok := in.Query["q"].(string); ok && term != "" {
		_ = b.AddSearchFilter(term, h.res.Search)
	}

	sorts := stringList(in.Query["sort"])
	for _, s := range sorts {
		_ = b.AddSort(strings.TrimPrefix(s, "-"), !strings.HasPrefix(s, "-"))
	}
	if len(sorts) == 0 {
		for _, s := range h.res.Sort {
			_ = b.AddSort(s.Column, s.Ascending)
		}
	}

	if sel := stringList(in.Query["select"]); len(sel) > 0 {
		_ = b.SelectColumns(sel...)
	}

	page := b.ApplyPagination(intValue(in.Query["page"]), intValue(in.Query["limit"]))
	res, err := h.run(r, b)
	if err != nil {
		return middleware.Response{}, err
	}
	return middleware.Response{
		Data:       rowsOrEmpty(res.Rows),
		Pagination: middleware.NewPageInfo(page.Page, page.Limit, res.Count),
	}, nil
}

// Get returns one row by id.
func (h *ResourceHandler) Get(r *http.Request, in middleware.Input, _ *auth.RequestContext) (middleware.Response, error) {
	b, err := h.byID(r)
	if err != nil {
		return middleware.Response{}, err
	}
	if sel := stringList(in.Query["select"]); len(sel) > 0 {
		_ = b.SelectColumns(sel...)
	}
	res, err := h.run(r, b)
	if err != nil {
		return middleware.Response{}, err
	}
	if len(res.Rows) == 0 {
		return middleware.Response{}, errors.New(errors.ErrCodeStorageNotFound, "Resource not found")
	}
	return middleware.Response{Data: res.Rows[0]}, nil
}

// Create inserts the validated body. The scope column and owner column are
// taken from the URL and the caller, never from the body.
func (h *ResourceHandler) Create(r *http.Request, in middleware.Input, rc *auth.RequestContext) (middleware.Response, error) {
	b, err := h.builder()
	if err != nil {
		return middleware.Response{}, err
	}
	values := copyValues(in.Body)
	scope, err := h.scopeValue(r, true)
	if err != nil {
		return middleware.Response{}, err
	}
	if scope != "" {
		values[h.res.Scope.Column] = scope
	} else if err := h.checkProject(r, values, rc); err != nil {
		return middleware.Response{}, err
	}
	if h.res.Owner != "" && rc != nil {
		values[h.res.Owner] = rc.UserID()
	}
	if err := b.Insert(values); err != nil {
		return middleware.Response{}, err
	}
	res, err := h.run(r, b)
	if err != nil {
		return middleware.Response{}, err
	}
	return middleware.Response{Status: http.StatusCreated, Data: firstRow(res.Rows)}, nil
}

// Update applies the validated partial body to one row.
func (h *ResourceHandler) Update(r *http.Request, in middleware.Input, _ *auth.RequestContext) (middleware.Response, error) {
	b, err := h.byID(r)
	if err != nil {
		return middleware.Response{}, err
	}
	if err := b.Update(copyValues(in.Body)); err != nil {
		return middleware.Response{}, err
	}
	res, err := h.run(r, b)
	if err != nil {
		return middleware.Response{}, err
	}
	return middleware.Response{Data: firstRow(res.Rows)}, nil
}

// Delete removes one row.
func (h *ResourceHandler) Delete(r *http.Request, _ middleware.Input, _ *auth.RequestContext) (middleware.Response, error) {
	b, err := h.byID(r)
	if err != nil {
		return middleware.Response{}, err
	}
	b.Delete()
	if _, err := h.run(r, b); err != nil {
		return middleware.Response{}, err
	}
	return middleware.Response{Status: http.StatusNoContent}, nil
}

// Approve moves one row to the approval status and records the caller.
func (h *ResourceHandler) Approve(r *http.Request, _ middleware.Input, rc *auth.RequestContext) (middleware.Response, error) {
	if h.res.Approval == nil {
		return middleware.Response{}, errors.NotFound("Resource not found")
	}
	b, err := h.byID(r)
	if err != nil {
		return middleware.Response{}, err
	}
	values := map[string]any{"status": h.res.Approval.Status}
	if h.res.Approval.ByColumn != "" && rc != nil {
		values[h.res.Approval.ByColumn] = rc.UserID()
	}
	if err := b.Update(values); err != nil {
		return middleware.Response{}, err
	}
	res, err := h.run(r, b)
	if err != nil {
		return middleware.Response{}, err
	}
	return middleware.Response{Data: firstRow(res.Rows)}, nil
}

func (h *ResourceHandler) byID(r *http.Request) (*query.Builder, error) {
	id, err := h.id(r)
	if err != nil {
		return nil, err
	}
	b, err := h.builder()
	if err != nil {
		return nil, err
	}
	if err := b.AddFilter("id", query.OpEq, query.String(id)); err != nil {
		return nil, err
	}
	scope, err := h.scopeValue(r, false)
	if err != nil {
		return nil, err
	}
	if scope != "" {
		_ = b.AddFilter(h.res.Scope.Column, query.OpEq, query.String(scope))
	}
	return b, nil
}

// checkProject denies creating a row in a project the caller cannot access.
func (h *ResourceHandler) checkProject(r *http.Request, values map[string]any, rc *auth.RequestContext) error {
	if h.access == nil || rc == nil {
		return nil
	}
	project, ok := values["project_id"].(string)
	if !ok || project == "" {
		return nil
	}
	allowed, err := h.access.CanAccess(r.Context(), rc, query.EntityProjects, project)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.New(errors.ErrCodeAccessDenied, errors.DefaultMessageForCode(errors.ErrCodeAccessDenied))
	}
	return nil
}

// run renders and executes. Construction failures surface as the builder's
// first error.
func (h *ResourceHandler) run(r *http.Request, b *query.Builder) (storage.Result, error) {
	in, err := b.Render()
	if err != nil {
		return storage.Result{}, err
	}
	res, err := h.exec.Execute(r.Context(), in)
	if err != nil {
		if _, ok := errors.As(err); !ok {
			return storage.Result{}, errors.Wrap(err, errors.ErrCodeStorageFailure, "Operation failed")
		}
		return storage.Result{}, err
	}
	h.logger.Debug("executed",
		logging.String("kind", string(in.Kind)),
		logging.Int("rows", len(res.Rows)),
	)
	return res, nil
}

// splitFilter parses column:operator:value. The value may itself contain
// colons.
func splitFilter(raw string) (string, query.Operator, string) {
	parts := strings.SplitN(raw, ":", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], query.Operator(parts[1]), parts[2]
}

func filterValue(op query.Operator, value string) query.FilterValue {
	switch op {
	case query.OpIn:
		return query.Strings(strings.Split(value, "|")...)
	case query.OpIsNull:
		switch strings.ToLower(value) {
		case "", "true", "1":
			return query.Bool(true)
		case "false", "0":
			return query.Bool(false)
		}
	}
	return query.String(value)
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intValue(v any) int {
	n, _ := v.(int64)
	return int(n)
}

func copyValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func firstRow(rows []map[string]any) map[string]any {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func rowsOrEmpty(rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	return rows
}
