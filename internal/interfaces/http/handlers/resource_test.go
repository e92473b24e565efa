package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConstructOps/internal/interfaces/http/middleware"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/storage"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	projectA  = "2f6a1c9e-4b3d-4e8a-9c7f-1a2b3c4d5e01"
	taskA     = "9d8c7b6a-5e4f-4a3b-8c2d-1e0f9a8b7c01"
	taskB     = "9d8c7b6a-5e4f-4a3b-8c2d-1e0f9a8b7c02"
	purchaseA = "0a1b2c3d-4e5f-4a6b-9c8d-7e6f5a4b3c01"
)

type recordingExecutor struct {
	calls  []query.Instructions
	result storage.Result
	err    error
}

func (e *recordingExecutor) Execute(_ context.Context, in query.Instructions) (storage.Result, error) {
	e.calls = append(e.calls, in)
	return e.result, e.err
}

func (e *recordingExecutor) last(t *testing.T) query.Instructions {
	t.Helper()
	require.NotEmpty(t, e.calls)
	return e.calls[len(e.calls)-1]
}

type accessFunc func(resource, id string) (bool, error)

func (f accessFunc) CanAccess(_ context.Context, _ *auth.RequestContext, resource, id string) (bool, error) {
	return f(resource, id)
}

func resource(t *testing.T, name string) Resource {
	t.Helper()
	for _, r := range Resources() {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no resource %q", name)
	return Resource{}
}

func request(method, target string, params ...string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(params); i += 2 {
		rctx.URLParams.Add(params[i], params[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func listInput(t *testing.T, raw string) middleware.Input {
	t.Helper()
	q, err := url.ParseQuery(raw)
	require.NoError(t, err)
	res := ListQuery.ValidateQuery(q)
	require.True(t, res.OK(), "%v", res.Errors)
	return middleware.Input{Query: res.Value}
}

func caller(id, role string) *auth.RequestContext {
	return &auth.RequestContext{User: &auth.User{ID: id, Role: role}}
}

func TestList_ClampsPaginationAndAppliesDefaults(t *testing.T) {
	exec := &recordingExecutor{result: storage.Result{Rows: []map[string]any{{"id": projectA}}, Count: 250}}
	h := NewResourceHandler(resource(t, "projects"), exec)

	resp, err := h.List(request(http.MethodGet, "/api/v1/projects"), listInput(t, "page=-5&limit=9999"), nil)
	require.NoError(t, err)

	in := exec.last(t)
	assert.Equal(t, query.KindSelect, in.Kind)
	assert.Equal(t, &query.Pagination{Page: 1, Limit: 100, Offset: 0}, in.Pagination)
	assert.True(t, in.CountTotal)
	require.Len(t, in.Filters, 1)
	assert.Equal(t, query.Condition{Column: "status", Operator: query.OpEq, Value: query.String("active")}, in.Filters[0])
	assert.Equal(t, []query.SortSpec{{Column: "created_at", Ascending: false}}, in.Sort)

	assert.Equal(t, &middleware.PageInfo{Page: 1, Limit: 100, Total: 250, HasMore: true}, resp.Pagination)
	assert.Len(t, resp.Data, 1)
}

func TestList_CallerFilterReplacesDefault(t *testing.T) {
	exec := &recordingExecutor{}
	h := NewResourceHandler(resource(t, "projects"), exec)

	resp, err := h.List(request(http.MethodGet, "/api/v1/projects"),
		listInput(t, "filter=status:in:active|on_hold&filter=budget:gte:1000&sort=name,-budget"), nil)
	require.NoError(t, err)

	in := exec.last(t)
	require.Len(t, in.Filters, 2)
	assert.Equal(t, query.Condition{Column: "status", Operator: query.OpIn, Value: query.Strings("active", "on_hold")}, in.Filters[0])
	assert.Equal(t, query.Condition{Column: "budget", Operator: query.OpGte, Value: query.String("1000")}, in.Filters[1])
	assert.Equal(t, []query.SortSpec{{Column: "name", Ascending: true}, {Column: "budget", Ascending: false}}, in.Sort)
	assert.Equal(t, []map[string]any{}, resp.Data, "empty page is an empty list")
}

func TestList_RejectsBeforeStorage(t *testing.T) {
	cases := map[string]struct {
		query string
		code  errors.ErrorCode
	}{
		"unknown column":   {query: "filter=password:eq:x", code: errors.ErrCodeInvalidColumn},
		"unknown operator": {query: "filter=name:like:x", code: errors.ErrCodeInvalidOperator},
		"bad flag":         {query: "filter=end_date:is_null:maybe", code: errors.ErrCodeInvalidFilterValue},
		"unknown sort":     {query: "sort=password", code: errors.ErrCodeInvalidColumn},
		"no valid select":  {query: "select=password", code: errors.ErrCodeInvalidColumn},
		"bad search term":  {query: "q=x%27%3B--", code: errors.ErrCodeInvalidSearchTerm},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			exec := &recordingExecutor{}
			h := NewResourceHandler(resource(t, "projects"), exec)

			_, err := h.List(request(http.MethodGet, "/api/v1/projects"), listInput(t, tc.query), nil)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tc.code), "got %v", err)
			assert.Equal(t, http.StatusBadRequest, middleware.WriteError(httptest.NewRecorder(), "r", testNow, err))
			assert.Empty(t, exec.calls)
		})
	}
}

func TestList_InvalidListItemsDropped(t *testing.T) {
	exec := &recordingExecutor{}
	h := NewResourceHandler(resource(t, "projects"), exec)

	_, err := h.List(request(http.MethodGet, "/api/v1/projects"),
		listInput(t, "sort=name%3Bdrop&filter=not-a-filter&select=id&select=manager(full_name)"), nil)
	require.NoError(t, err)

	in := exec.last(t)
	assert.Equal(t, []string{"id"}, in.Columns)
	require.Len(t, in.Joins, 1)
	assert.Equal(t, "manager", in.Joins[0].Relation)
	assert.Equal(t, []query.SortSpec{{Column: "created_at", Ascending: false}}, in.Sort)
	require.Len(t, in.Filters, 1)
	assert.Equal(t, "status", in.Filters[0].Column)
}

func TestList_Search(t *testing.T) {
	exec := &recordingExecutor{}
	h := NewResourceHandler(resource(t, "projects"), exec)

	_, err := h.List(request(http.MethodGet, "/api/v1/projects"), listInput(t, "q=slab"), nil)
	require.NoError(t, err)

	in := exec.last(t)
	require.Len(t, in.AnyOf, 1)
	require.Len(t, in.AnyOf[0], 3)
	for _, c := range in.AnyOf[0] {
		assert.Equal(t, query.OpContains, c.Operator)
		assert.Equal(t, query.String("%slab%"), c.Value)
	}
}

func TestList_ScopedToProject(t *testing.T) {
	exec := &recordingExecutor{}
	h := NewResourceHandler(resource(t, "tasks"), exec)

	_, err := h.List(request(http.MethodGet, "/api/v1/projects/"+projectA+"/tasks", ParamProjectID, projectA), listInput(t, ""), nil)
	require.NoError(t, err)
	in := exec.last(t)
	require.Len(t, in.Filters, 1)
	assert.Equal(t, query.Condition{Column: "project_id", Operator: query.OpEq, Value: query.String(projectA)}, in.Filters[0])

	_, err = h.List(request(http.MethodGet, "/api/v1/tasks"), listInput(t, ""), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
	assert.Len(t, exec.calls, 1)
}

func TestGet(t *testing.T) {
	exec := &recordingExecutor{result: storage.Result{Rows: []map[string]any{{"id": taskA, "title": "Pour slab"}}}}
	h := NewResourceHandler(resource(t, "tasks"), exec)

	resp, err := h.Get(request(http.MethodGet, "/api/v1/tasks/"+taskA, ParamID, taskA), middleware.Input{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": taskA, "title": "Pour slab"}, resp.Data)

	in := exec.last(t)
	require.Len(t, in.Filters, 1, "item routes outside a project are not scoped")
	assert.Equal(t, query.Condition{Column: "id", Operator: query.OpEq, Value: query.String(taskA)}, in.Filters[0])
	assert.False(t, in.CountTotal)

	exec.result = storage.Result{}
	_, err = h.Get(request(http.MethodGet, "/api/v1/tasks/"+taskB, ParamID, taskB), middleware.Input{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageNotFound))

	_, err = h.Get(request(http.MethodGet, "/api/v1/tasks/"), middleware.Input{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestMalformedIDsNeverReachStorage(t *testing.T) {
	exec := &recordingExecutor{}
	tasks := NewResourceHandler(resource(t, "tasks"), exec)

	_, err := tasks.Get(request(http.MethodGet, "/api/v1/tasks/42", ParamID, "42"), middleware.Input{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = tasks.Delete(request(http.MethodDelete, "/api/v1/tasks/x", ParamID, "x'--"), middleware.Input{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = tasks.List(request(http.MethodGet, "/api/v1/projects/abc/tasks", ParamProjectID, "abc"), listInput(t, ""), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = tasks.Get(request(http.MethodGet, "/api/v1/projects/abc/tasks/"+taskA, ParamProjectID, "abc", ParamID, taskA),
		middleware.Input{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	assert.Equal(t, http.StatusNotFound, middleware.WriteError(httptest.NewRecorder(), "r", testNow, err))
	assert.Empty(t, exec.calls)
}

func TestCreate_ScopeAndOwnerComeFromServer(t *testing.T) {
	exec := &recordingExecutor{result: storage.Result{Rows: []map[string]any{{"id": "t-9"}}}}
	h := NewResourceHandler(resource(t, "tasks"), exec)

	body := taskSchema(true).Validate(map[string]any{"title": " Pour slab ", "priority": int64(2)})
	require.True(t, body.OK())
	resp, err := h.Create(request(http.MethodPost, "/api/v1/projects/"+projectA+"/tasks", ParamProjectID, projectA),
		middleware.Input{Body: body.Value}, caller("u-pm", "project_manager"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, map[string]any{"id": "t-9"}, resp.Data)

	in := exec.last(t)
	assert.Equal(t, query.KindInsert, in.Kind)
	assert.Equal(t, []query.Assignment{
		{Column: "priority", Value: query.Int(2)},
		{Column: "project_id", Value: query.String(projectA)},
		{Column: "title", Value: query.String("Pour slab")},
	}, in.Values)

	drawings := NewResourceHandler(resource(t, "shop-drawings"), exec)
	body = shopDrawingSchema(true).Validate(map[string]any{
		"project_id":     "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		"title":          "Level 2 rebar",
		"drawing_number": "S-201",
		"submitted_by":   "someone-else",
	})
	require.True(t, body.OK())
	_, err = drawings.Create(request(http.MethodPost, "/api/v1/shop-drawings"),
		middleware.Input{Body: body.Value}, caller("u-arch", "architect"))
	require.NoError(t, err)
	assert.Contains(t, exec.last(t).Values, query.Assignment{Column: "submitted_by", Value: query.String("u-arch")})
}

func TestCreate_ChecksBodyProject(t *testing.T) {
	const project = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	var checked []string
	deny := accessFunc(func(resource, id string) (bool, error) {
		checked = append(checked, resource+"/"+id)
		return false, nil
	})
	exec := &recordingExecutor{}
	h := NewResourceHandler(resource(t, "field-reports"), exec, WithProjectAccess(deny))

	body := fieldReportSchema(true).Validate(map[string]any{
		"project_id":  project,
		"report_date": "2024-03-01",
		"summary":     "Formwork on level 3",
	})
	require.True(t, body.OK())
	_, err := h.Create(request(http.MethodPost, "/api/v1/field-reports"), middleware.Input{Body: body.Value}, caller("u-fw", "field_worker"))

	assert.True(t, errors.IsCode(err, errors.ErrCodeAccessDenied))
	assert.Equal(t, []string{query.EntityProjects + "/" + project}, checked)
	assert.Empty(t, exec.calls)

	broken := NewResourceHandler(resource(t, "field-reports"), exec, WithProjectAccess(accessFunc(func(string, string) (bool, error) {
		return false, errors.New(errors.ErrCodeStorageFailure, "Operation failed")
	})))
	_, err = broken.Create(request(http.MethodPost, "/api/v1/field-reports"), middleware.Input{Body: body.Value}, caller("u-fw", "field_worker"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageFailure))
}

func TestUpdate(t *testing.T) {
	exec := &recordingExecutor{result: storage.Result{Rows: []map[string]any{{"id": projectA, "status": "on_hold"}}}}
	h := NewResourceHandler(resource(t, "projects"), exec)
	r := request(http.MethodPatch, "/api/v1/projects/"+projectA, ParamID, projectA)

	resp, err := h.Update(r, middleware.Input{Body: map[string]any{"status": "on_hold"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": projectA, "status": "on_hold"}, resp.Data)

	in := exec.last(t)
	assert.Equal(t, query.KindUpdate, in.Kind)
	assert.Equal(t, []query.Condition{{Column: "id", Operator: query.OpEq, Value: query.String(projectA)}}, in.Filters)
	assert.Equal(t, []query.Assignment{{Column: "status", Value: query.String("on_hold")}}, in.Values)

	_, err = h.Update(r, middleware.Input{Body: map[string]any{}}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEmptySelection))
	assert.Len(t, exec.calls, 1)
}

func TestUpdateSchema_IsPartial(t *testing.T) {
	res := projectSchema(false).Validate(map[string]any{"budget": 1200.5})
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"budget": 1200.5}, res.Value)

	res = projectSchema(false).Validate(map[string]any{"start_date": "2024-05-01", "end_date": "2024-04-01"})
	require.False(t, res.OK())
	assert.Equal(t, "end_date", res.Errors[0].Path)
}

func TestDelete(t *testing.T) {
	exec := &recordingExecutor{result: storage.Result{Rows: []map[string]any{{"id": taskA}}}}
	h := NewResourceHandler(resource(t, "tasks"), exec)

	resp, err := h.Delete(request(http.MethodDelete, "/api/v1/tasks/"+taskA, ParamID, taskA), middleware.Input{}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)

	in := exec.last(t)
	assert.Equal(t, query.KindDelete, in.Kind)
	assert.Equal(t, []query.Condition{{Column: "id", Operator: query.OpEq, Value: query.String(taskA)}}, in.Filters)
}

func TestApprove(t *testing.T) {
	exec := &recordingExecutor{result: storage.Result{Rows: []map[string]any{{"id": purchaseA, "status": "approved"}}}}
	h := NewResourceHandler(resource(t, "purchase-requests"), exec)

	resp, err := h.Approve(request(http.MethodPost, "/api/v1/purchase-requests/"+purchaseA+"/approve", ParamID, purchaseA),
		middleware.Input{}, caller("u-purch", "purchase_manager"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": purchaseA, "status": "approved"}, resp.Data)
	assert.Equal(t, []query.Assignment{
		{Column: "approved_by", Value: query.String("u-purch")},
		{Column: "status", Value: query.String("approved")},
	}, exec.last(t).Values)

	suppliers := NewResourceHandler(resource(t, "suppliers"), exec)
	_, err = suppliers.Approve(request(http.MethodPost, "/api/v1/suppliers/s-1/approve", ParamID, "s-1"), middleware.Input{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestExecutorErrors(t *testing.T) {
	conflict := errors.New(errors.ErrCodeStorageConflict, "Data conflict")
	cases := map[string]struct {
		err  error
		code errors.ErrorCode
	}{
		"app error kept":   {err: conflict, code: errors.ErrCodeStorageConflict},
		"plain error safe": {err: stderrors.New("pq: relation does not exist"), code: errors.ErrCodeStorageFailure},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := NewResourceHandler(resource(t, "suppliers"), &recordingExecutor{err: tc.err})
			_, err := h.List(request(http.MethodGet, "/api/v1/suppliers"), listInput(t, ""), nil)
			assert.True(t, errors.IsCode(err, tc.code))
			ae, ok := errors.As(err)
			require.True(t, ok)
			assert.NotContains(t, ae.Message, "relation")
		})
	}
}

func TestResources_Definitions(t *testing.T) {
	registry := query.DefaultRegistry()
	seen := make(map[string]bool)
	for _, r := range Resources() {
		assert.False(t, seen[r.Name], "duplicate %s", r.Name)
		seen[r.Name] = true

		_, ok := registry.Entity(r.Entity)
		require.True(t, ok, r.Entity)
		assert.NotEmpty(t, r.Read, r.Name)
		assert.NotEmpty(t, r.Write, r.Name)
		assert.NotNil(t, r.Create, r.Name)
		assert.NotNil(t, r.Update, r.Name)
		for _, c := range r.Search {
			assert.True(t, registry.HasColumn(r.Entity, c), "%s.%s", r.Entity, c)
		}
		for _, s := range r.Sort {
			assert.True(t, registry.HasColumn(r.Entity, s.Column), "%s.%s", r.Entity, s.Column)
		}
		if r.Owner != "" {
			assert.True(t, registry.HasColumn(r.Entity, r.Owner))
		}
		if r.Approval != nil {
			assert.True(t, registry.HasColumn(r.Entity, r.Approval.ByColumn))
			assert.NotEmpty(t, r.Approval.Permission)
		}
	}
	assert.Len(t, seen, 7)
}
