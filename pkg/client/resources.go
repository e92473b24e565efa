package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Record is one row as returned by the API.
type Record map[string]any

// Page is one page of a list call.
type Page struct {
	Items      []Record
	Pagination PageInfo
}

// Filter is one column:op:value list filter.
type Filter struct {
	Column string
	Op     string
	Value  string
}

func (f Filter) String() string { return f.Column + ":" + f.Op + ":" + f.Value }

// Eq filters column = value.
func Eq(column, value string) Filter { return Filter{Column: column, Op: "eq", Value: value} }

// In filters column against any of values.
func In(column string, values ...string) Filter {
	return Filter{Column: column, Op: "in", Value: strings.Join(values, "|")}
}

// IsNull filters on column being null (or not, when null is false).
func IsNull(column string, null bool) Filter {
	return Filter{Column: column, Op: "is_null", Value: strconv.FormatBool(null)}
}

// ListOptions maps onto the list query parameters. Zero values are omitted
// and the server defaults apply.
type ListOptions struct {
	Page    int
	Limit   int
	Sort    []string
	Search  string
	Select  []string
	Filters []Filter
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(o.Sort) > 0 {
		v.Set("sort", strings.Join(o.Sort, ","))
	}
	if o.Search != "" {
		v.Set("q", o.Search)
	}
	for _, s := range o.Select {
		v.Add("select", s)
	}
	for _, f := range o.Filters {
		v.Add("filter", f.String())
	}
	return v
}

// ResourceClient calls one resource collection.
type ResourceClient struct {
	client     *Client
	collection string
	items      string
}

func (c *Client) resource(name string) *ResourceClient {
	path := APIPrefix + "/" + name
	return &ResourceClient{client: c, collection: path, items: path}
}

func (c *Client) Projects() *ResourceClient         { return c.resource("projects") }
func (c *Client) MaterialSpecs() *ResourceClient    { return c.resource("material-specs") }
func (c *Client) ShopDrawings() *ResourceClient     { return c.resource("shop-drawings") }
func (c *Client) FieldReports() *ResourceClient     { return c.resource("field-reports") }
func (c *Client) Suppliers() *ResourceClient        { return c.resource("suppliers") }
func (c *Client) PurchaseRequests() *ResourceClient { return c.resource("purchase-requests") }

// Tasks lists and creates under projectID; Get, Update and Delete address a
// task by id alone.
func (c *Client) Tasks(projectID string) *ResourceClient {
	return &ResourceClient{
		client:     c,
		collection: APIPrefix + "/projects/" + url.PathEscape(projectID) + "/tasks",
		items:      APIPrefix + "/tasks",
	}
}

func (r *ResourceClient) item(id string, suffix ...string) string {
	return r.items + "/" + url.PathEscape(id) + strings.Join(suffix, "")
}

// List fetches one page.
func (r *ResourceClient) List(ctx context.Context, opts ListOptions) (*Page, error) {
	var env envelope
	if err := r.client.do(ctx, http.MethodGet, r.collection, opts.values(), nil, &env); err != nil {
		return nil, err
	}
	page := &Page{Items: []Record{}}
	if err := decodeData(env, &page.Items); err != nil {
		return nil, err
	}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	return page, nil
}

// Get fetches one record, optionally narrowed to columns.
func (r *ResourceClient) Get(ctx context.Context, id string, columns ...string) (Record, error) {
	q := url.Values{}
	for _, col := range columns {
		q.Add("select", col)
	}
	return r.record(ctx, http.MethodGet, r.item(id), q, nil)
}

// Create inserts values and returns the stored record.
func (r *ResourceClient) Create(ctx context.Context, values Record) (Record, error) {
	return r.record(ctx, http.MethodPost, r.collection, nil, values)
}

// Update applies a partial update.
func (r *ResourceClient) Update(ctx context.Context, id string, values Record) (Record, error) {
	return r.record(ctx, http.MethodPatch, r.item(id), nil, values)
}

// Delete removes a record. Resources without a delete route answer 405.
func (r *ResourceClient) Delete(ctx context.Context, id string) error {
	return r.client.do(ctx, http.MethodDelete, r.item(id), nil, nil, nil)
}

// Approve moves a record to its approved state as the caller.
func (r *ResourceClient) Approve(ctx context.Context, id string) (Record, error) {
	return r.record(ctx, http.MethodPost, r.item(id, "/approve"), nil, nil)
}

func (r *ResourceClient) record(ctx context.Context, method, path string, q url.Values, body any) (Record, error) {
	var env envelope
	if err := r.client.do(ctx, method, path, q, body, &env); err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeData(env, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeData(env envelope, out any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
