package handlers

import (
	"regexp"

	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/security/validation"
)

// ItemQuery validates the parameters accepted when reading one row.
var ItemQuery = validation.Query(
	validation.Field("select", validation.List(validation.String().Trim().Max(200)).MaxItems(MaxSelectItems).Optional()),
)

var (
	drawingNumberPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]{1,50}$`)
	phonePattern         = regexp.MustCompile(`^\+?[0-9 ()-]{5,30}$`)
)

var newestFirst = []query.SortSpec{{Column: "created_at", Ascending: false}}

// required makes rule optional for partial updates.
func required(rule *validation.Rule, create bool) *validation.Rule {
	if create {
		return rule
	}
	return rule.Optional()
}

// dateOrder rejects an end date before the start date when both are given.
func dateOrder(start, end string) validation.Refinement {
	return func(values map[string]any) *validation.FieldError {
		s, okS := values[start].(string)
		e, okE := values[end].(string)
		if okS && okE && e < s {
			return &validation.FieldError{Path: end, Message: "Must not be before " + start}
		}
		return nil
	}
}

func projectSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("name", required(validation.String().Trim().Min(1).Max(200), create)),
		validation.Field("description", validation.String().AllowMarkup().Max(5000).Optional()),
		validation.Field("status", validation.Enum("planning", "active", "on_hold", "completed", "cancelled").Optional()),
		validation.Field("location", validation.String().Trim().Max(300).Optional()),
		validation.Field("budget", validation.Float().Min(0).Optional()),
		validation.Field("start_date", validation.Date().Optional()),
		validation.Field("end_date", validation.Date().Optional()),
		validation.Field("project_manager_id", validation.UUID().Optional()),
		validation.Field("client_id", validation.UUID().Optional()),
	).Refine("end_date", dateOrder("start_date", "end_date"))
}

func taskSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("title", required(validation.String().Trim().Min(1).Max(200), create)),
		validation.Field("description", validation.String().AllowMarkup().Max(5000).Optional()),
		validation.Field("status", validation.Enum("open", "in_progress", "blocked", "done").Optional()),
		validation.Field("priority", validation.Int().Min(1).Max(5).Optional()),
		validation.Field("assigned_to", validation.UUID().Optional()),
		validation.Field("due_date", validation.Date().Optional()),
		validation.Field("progress", validation.Int().Min(0).Max(100).Optional()),
	)
}

// Approval states are only reachable through the approve action, so the
// write schemas leave them out.
func materialSpecSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("project_id", required(validation.UUID(), create)),
		validation.Field("name", required(validation.String().Trim().Min(1).Max(200), create)),
		validation.Field("category", validation.String().Trim().Max(100).Optional()),
		validation.Field("specification", validation.String().AllowMarkup().Max(10000).Optional()),
		validation.Field("quantity", validation.Float().Min(0).Optional()),
		validation.Field("unit", validation.String().Trim().Max(20).Optional()),
		validation.Field("unit_price", validation.Float().Min(0).Optional()),
		validation.Field("status", validation.Enum("draft", "submitted").Optional()),
	)
}

func shopDrawingSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("project_id", required(validation.UUID(), create)),
		validation.Field("title", required(validation.String().Trim().Min(1).Max(200), create)),
		validation.Field("drawing_number", required(validation.String().Trim().Pattern(drawingNumberPattern), create)),
		validation.Field("revision", validation.String().Trim().Max(10).Optional()),
		validation.Field("discipline", validation.Enum("architectural", "structural", "mechanical", "electrical", "plumbing", "civil").Optional()),
		validation.Field("file_name", validation.Filename().Optional()),
		validation.Field("status", validation.Enum("submitted", "under_review", "revise_resubmit").Optional()),
	)
}

func fieldReportSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("project_id", required(validation.UUID(), create)),
		validation.Field("report_date", required(validation.Date(), create)),
		validation.Field("weather", validation.String().Trim().Max(100).Optional()),
		validation.Field("summary", required(validation.String().AllowMarkup().Min(1).Max(10000), create)),
		validation.Field("issues", validation.String().AllowMarkup().Max(10000).Optional()),
		validation.Field("workers_on_site", validation.Int().Min(0).Max(10000).Optional()),
		validation.Field("status", validation.Enum("draft", "submitted", "reviewed").Optional()),
	)
}

func supplierSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("name", required(validation.String().Trim().Min(1).Max(200), create)),
		validation.Field("contact_name", validation.String().Trim().Max(200).Optional()),
		validation.Field("email", validation.Email().Optional()),
		validation.Field("phone", validation.String().Trim().Pattern(phonePattern).Optional()),
		validation.Field("category", validation.String().Trim().Max(100).Optional()),
		validation.Field("rating", validation.Float().Min(0).Max(5).Optional()),
		validation.Field("is_active", validation.Bool().Optional()),
	)
}

func purchaseRequestSchema(create bool) *validation.Schema {
	return validation.Object(
		validation.Field("project_id", required(validation.UUID(), create)),
		validation.Field("supplier_id", validation.UUID().Optional()),
		validation.Field("material_spec_id", validation.UUID().Optional()),
		validation.Field("title", required(validation.String().Trim().Min(1).Max(200), create)),
		validation.Field("quantity", required(validation.Float().Min(0), create)),
		validation.Field("estimated_cost", validation.Float().Min(0).Optional()),
		validation.Field("needed_by", validation.Date().Optional()),
		validation.Field("status", validation.Enum("pending", "ordered", "delivered").Optional()),
	)
}

// Resources returns the construction resources served under /api/v1.
func Resources() []Resource {
	return []Resource{
		{
			Name:     "projects",
			Entity:   query.EntityProjects,
			Read:     authz.PermProjectsRead,
			Write:    authz.PermProjectsWrite,
			Delete:   authz.PermProjectsDelete,
			Create:   projectSchema(true),
			Update:   projectSchema(false),
			Search:   []string{"name", "description", "location"},
			Defaults: map[string]string{"status": "active"},
			Sort:     newestFirst,
		},
		{
			Name:   "tasks",
			Entity: query.EntityTasks,
			Read:   authz.PermTasksRead,
			Write:  authz.PermTasksWrite,
			Delete: authz.PermTasksDelete,
			Create: taskSchema(true),
			Update: taskSchema(false),
			Search: []string{"title", "description"},
			Sort:   []query.SortSpec{{Column: "due_date", Ascending: true}},
			Scope:  &Scope{Param: ParamProjectID, Column: "project_id"},
		},
		{
			Name:   "material-specs",
			Entity: query.EntityMaterialSpecs,
			Read:   authz.PermMaterialSpecsRead,
			Write:  authz.PermMaterialSpecsWrite,
			Create: materialSpecSchema(true),
			Update: materialSpecSchema(false),
			Search: []string{"name", "category", "specification"},
			Sort:   newestFirst,
			Approval: &Approval{
				Permission: authz.PermMaterialSpecsApprove,
				Status:     "approved",
				ByColumn:   "approved_by",
			},
		},
		{
			Name:   "shop-drawings",
			Entity: query.EntityShopDrawings,
			Read:   authz.PermShopDrawingsRead,
			Write:  authz.PermShopDrawingsWrite,
			Create: shopDrawingSchema(true),
			Update: shopDrawingSchema(false),
			Search: []string{"title", "drawing_number"},
			Sort:   newestFirst,
			Owner:  "submitted_by",
			Approval: &Approval{
				Permission: authz.PermShopDrawingsApprove,
				Status:     "approved",
				ByColumn:   "reviewed_by",
			},
		},
		{
			Name:   "field-reports",
			Entity: query.EntityFieldReports,
			Read:   authz.PermFieldReportsRead,
			Write:  authz.PermFieldReportsWrite,
			Create: fieldReportSchema(true),
			Update: fieldReportSchema(false),
			Search: []string{"summary", "issues"},
			Sort:   []query.SortSpec{{Column: "report_date", Ascending: false}},
			Owner:  "reported_by",
		},
		{
			Name:   "suppliers",
			Entity: query.EntitySuppliers,
			Read:   authz.PermSuppliersRead,
			Write:  authz.PermSuppliersWrite,
			Create: supplierSchema(true),
			Update: supplierSchema(false),
			Search: []string{"name", "contact_name", "category"},
			Sort:   []query.SortSpec{{Column: "name", Ascending: true}},
		},
		{
			Name:   "purchase-requests",
			Entity: query.EntityPurchaseRequests,
			Read:   authz.PermPurchaseRequestsRead,
			Write:  authz.PermPurchaseRequestsWrite,
			Create: purchaseRequestSchema(true),
			Update: purchaseRequestSchema(false),
			Search: []string{"title"},
			Sort:   newestFirst,
			Owner:  "requested_by",
			Approval: &Approval{
				Permission: authz.PermPurchaseRequestsApprove,
				Status:     "approved",
				ByColumn:   "approved_by",
			},
		},
	}
}
