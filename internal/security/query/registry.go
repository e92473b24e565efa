package query

import (
	"fmt"
	"regexp"
	"sort"
)

// Relation is a named foreign-key hop from one entity to another, usable in
// join-path selects such as "project(name,status)".
type Relation struct {
	Name string
	// Entity is the related entity.
	Entity string
	// ForeignKey is the column on the owning entity that references the
	// related entity's "id".
	ForeignKey string
}

// Entity describes one queryable table.
type Entity struct {
	Name      string
	Columns   []string
	Relations []Relation
}

type entityDef struct {
	columns   []string
	columnSet map[string]struct{}
	relations map[string]Relation
}

// Registry is the immutable allowlist of entities, columns and relations.
type Registry struct {
	entities map[string]entityDef
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// NewRegistry validates and indexes entities.
func NewRegistry(entities ...Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]entityDef, len(entities))}
	for _, e := range entities {
		if !identifierPattern.MatchString(e.Name) {
			return nil, fmt.Errorf("query: invalid entity name %q", e.Name)
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("query: duplicate entity %q", e.Name)
		}
		def := entityDef{
			columns:   make([]string, 0, len(e.Columns)),
			columnSet: make(map[string]struct{}, len(e.Columns)),
			relations: make(map[string]Relation, len(e.Relations)),
		}
		for _, c := range e.Columns {
			if !identifierPattern.MatchString(c) {
				return nil, fmt.Errorf("query: invalid column %q on %s", c, e.Name)
			}
			if _, dup := def.columnSet[c]; dup {
				return nil, fmt.Errorf("query: duplicate column %q on %s", c, e.Name)
			}
			def.columnSet[c] = struct{}{}
			def.columns = append(def.columns, c)
		}
		for _, rel := range e.Relations {
			if !identifierPattern.MatchString(rel.Name) {
				return nil, fmt.Errorf("query: invalid relation %q on %s", rel.Name, e.Name)
			}
			if _, ok := def.columnSet[rel.ForeignKey]; !ok {
				return nil, fmt.Errorf("query: relation %s.%s uses unknown column %q", e.Name, rel.Name, rel.ForeignKey)
			}
			def.relations[rel.Name] = rel
		}
		r.entities[e.Name] = def
	}
	for name, def := range r.entities {
		for _, rel := range def.relations {
			target, ok := r.entities[rel.Entity]
			if !ok {
				return nil, fmt.Errorf("query: relation %s.%s targets unknown entity %q", name, rel.Name, rel.Entity)
			}
			if _, ok := target.columnSet["id"]; !ok {
				return nil, fmt.Errorf("query: relation target %q has no id column", rel.Entity)
			}
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics, for static tables.
func MustRegistry(entities ...Entity) *Registry {
	r, err := NewRegistry(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity returns a copy of the named entity's definition.
func (r *Registry) Entity(name string) (Entity, bool) {
	def, ok := r.entities[name]
	if !ok {
		return Entity{}, false
	}
	e := Entity{Name: name, Columns: append([]string(nil), def.columns...)}
	for _, rel := range def.relations {
		e.Relations = append(e.Relations, rel)
	}
	sort.Slice(e.Relations, func(i, j int) bool { return e.Relations[i].Name < e.Relations[j].Name })
	return e, true
}

// Entities returns the registered entity names, sorted.
func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.entities))
	for name := range r.entities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasColumn reports whether column is allowlisted on entity.
func (r *Registry) HasColumn(entity, column string) bool {
	def, ok := r.entities[entity]
	if !ok {
		return false
	}
	_, ok = def.columnSet[column]
	return ok
}

func (r *Registry) relation(entity, name string) (Relation, bool) {
	def, ok := r.entities[entity]
	if !ok {
		return Relation{}, false
	}
	rel, ok := def.relations[name]
	return rel, ok
}

var auditColumns = []string{"created_at", "updated_at"}

func cols(names ...string) []string {
	return append(names, auditColumns...)
}

// Construction entities.
const (
	EntityUserProfiles       = "user_profiles"
	EntityProjects           = "projects"
	EntityProjectAssignments = "project_assignments"
	EntityTasks              = "tasks"
	EntityMaterialSpecs      = "material_specs"
	EntityShopDrawings       = "shop_drawings"
	EntityFieldReports       = "field_reports"
	EntitySuppliers          = "suppliers"
	EntityPurchaseRequests   = "purchase_requests"
)

var defaultRegistry = MustRegistry(
	Entity{
		Name:    EntityUserProfiles,
		Columns: cols("id", "email", "full_name", "role", "company_name", "phone", "is_active"),
	},
	Entity{
		Name: EntityProjects,
		Columns: cols("id", "name", "description", "status", "location", "budget",
			"start_date", "end_date", "project_manager_id", "client_id"),
		Relations: []Relation{
			{Name: "manager", Entity: EntityUserProfiles, ForeignKey: "project_manager_id"},
			{Name: "client", Entity: EntityUserProfiles, ForeignKey: "client_id"},
		},
	},
	Entity{
		Name:    EntityProjectAssignments,
		Columns: cols("id", "project_id", "user_id", "role"),
		Relations: []Relation{
			{Name: "project", Entity: EntityProjects, ForeignKey: "project_id"},
			{Name: "user", Entity: EntityUserProfiles, ForeignKey: "user_id"},
		},
	},
	Entity{
		Name: EntityTasks,
		Columns: cols("id", "project_id", "title", "description", "status", "priority",
			"assigned_to", "due_date", "progress"),
		Relations: []Relation{
			{Name: "project", Entity: EntityProjects, ForeignKey: "project_id"},
			{Name: "assignee", Entity: EntityUserProfiles, ForeignKey: "assigned_to"},
		},
	},
	Entity{
		Name: EntityMaterialSpecs,
		Columns: cols("id", "project_id", "name", "category", "specification", "quantity",
			"unit", "unit_price", "status", "approved_by"),
		Relations: []Relation{
			{Name: "project", Entity: EntityProjects, ForeignKey: "project_id"},
			{Name: "approver", Entity: EntityUserProfiles, ForeignKey: "approved_by"},
		},
	},
	Entity{
		Name: EntityShopDrawings,
		Columns: cols("id", "project_id", "title", "drawing_number", "revision", "discipline",
			"status", "file_name", "submitted_by", "reviewed_by"),
		Relations: []Relation{
			{Name: "project", Entity: EntityProjects, ForeignKey: "project_id"},
			{Name: "submitter", Entity: EntityUserProfiles, ForeignKey: "submitted_by"},
			{Name: "reviewer", Entity: EntityUserProfiles, ForeignKey: "reviewed_by"},
		},
	},
	Entity{
		Name: EntityFieldReports,
		Columns: cols("id", "project_id", "report_date", "weather", "summary", "issues",
			"workers_on_site", "status", "reported_by"),
		Relations: []Relation{
			{Name: "project", Entity: EntityProjects, ForeignKey: "project_id"},
			{Name: "reporter", Entity: EntityUserProfiles, ForeignKey: "reported_by"},
		},
	},
	Entity{
		Name:    EntitySuppliers,
		Columns: cols("id", "name", "contact_name", "email", "phone", "category", "rating", "is_active"),
	},
	Entity{
		Name: EntityPurchaseRequests,
		Columns: cols("id", "project_id", "supplier_id", "material_spec_id", "title", "quantity",
			"estimated_cost", "status", "requested_by", "approved_by", "needed_by"),
		Relations: []Relation{
			{Name: "project", Entity: EntityProjects, ForeignKey: "project_id"},
			{Name: "supplier", Entity: EntitySuppliers, ForeignKey: "supplier_id"},
			{Name: "material_spec", Entity: EntityMaterialSpecs, ForeignKey: "material_spec_id"},
			{Name: "requester", Entity: EntityUserProfiles, ForeignKey: "requested_by"},
		},
	},
)

// DefaultRegistry returns the construction-domain registry.
func DefaultRegistry() *Registry { return defaultRegistry }
