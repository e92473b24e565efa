// Package authz is the role-based permission model for construction projects.
// Permissions are named "<resource>:<action>".
package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Permission names a capability.
type Permission string

// Resource returns the part before the colon.
func (p Permission) Resource() string {
	r, _, _ := strings.Cut(string(p), ":")
	return r
}

const (
	PermProjectsRead   Permission = "projects:read"
	PermProjectsWrite  Permission = "projects:write"
	PermProjectsDelete Permission = "projects:delete"

	PermTasksRead   Permission = "tasks:read"
	PermTasksWrite  Permission = "tasks:write"
	PermTasksDelete Permission = "tasks:delete"

	PermMaterialSpecsRead    Permission = "material_specs:read"
	PermMaterialSpecsWrite   Permission = "material_specs:write"
	PermMaterialSpecsApprove Permission = "material_specs:approve"

	PermShopDrawingsRead    Permission = "shop_drawings:read"
	PermShopDrawingsWrite   Permission = "shop_drawings:write"
	PermShopDrawingsApprove Permission = "shop_drawings:approve"

	PermFieldReportsRead  Permission = "field_reports:read"
	PermFieldReportsWrite Permission = "field_reports:write"

	PermPurchaseRequestsRead    Permission = "purchase_requests:read"
	PermPurchaseRequestsWrite   Permission = "purchase_requests:write"
	PermPurchaseRequestsApprove Permission = "purchase_requests:approve"

	PermSuppliersRead  Permission = "suppliers:read"
	PermSuppliersWrite Permission = "suppliers:write"

	PermUsersRead  Permission = "users:read"
	PermUsersWrite Permission = "users:write"
)

// Role is a user role as stored on the profile.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleManagement      Role = "management"
	RoleTechnicalLead   Role = "technical_lead"
	RoleProjectManager  Role = "project_manager"
	RoleArchitect       Role = "architect"
	RoleEngineer        Role = "engineer"
	RoleFieldWorker     Role = "field_worker"
	RolePurchaseManager Role = "purchase_manager"
	RoleClient          Role = "client"
)

// AllRoles lists every known role.
var AllRoles = []Role{
	RoleAdmin, RoleManagement, RoleTechnicalLead, RoleProjectManager, RoleArchitect,
	RoleEngineer, RoleFieldWorker, RolePurchaseManager, RoleClient,
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// RolePermissionMapping maps roles to their granted permissions.
type RolePermissionMapping map[Role][]Permission

// PermissionEvaluator answers whether a role grants a permission.
type PermissionEvaluator interface {
	HasPermission(role Role, permission Permission) bool
}

// DefaultRolePermissionMapping returns the built-in grants. Admin is absent
// because the Evaluator grants it everything.
func DefaultRolePermissionMapping() RolePermissionMapping {
	readAll := []Permission{
		PermProjectsRead, PermTasksRead, PermMaterialSpecsRead, PermShopDrawingsRead,
		PermFieldReportsRead, PermPurchaseRequestsRead, PermSuppliersRead,
	}
	with := func(extra ...Permission) []Permission {
		out := make([]Permission, 0, len(readAll)+len(extra))
		out = append(out, readAll...)
		return append(out, extra...)
	}

	return RolePermissionMapping{
		RoleManagement: with(
			PermProjectsWrite, PermProjectsDelete, PermTasksWrite, PermTasksDelete,
			PermMaterialSpecsWrite, PermMaterialSpecsApprove, PermShopDrawingsWrite, PermShopDrawingsApprove,
			PermFieldReportsWrite, PermPurchaseRequestsWrite, PermPurchaseRequestsApprove,
			PermSuppliersWrite, PermUsersRead,
		),
		RoleTechnicalLead: with(
			PermTasksWrite, PermMaterialSpecsWrite, PermMaterialSpecsApprove,
			PermShopDrawingsWrite, PermShopDrawingsApprove, PermFieldReportsWrite,
		),
		RoleProjectManager: with(
			PermProjectsWrite, PermTasksWrite, PermTasksDelete, PermMaterialSpecsWrite,
			PermShopDrawingsWrite, PermFieldReportsWrite, PermPurchaseRequestsWrite, PermUsersRead,
		),
		RoleArchitect: with(PermMaterialSpecsWrite, PermShopDrawingsWrite, PermTasksWrite),
		RoleEngineer:  with(PermTasksWrite, PermShopDrawingsWrite, PermFieldReportsWrite),
		RoleFieldWorker: {
			PermProjectsRead, PermTasksRead, PermTasksWrite, PermFieldReportsRead, PermFieldReportsWrite,
		},
		RolePurchaseManager: with(
			PermPurchaseRequestsWrite, PermPurchaseRequestsApprove, PermSuppliersWrite,
		),
		RoleClient: {PermProjectsRead, PermTasksRead, PermShopDrawingsRead, PermFieldReportsRead},
	}
}

// Evaluator is the in-process PermissionEvaluator. The mapping can be swapped
// at runtime with UpdateMapping.
type Evaluator struct {
	mu     sync.RWMutex
	grants map[Role]map[Permission]struct{}
}

// NewEvaluator builds an Evaluator; a nil mapping means the defaults.
func NewEvaluator(mapping RolePermissionMapping) *Evaluator {
	if mapping == nil {
		mapping = DefaultRolePermissionMapping()
	}
	e := &Evaluator{}
	e.UpdateMapping(mapping)
	return e
}

// UpdateMapping replaces the grants.
func (e *Evaluator) UpdateMapping(mapping RolePermissionMapping) {
	grants := make(map[Role]map[Permission]struct{}, len(mapping))
	for role, perms := range mapping {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		grants[role] = set
	}
	e.mu.Lock()
	e.grants = grants
	e.mu.Unlock()
}

// HasPermission reports whether role grants permission. Admin holds every
// permission.
func (e *Evaluator) HasPermission(role Role, permission Permission) bool {
	if role == RoleAdmin {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[role][permission]
	return ok
}

// Permissions returns the sorted grants of role.
func (e *Evaluator) Permissions(role Role) []Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Permission, 0, len(e.grants[role]))
	for p := range e.grants[role] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MappingFromConfig merges string overrides (as loaded from configuration)
// over the defaults. Unknown roles and malformed permission names are errors.
func MappingFromConfig(overrides map[string][]string) (RolePermissionMapping, error) {
	mapping := DefaultRolePermissionMapping()
	for rawRole, rawPerms := range overrides {
		role := Role(strings.ToLower(strings.TrimSpace(rawRole)))
		if !role.IsValid() {
			return nil, fmt.Errorf("authz: unknown role %q", rawRole)
		}
		perms := make([]Permission, 0, len(rawPerms))
		for _, raw := range rawPerms {
			p := Permission(strings.TrimSpace(raw))
			resource, action, ok := strings.Cut(string(p), ":")
			if !ok || resource == "" || action == "" {
				return nil, fmt.Errorf("authz: malformed permission %q for role %s", raw, role)
			}
			perms = append(perms, p)
		}
		mapping[role] = perms
	}
	return mapping, nil
}

// RoleIn reports whether role is in allowed.
func RoleIn(role Role, allowed []Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// JoinRoles renders roles for messages, e.g. "admin, management".
func JoinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
