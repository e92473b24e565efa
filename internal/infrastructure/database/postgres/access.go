package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/query"
	"github.com/turtacn/ConstructOps/internal/security/validation"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

const projectMembershipSQL = `SELECT EXISTS (
	SELECT 1 FROM "project_assignments" WHERE "project_id" = $1 AND "user_id" = $2
) OR EXISTS (
	SELECT 1 FROM "projects" WHERE "id" = $1 AND ("project_manager_id" = $2 OR "client_id" = $2)
)`

// ProjectAccessChecker decides row-level access by project membership. A
// caller may touch a project, or a row belonging to a project, when assigned
// to it, managing it or being its client.
type ProjectAccessChecker struct {
	db       *sql.DB
	registry *query.Registry
	bypass   []authz.Role
	logger   logging.Logger
}

// NewProjectAccessChecker returns a checker where admin and management see
// every project.
func NewProjectAccessChecker(db *sql.DB, log logging.Logger) *ProjectAccessChecker {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ProjectAccessChecker{
		db:       db,
		registry: query.DefaultRegistry(),
		bypass:   []authz.Role{authz.RoleAdmin, authz.RoleManagement},
		logger:   log,
	}
}

// CanAccess reports whether rc may access the row id of resource. Resources
// without a project column are not project scoped and are always allowed.
func (c *ProjectAccessChecker) CanAccess(ctx context.Context, rc *auth.RequestContext, resource, id string) (bool, error) {
	if rc.UserID() == "" || !validation.IsUUID(id) {
		return false, nil
	}
	if authz.RoleIn(authz.Role(rc.Role()), c.bypass) {
		return true, nil
	}

	projectID := id
	if resource != query.EntityProjects {
		if !c.registry.HasColumn(resource, "project_id") {
			return true, nil
		}
		var owner sql.NullString
		err := c.db.QueryRowContext(ctx, `SELECT "project_id" FROM `+ident(resource)+` WHERE "id" = $1`, id).Scan(&owner)
		if stderrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, c.fail(resource, err)
		}
		if !owner.Valid {
			return false, nil
		}
		projectID = owner.String
	}

	var member bool
	if err := c.db.QueryRowContext(ctx, projectMembershipSQL, projectID, rc.UserID()).Scan(&member); err != nil {
		return false, c.fail(resource, err)
	}
	return member, nil
}

func (c *ProjectAccessChecker) fail(resource string, err error) error {
	c.logger.Error("access check failed", logging.String("resource", resource), logging.Err(err))
	return errors.New(errors.ErrCodeStorageFailure, errors.DefaultMessageForCode(errors.ErrCodeStorageFailure)).WithCause(err)
}
