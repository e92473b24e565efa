//go:build integration

package postgres_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/database/postgres"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/query"
	pkgerrors "github.com/turtacn/ConstructOps/pkg/errors"
)

// startPostgres launches PostgreSQL 16, applies the embedded schema and
// returns an open connection.
func startPostgres(t *testing.T) *postgres.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "constructops_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     portNum,
		User:     "test",
		Password: "test",
		DBName:   "constructops_test",
		SSLMode:  "disable",
	}
	log := logging.NewNopLogger()

	mg, err := postgres.NewMigrator(cfg, log)
	require.NoError(t, err)
	require.NoError(t, mg.Up())
	version, dirty, err := mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, mg.Close())

	conn, err := postgres.NewConnection(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func insert(t *testing.T, exec *postgres.Executor, entity string, values map[string]any) map[string]any {
	t.Helper()
	b, err := query.NewBuilder(query.DefaultRegistry(), entity)
	require.NoError(t, err)
	require.NoError(t, b.Insert(values))
	in, err := b.Render()
	require.NoError(t, err)
	res, err := exec.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	return res.Rows[0]
}

func TestExecutorRoundTrip(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()
	exec := postgres.NewExecutor(conn.DB(), 5*time.Second, logging.NewNopLogger())

	pm := insert(t, exec, query.EntityUserProfiles, map[string]any{"email": "pm@example.com", "full_name": "Pat Manager", "role": "project_manager"})
	eng := insert(t, exec, query.EntityUserProfiles, map[string]any{"email": "eng@example.com", "full_name": "Eli Engineer", "role": "engineer"})
	project := insert(t, exec, query.EntityProjects, map[string]any{"name": "Tower A", "project_manager_id": pm["id"]})
	insert(t, exec, query.EntityTasks, map[string]any{"project_id": project["id"], "title": "100% done inspection", "priority": 2})
	insert(t, exec, query.EntityTasks, map[string]any{"project_id": project["id"], "title": "1000 bolts delivered", "priority": 3})

	b, err := query.NewBuilder(query.DefaultRegistry(), query.EntityTasks)
	require.NoError(t, err)
	require.NoError(t, b.SelectColumns("id", "title", "project(name)"))
	require.NoError(t, b.AddSearchFilter("100% done", []string{"title"}))
	require.NoError(t, b.AddSort("priority", true))
	b.ApplyPagination(1, 10)
	in, err := b.Render()
	require.NoError(t, err)

	res, err := exec.Execute(ctx, in)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, "100% done inspection", res.Rows[0]["title"])
	assert.Equal(t, map[string]any{"name": "Tower A"}, res.Rows[0]["project"])

	_, err = exec.Execute(ctx, mustInsert(t, query.EntityUserProfiles, map[string]any{"email": "pm@example.com"}))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeStorageConflict))

	checker := postgres.NewProjectAccessChecker(conn.DB(), logging.NewNopLogger())
	rcPM := &auth.RequestContext{User: &auth.User{ID: pm["id"].(string)}, Profile: &auth.Profile{Role: "project_manager"}}
	rcEng := &auth.RequestContext{User: &auth.User{ID: eng["id"].(string)}, Profile: &auth.Profile{Role: "engineer"}}

	ok, err := checker.CanAccess(ctx, rcPM, query.EntityProjects, project["id"].(string))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.CanAccess(ctx, rcEng, query.EntityProjects, project["id"].(string))
	require.NoError(t, err)
	assert.False(t, ok)

	insert(t, exec, query.EntityProjectAssignments, map[string]any{"project_id": project["id"], "user_id": eng["id"], "role": "engineer"})
	ok, err = checker.CanAccess(ctx, rcEng, query.EntityProjects, project["id"].(string))
	require.NoError(t, err)
	assert.True(t, ok)

	profiles := postgres.NewProfileStore(conn.DB(), logging.NewNopLogger())
	p, err := profiles.LoadProfile(ctx, eng["id"].(string))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "engineer", p.Role)
}

func mustInsert(t *testing.T, entity string, values map[string]any) query.Instructions {
	t.Helper()
	b, err := query.NewBuilder(query.DefaultRegistry(), entity)
	require.NoError(t, err)
	require.NoError(t, b.Insert(values))
	in, err := b.Render()
	require.NoError(t, err)
	return in
}
