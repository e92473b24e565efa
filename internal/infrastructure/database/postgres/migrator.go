package postgres

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationSource returns the embedded schema migrations.
func MigrationSource() (source.Driver, error) {
	return iofs.New(migrationFiles, "migrations")
}

// Migrator applies the embedded schema. It owns a dedicated pool that Close
// releases.
type Migrator struct {
	m      *migrate.Migrate
	logger logging.Logger
}

// NewMigrator opens a dedicated connection for migrations.
func NewMigrator(cfg config.DatabaseConfig, log logging.Logger) (*Migrator, error) {
	db, err := sqlOpen(driverName, BuildDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to open database connection")
	}
	m, err := newMigrator(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func newMigrator(db *sql.DB, log logging.Logger) (*Migrator, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	src, err := MigrationSource()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load migrations")
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create migrate instance")
	}
	return &Migrator{m: m, logger: log}, nil
}

// Up applies all pending migrations.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations")
	}
	version, dirty, _ := mg.Version()
	mg.logger.Info("Database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// Down rolls back steps migrations.
func (mg *Migrator) Down(steps int) error {
	if steps <= 0 {
		return errors.New(errors.ErrCodeBadRequest, fmt.Sprintf("steps must be greater than 0, got %d", steps))
	}
	if err := mg.m.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, fmt.Sprintf("failed to roll back %d step(s)", steps))
	}
	mg.logger.Info("Database migrations rolled back", logging.Int("steps", steps))
	return nil
}

// Version reports the applied version; 0 means none.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get migration version")
	}
	return version, dirty, nil
}

// Close releases the source and the migration connection.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
