package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConstructOps/internal/infrastructure/database/postgres"
)

// migrationStatus is what migrate version prints.
type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s migrationStatus) String() string {
	if s.Version == 0 {
		return "no migrations applied"
	}
	if s.Dirty {
		return fmt.Sprintf("version %d (dirty)", s.Version)
	}
	return fmt.Sprintf("version %d", s.Version)
}

// migrator is the part of postgres.Migrator the commands use.
type migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

// openMigrator is replaced in tests.
var openMigrator = func(cliCtx *CLIContext) (migrator, error) {
	return postgres.NewMigrator(cliCtx.Config.Database, cliCtx.Logger)
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, cliCtx *CLIContext, m migrator, _ []string) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(cmd, cliCtx, m)
			}),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1 step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, cliCtx *CLIContext, m migrator, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil {
						return fmt.Errorf("migrate down: steps must be an integer, got %q", args[0])
					}
					steps = n
				}
				if err := m.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, cliCtx, m)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, cliCtx *CLIContext, m migrator, _ []string) error {
				return printVersion(cmd, cliCtx, m)
			}),
		},
	)
	return cmd
}

func withMigrator(fn func(*cobra.Command, *CLIContext, migrator, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cliCtx, err := GetCLIContext(cmd)
		if err != nil {
			return err
		}
		m, err := openMigrator(cliCtx)
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(cmd, cliCtx, m, args)
	}
}

func printVersion(cmd *cobra.Command, cliCtx *CLIContext, m migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	return PrintResult(cmd, cliCtx.OutputFormat, migrationStatus{Version: v, Dirty: dirty})
}
