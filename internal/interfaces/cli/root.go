package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
}

// CLIContext carries the loaded configuration and logger to subcommands.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	OutputFormat string
}

// NewRootCommand builds the constructops command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "constructops",
		Short:   "ConstructOps secure request layer",
		Long:    "ConstructOps serves the construction project API behind a request guard that\nrate limits, screens, authenticates, authorizes and validates every call.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: environment only)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json)")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		switch opts.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("invalid --log-level %q; expected debug|info|warn|error", opts.LogLevel)
		}
		cfg.Log.Level = opts.LogLevel
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}
	logging.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{
		Config:       cfg,
		ConfigPath:   opts.ConfigPath,
		Logger:       logger,
		OutputFormat: opts.OutputFormat,
	}))
	return nil
}

// skipConfigAnnotation marks commands that run without configuration.
const skipConfigAnnotation = "constructops/skip-config"

// loadConfig reads path when given, otherwise CONSTRUCTOPS_* variables.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, fmt.Errorf("cli: command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, fmt.Errorf("cli: configuration not loaded")
	}
	return cliCtx, nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		PrintError(root, err)
		return err
	}
	return nil
}

// PrintResult writes data as indented JSON or as text.
func PrintResult(cmd *cobra.Command, format string, data any) error {
	if strings.EqualFold(format, "json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}
