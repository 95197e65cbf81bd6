package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/restcache/internal/telemetry"
)

// RootOptions holds global flags for all commands, merged with Config.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Config Config
	Logger *slog.Logger

	shutdown func(context.Context) error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// setupTelemetry is replaced in tests.
var setupTelemetry = telemetry.Setup

// Execute runs the restcache CLI with args. Telemetry is flushed whether
// or not the command succeeds.
func Execute(ctx context.Context, args []string) error {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	defer opts.teardown(context.WithoutCancel(ctx))
	return cmd.ExecuteContext(ctx)
}

// NewRootCommand creates the root command for the restcache CLI. It does
// not flush telemetry; use Execute for that.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restcache",
		Short: "restcache - normalized REST resource cache",
		Long: `Tooling for the restcache normalized resource cache: schema validation,
request keys, scenario runs and transition journals.

Environment:
  RESTCACHE_JOURNAL        default journal path for run, trace and replay
  RESTCACHE_FORMAT         default output format (json|text)
  RESTCACHE_LOG_LEVEL      log level when not --verbose (debug|info|warn|error)
  RESTCACHE_FETCH_POLICY   default fetch policy for scenario queries
  RESTCACHE_OTEL_ENDPOINT  OTLP/HTTP endpoint for fetch spans (disabled when empty)`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

// setup merges env into flags, installs the logger and starts telemetry.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return NewExitError(ExitCommandError, err.Error())
	}
	o.Config = cfg

	if !cmd.Flags().Changed("format") {
		o.Format = cfg.Format
	}
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}

	o.Logger = newLogger(cmd.ErrOrStderr(), cfg, o.Verbose)
	slog.SetDefault(o.Logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := setupTelemetry(ctx, "restcache", cfg.OTelEndpoint)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: failed to start telemetry: %v\n", err)
		return WrapExitError(ExitCommandError, "failed to start telemetry", err)
	}
	o.shutdown = shutdown
	return nil
}

func (o *RootOptions) teardown(ctx context.Context) {
	if o.shutdown == nil {
		return
	}
	if err := o.shutdown(ctx); err != nil {
		o.logger().Warn("telemetry shutdown failed", "error", err)
	}
	o.shutdown = nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// logger returns the configured logger, or the default one when setup
// has not run (commands invoked directly in tests).
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
