// Package cli is the tutor command line: the HTTP service, the background
// worker and the operator commands for students, assessments and reports.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alem-hub/socratic-tutor/config"
	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

// Options configure the root command. Zero values load everything from the
// environment.
type Options struct {
	Version string

	// Config skips loading when set.
	Config *config.Config

	// Gateway replaces the configured completion providers.
	Gateway completion.Gateway

	// LogOutput receives logs (default stderr).
	LogOutput io.Writer
}

// Execute runs the root command with process arguments.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(Options{Version: version}).ExecuteContext(ctx)
}

// runtime carries state shared by the subcommands of one invocation.
type runtime struct {
	opts Options

	configFile string
	envFile    string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	rt := &runtime{opts: opts}

	rootCmd := &cobra.Command{
		Use:           "tutor",
		Short:         "Socratic tutor: guided problem solving and cohort comparison",
		Long:          "tutor runs the Socratic tutoring service and the operator tools of the two-cohort study: student registration, assessments, cohort comparison and report export.",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rt.configFile, "config", "", "config file (yaml or toml)")
	flags.StringVar(&rt.envFile, "env-file", ".env", "dotenv file to preload")
	flags.StringVar(&rt.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newServeCmd(rt),
		newWorkerCmd(rt),
		newMigrateCmd(rt),
		newStudentCmd(rt),
		newChatCmd(rt),
		newAssessCmd(rt),
		newCompareCmd(rt),
		newExportCmd(rt),
		newResourcesCmd(rt),
	)

	return rootCmd
}

func (rt *runtime) load() error {
	cfg := rt.opts.Config
	if cfg == nil {
		loaded, err := config.Load(config.LoadOptions{File: rt.configFile, DotEnv: rt.envFile})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if rt.logLevel != "" {
		cfg.Logging.Level = rt.logLevel
	}
	if cfg.App.Version == "" {
		cfg.App.Version = rt.opts.Version
	}

	out := rt.opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	rt.cfg = cfg
	rt.log = logger.Setup(logger.Options{
		Output: out,
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: logger.ParseFormat(cfg.Logging.Format),
	})
	return nil
}

// bootstrap wires the application for a subcommand.
func (rt *runtime) bootstrap(ctx context.Context, migrate bool) (*App, error) {
	return Bootstrap(ctx, rt.cfg, rt.log, BootstrapOptions{
		Gateway: rt.opts.Gateway,
		Migrate: migrate,
	})
}
