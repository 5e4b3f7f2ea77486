package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/cosmos-bootstrap/internal/config"
	"github.com/oshokin/cosmos-bootstrap/internal/logger"
	"github.com/oshokin/cosmos-bootstrap/internal/service/bootstrap"
	"github.com/oshokin/cosmos-bootstrap/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// outputDir is where snapshots/, bin_extract/ and data/ are created.
	outputDir string
	// verbose enables debug logging.
	verbose bool
	// logLevel selects the log level when verbose is not set.
	logLevel string
	// force lets a run replace files left by a previous run.
	force bool
	// logFile optionally mirrors log output into a rotating file.
	logFile string

	// runCtx carries the configured logger once flags are parsed.
	runCtx = context.Background()

	// rootCmd represents the base command that bootstraps a node.
	rootCmd = &cobra.Command{
		Use:   "cosmos-bootstrap",
		Short: "Bootstrap a Cosmos SDK node from a snapshot.",
		Long: `Prepare a Cosmos SDK node home from a chain snapshot in one run.

Downloads the snapshot archive and the node binary tarball, extracts both,
moves the snapshot into the data directory, runs the node's init command and
applies the configured overrides to app.toml and config.toml.
Every stage runs in order and the first failure stops the run.

Use "sample-config" to write an example configuration file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log := logger.New(logger.VerbosityLevel(verbose, logLevel), logger.WithFileSink(logFile))
			runCtx = logger.ToContext(cmd.Context(), log)
			cmd.SetContext(runCtx)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			bootstrapOptions := &bootstrap.Options{
				ConfigPath: configPath,
				OutputDir:  outputDir,
				Overwrite:  force,
			}

			return bootstrap.Run(ctx, bootstrapOptions)
		},
	}
)

// Execute runs the cosmos-bootstrap CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(sampleConfigCmd)

	if err := rootCmd.ExecuteContext(runCtx); err != nil {
		logger.ErrorKV(runCtx, "Run failed", "error", err)
		_ = logger.FromContext(runCtx).Sync()

		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "replace files left by a previous run")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated automatically")

	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory receiving snapshots/, bin_extract/ and data/")
}
