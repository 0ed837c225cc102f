// Package cmd provides the CLI commands for docqa.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/internal/config"
	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/logging"
	"github.com/Aman-CERP/docqa/pkg/version"
)

// skipSetup marks commands that run without configuration or logging.
const skipSetup = "skip_setup"

var (
	configPath     string
	debugMode      bool
	loadedConfig   *config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docqa CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docqa",
		Short: "Hybrid retrieval over clinical documents",
		Long: `docqa splits clinical documents into section-tagged passages, embeds them,
and answers queries by fusing vector similarity with BM25 keyword ranking.

Documents arrive on a durable queue ('docqa serve') or from the command
line ('docqa index').`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("docqa version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./docqa.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRunE = teardown

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and installs the default logger.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	cfg, err := config.LoadWithFile(".", configPath)
	if err != nil {
		return err
	}
	loadedConfig = cfg

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: debugMode || cmd.Name() == "serve",
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints any error for the terminal.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprintln(root.ErrOrStderr(), docqaerrors.FormatForCLI(err))
	}
	return err
}
