package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/configs"
	"github.com/Aman-CERP/docqa/internal/config"
	"github.com/Aman-CERP/docqa/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return output.New(cmd.OutOrStdout()).JSON(loadedConfig)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	var resolved bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a commented docqa.yaml",
		Long: `Write a commented docqa.yaml listing every setting with its default.
--resolved writes the effective configuration instead, after the user config,
.env and environment overrides are applied.`,
		Args: cobra.MaximumNArgs(1),
		Annotations: map[string]string{
			skipSetup: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, "docqa.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := writeConfigFile(path, resolved); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "Write the effective configuration")
	return cmd
}

func writeConfigFile(path string, resolved bool) error {
	if !resolved {
		return os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644)
	}
	cfg, err := config.LoadWithFile(".", configPath)
	if err != nil {
		return err
	}
	return cfg.WriteYAML(path)
}
