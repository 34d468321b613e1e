package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrecall/configs"
	"github.com/Aman-CERP/amanrecall/internal/config"
	"github.com/Aman-CERP/amanrecall/internal/ui"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage amanrecall configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/amanrecall/config.yaml)
  3. Project config (.amanrecall.yaml)
  4. Environment variables (AMANRECALL_*)

--config replaces steps 2 and 3 with a single file.`,
		Example: `  # Show effective configuration
  amanrecall config show

  # Create user config with every default spelled out
  amanrecall config init

  # Snapshot the effective configuration, env overrides included
  amanrecall config init --effective --path .amanrecall.yaml

  # Print user config file path
  amanrecall config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force     bool
		effective bool
		path      string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file",
		Example: `  amanrecall config init
  amanrecall config init --path .amanrecall.yaml --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = config.GetUserConfigPath()
			}
			return runConfigInit(cmd, path, force, effective)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")
	cmd.Flags().StringVar(&path, "path", "", "Where to write (default: user config path)")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force, effective bool) error {
	styles := ui.GetStyles(!ui.UseColor(cmd.OutOrStdout()))

	if _, err := os.Stat(path); err == nil && !force {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s configuration already exists at %s\n",
			styles.Warning.Render("!"), path)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  Use --force to overwrite")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if effective {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.WriteYAML(path); err != nil {
			return err
		}
	} else if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", styles.Success.Render("✓"), path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return ui.NewRenderer(cmd.OutOrStdout(), true).JSON(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
