package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/dropwatch/configs"
	"github.com/Aman-CERP/dropwatch/internal/config"
	"github.com/Aman-CERP/dropwatch/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage dropwatch configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/dropwatch/config.yaml)
  3. Root config (<root>/.dropwatch.yaml)
  4. <root>/.env (never overrides variables already set)
  5. Environment variables (DROPWATCH_*)`,
		Example: `  # Write a root config with the defaults
  dropwatch config init /srv/drop

  # Show effective configuration (merged from all sources)
  dropwatch config show /srv/drop`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <root>",
		Short: "Create <root>/.dropwatch.yaml",
		Long: `Write the root configuration file with every option at its default.

With --force an existing file is backed up first, then rewritten with its
current values kept and any new options added at their defaults.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, args[0], force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Back up and rewrite an existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show <root>",
		Short: "Show effective configuration",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, args[0], jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, root, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <root>",
		Short: "Print config file paths",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.RootConfigPath(root))
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <root>",
		Short: "Restore the newest backup of the root config",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigRestore(cmd, args[0])
		},
	}
}

func runConfigInit(cmd *cobra.Command, rootArg string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := resolveRoot(rootArg)
	if err != nil {
		return err
	}
	path := config.RootConfigPath(root)

	if fileExists(path) {
		if !force {
			out.Warning("Configuration already exists")
			out.Field("location", path)
			out.Status("", "Use --force to rewrite it with new defaults (keeps your settings)")
			return nil
		}

		backup, err := config.Backup(path)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		if err := cfg.WriteYAML(path); err != nil {
			return err
		}
		out.Success("Configuration rewritten")
		out.Field("location", path)
		out.Field("backup", backup)
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.RootConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	out.Success("Created configuration")
	out.Field("location", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, rootArg string, jsonOutput bool, source string) error {
	var (
		cfg  *config.Config
		desc string
	)

	switch source {
	case "merged":
		c, err := loadConfig(rootArg)
		if err != nil {
			return err
		}
		cfg, desc = c, "merged (defaults + user + root + env)"
	case "root":
		root, err := resolveRoot(rootArg)
		if err != nil {
			return err
		}
		path := config.RootConfigPath(root)
		if !fileExists(path) {
			out := output.New(cmd.OutOrStdout())
			out.Warning("No root configuration file found")
			out.Field("expected at", path)
			return nil
		}
		cfg, err = config.LoadFile(path)
		if err != nil {
			return err
		}
		desc = "root (" + path + ")"
	case "defaults":
		cfg, desc = config.NewConfig(), "defaults"
	default:
		return fmt.Errorf("invalid source: %s (use: merged, root, defaults)", source)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", desc, data)
	return nil
}

func runConfigRestore(cmd *cobra.Command, rootArg string) error {
	out := output.New(cmd.OutOrStdout())

	root, err := resolveRoot(rootArg)
	if err != nil {
		return err
	}
	path := config.RootConfigPath(root)

	backups, err := config.ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return fmt.Errorf("no backups of %s", path)
	}
	if err := config.Restore(path, backups[0]); err != nil {
		return err
	}
	out.Success("Configuration restored")
	out.Field("from", backups[0])
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
