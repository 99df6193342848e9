package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/automaker/internal/config"
)

func newConfigCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "View or modify automaker configuration",
		Long: `View or modify automaker configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
		RunE: runConfigShow,
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file paths",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
		newConfigInitCmd(),
		newConfigSetCmd(),
	)
	return c
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" && fileExists(used) {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user:    %s\n", config.ConfigFile())
	fmt.Fprintf(out, "project: %s\n", config.ProjectConfigFile(dir))
	if used := viper.ConfigFileUsed(); used != "" && fileExists(used) {
		fmt.Fprintf(out, "in use:  %s\n", used)
	}
	return nil
}

// configTarget is the file config init and set write to.
func configTarget(projectScope bool) (string, error) {
	if projectScope {
		dir, err := projectDir()
		if err != nil {
			return "", err
		}
		return config.ProjectConfigFile(dir), nil
	}
	if used := viper.ConfigFileUsed(); used != "" && filepath.Ext(used) != "" {
		return used, nil
	}
	return config.ConfigFile(), nil
}

func newConfigInitCmd() *cobra.Command {
	var (
		projectScope bool
		force        bool
	)
	c := &cobra.Command{
		Use:   "init",
		Short: "Create a config file with the default settings",
		Long: `Create a config file with every option at its default value. By default
the user config file is written; --project writes .automaker/config.yaml,
which takes precedence for that project.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFile()
			if projectScope {
				p, err := configTarget(true)
				if err != nil {
					return err
				}
				path = p
			}
			if fileExists(path) && !force {
				return fmt.Errorf("config file already exists at %s\nUse 'automaker config set' to modify values", path)
			}
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			content := "# automaker configuration\n# Engine settings (engine.*) are re-read while automaker runs.\n\n" + string(data)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", path)
			return nil
		},
	}
	c.Flags().BoolVar(&projectScope, "project-config", false, "write the project config file instead of the user one")
	c.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return c
}

func newConfigSetCmd() *cobra.Command {
	var projectScope bool
	c := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the config file.

Keys use dot notation, e.g.:
  automaker config set engine.max_concurrency 5
  automaker config set engine.auto_mode true
  automaker config set agent.model sonnet
  automaker config set agent.allowed_tools Read,Edit,Bash

Run 'automaker config show' to see every key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, raw := strings.ToLower(args[0]), args[1]
			if !slices.Contains(viper.AllKeys(), key) || key == "config" || key == "project" {
				return fmt.Errorf("unknown configuration key: %s\nRun 'automaker config show' to see valid keys", key)
			}
			value, err := parseConfigValue(key, viper.Get(key), raw)
			if err != nil {
				return err
			}

			viper.Set(key, value)
			if _, err := config.Load(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}

			path, err := configTarget(projectScope)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := writeConfigFile(path); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}
	c.Flags().BoolVar(&projectScope, "project-config", false, "write the project config file instead of the user one")
	return c
}

// parseConfigValue converts raw to the type of the key's current value.
func parseConfigValue(key string, current any, raw string) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case int, int64:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case []string, []any:
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return items, nil
	default:
		return raw, nil
	}
}

// writeConfigFile saves every setting except the CLI-only ones.
func writeConfigFile(path string) error {
	settings := viper.AllSettings()
	delete(settings, "config")
	delete(settings, "project")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
