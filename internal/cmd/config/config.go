// Package config provides CLI commands for managing formrunner configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	appconfig "github.com/Iron-Ham/formrunner/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify formrunner configuration",
	Long: `View or modify formrunner configuration.

Settings are read from the config file, then overridden by FORMRUNNER_*
environment variables (e.g. FORMRUNNER_SESSIONS_MAX_SESSIONS=5) and flags.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  formrunner config set sessions.max_sessions 5
  formrunner config set driver.base_url https://portal.example.com
  formrunner config set driver.headless false`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/formrunner/config.yaml with all available options.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

// Register adds the config command tree to parent.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// keyKinds lists the settable keys and how their values are parsed.
var keyKinds = map[string]string{
	"sessions.max_sessions":             "int",
	"sessions.batch_size":               "int",
	"sessions.sub_batch_size":           "int",
	"submit.max_retries":                "int",
	"submit.call_timeout_seconds":       "int",
	"submit.form_steps":                 "int",
	"control.poll_interval_ms":          "int",
	"control.max_poll_interval_ms":      "int",
	"driver.kind":                       "string",
	"driver.headless":                   "bool",
	"driver.base_url":                   "string",
	"driver.form_path":                  "string",
	"driver.probe_path":                 "string",
	"driver.edit_path":                  "string",
	"driver.user_agent":                 "string",
	"driver.selectors.field":            "string",
	"driver.selectors.submit":           "string",
	"driver.selectors.save":             "string",
	"driver.selectors.validation_error": "string",
	"driver.selectors.external_id":      "string",
	"driver.selectors.incomplete":       "string",
	"store.kind":                        "string",
	"store.path":                        "string",
	"logging.level":                     "string",
	"logging.dir":                       "string",
	"logging.max_size_mb":               "int",
	"logging.max_backups":               "int",
	"logging.compress":                  "bool",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	return writeYAML(out, appconfig.Get())
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	kind, ok := keyKinds[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(validKeys(), ", "))
	}

	typed, err := parseValue(key, kind, value)
	if err != nil {
		return err
	}

	viper.Set(key, typed)
	if _, err := appconfig.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	if err := os.MkdirAll(appconfig.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typed)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

func parseValue(key, kind, value string) (any, error) {
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	default:
		return value, nil
	}
}

func validKeys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

const configHeader = `# formrunner configuration
#
# Environment variables override these values: FORMRUNNER_<SECTION>_<KEY>,
# e.g. FORMRUNNER_DRIVER_BASE_URL.

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'formrunner config set' to modify values", configFile)
	}

	if err := os.MkdirAll(appconfig.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(configHeader)
	if err := writeYAML(&sb, appconfig.Default()); err != nil {
		return err
	}
	if err := os.WriteFile(configFile, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(out, used)
		return nil
	}
	configFile := appconfig.ConfigFile()
	fmt.Fprintln(out, configFile)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintln(out, "(file does not exist - run 'formrunner config init' to create it)")
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := appconfig.Load(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}

func writeYAML(w io.Writer, cfg *appconfig.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
