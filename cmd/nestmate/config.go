package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"

	nestmate "github.com/nestmate-app/nestmate/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKey describes one settable field. fallback is what the SDK uses when
// the field is left empty.
type configKey struct {
	name     string
	get      func(*Config) string
	fallback string
	secret   bool
}

var configKeys = []configKey{
	{name: "default.environment", get: func(c *Config) string { return c.Default.Environment }, fallback: string(nestmate.Production)},
	{name: "default.base_url", get: func(c *Config) string { return c.Default.BaseURL }},
	{name: "default.ws_url", get: func(c *Config) string { return c.Default.WSURL }},
	{name: "auth.token", get: func(c *Config) string { return c.Auth.Token }, secret: true},
	{name: "auth.user_id", get: func(c *Config) string { return c.Auth.UserID }},
	{name: "realtime.max_reconnect_attempts", get: func(c *Config) string {
		if c.Realtime.MaxReconnectAttempts == 0 {
			return ""
		}
		return strconv.Itoa(c.Realtime.MaxReconnectAttempts)
	}, fallback: "5"},
	{name: "realtime.reconnect_delay", get: func(c *Config) string { return c.Realtime.ReconnectDelay }, fallback: "2s"},
}

// getConfigValue reads a field using the same dot notation as set.
func getConfigValue(cfg *Config, key string) (string, error) {
	for _, k := range configKeys {
		if k.name == key {
			return k.get(cfg), nil
		}
	}
	return "", fmt.Errorf("unknown config key %q (run 'nestmate config show' to list keys)", key)
}

// writeConfig prints every key with its effective value. Empty fields show
// the value the SDK falls back to.
func writeConfig(w io.Writer, cfg *Config) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range configKeys {
		v := k.get(cfg)
		switch {
		case v != "" && k.secret:
			v = maskKey(v)
		case v == "" && k.fallback != "":
			v = k.fallback + " (default)"
		case v == "":
			v = "(not set)"
		}
		fmt.Fprintf(tw, "%s\t%s\n", k.name, v)
	}
	live := nestmate.NewClient("", clientOptions(cfg, slog.New(slog.DiscardHandler))...).RealtimeURL()
	fmt.Fprintf(tw, "%s\t%s\n", "live endpoint", live)
	return tw.Flush()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Nestmate configuration",
	Long: `View or modify the Nestmate CLI configuration stored in ~/.nestmate/config.toml
(or $NESTMATE_CONFIG_DIR/config.toml).

Sections:
  [default]   environment, base_url, ws_url
  [auth]      token, user_id
  [realtime]  max_reconnect_attempts, reconnect_delay`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print every configuration key with the value the CLI will use. The token is masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

var configGetCmd = &cobra.Command{
	Use:     "get <key>",
	Short:   "Print a single configuration value",
	Example: "  nestmate config get realtime.reconnect_delay",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		v, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using section.field notation.",
	Example: `  nestmate config set default.ws_url wss://live.nestmate.app/ws
  nestmate config set realtime.max_reconnect_attempts 10
  nestmate config set realtime.reconnect_delay 3s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
