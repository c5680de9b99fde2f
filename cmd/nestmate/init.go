package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initUserID string

func init() {
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "Id of the signed-in user (required)")
	_ = initCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store credentials in ~/.nestmate/config.toml",
	Long:  "Initialize the Nestmate CLI by storing your access token and user id in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		cfg.Auth.UserID = initUserID
		if cfg.Default.Environment == "" {
			cfg.Default.Environment = "production"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Credentials saved to %s\n", path)
		return nil
	},
}
