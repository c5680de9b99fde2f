package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and unread total",
	Long:  "Display the current configuration and fetch the first conversation page to report the unread total.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}
		if cfg.Default.WSURL != "" {
			fmt.Printf("  Live URL:    %s\n", cfg.Default.WSURL)
		}

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:       %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:       (not set)")
		}

		if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		a := getApp()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		list, err := a.session.ListConversations(ctx, 1, 20)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		fmt.Printf("  Conversations: %d (first page)\n", len(list))
		fmt.Printf("  Unread:        %d\n", a.store.UnreadTotal())
		return nil
	},
}
