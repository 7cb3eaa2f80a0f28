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
	Short: "Show current configuration and who is online",
	Long:  "Display the current configuration and fetch the live online user list from the server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := resolvedConfig()

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Printf("  Page size: %d\n", cfg.Chat.PageSize)

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.SessionCookie != "" {
			fmt.Printf("  Session:   %s\n", maskKey(cfg.Auth.SessionCookie))
		} else {
			fmt.Println("  Session:   (not set)")
		}
		fmt.Printf("  User ID:   %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		fmt.Printf("  Username:  %s\n", valueOrDefault(cfg.Auth.Username, "(not set)"))

		if cfg.Default.BaseURL == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		log := newLogger()
		defer log.Sync() //nolint:errcheck
		client := getClient(cfg, log)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		users, err := client.Chat().GetOnlineUsers(ctx)
		if err != nil {
			fmt.Printf("  Error fetching online users: %v\n", err)
			return nil
		}
		fmt.Printf("  Online:    %d\n", len(users))
		for _, u := range users {
			fmt.Printf("    - %s (%s)\n", u.Username, u.ID)
		}
		return nil
	},
}
