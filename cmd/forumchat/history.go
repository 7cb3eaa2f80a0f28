package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	forumchat "github.com/forumchat/forumchat-go"
	"github.com/spf13/cobra"
)

var (
	historyPage   int
	historySize   int
	historyBefore string
	historyJSON   bool
)

func init() {
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "Page number (1 is the newest page)")
	historyCmd.Flags().IntVarP(&historySize, "size", "n", 0, "Messages per page (default: chat.page_size)")
	historyCmd.Flags().StringVar(&historyBefore, "before", "", "Only messages before this message id")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print chat room history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := resolvedConfig()
		log := newLogger()
		defer log.Sync() //nolint:errcheck
		client := getClient(cfg, log)

		size := historySize
		if size <= 0 {
			size = cfg.Chat.PageSize
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.Chat().GetMessages(ctx, historyPage, size, historyBefore)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if historyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}

		if len(page.List) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		self := forumchat.ID(cfg.Auth.UserID)
		for _, m := range page.List {
			printMessage(m, self != "" && m.UserID == self)
		}
		if page.Total > 0 {
			fmt.Printf("(%d of %d)\n", len(page.List), page.Total)
		}
		return nil
	},
}

// printMessage renders one line with a relative timestamp.
func printMessage(m forumchat.Message, own bool) {
	when := "just now"
	if !m.CreatedAt.IsZero() {
		when = humanize.Time(m.CreatedAt.Time)
	}
	name := m.Username
	if name == "" {
		name = "unknown user"
	}
	if own {
		name += " (you)"
	}
	fmt.Printf("[%s] %s: %s\n", when, name, m.Content)
}
