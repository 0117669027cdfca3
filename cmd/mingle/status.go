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
	Short: "Show current configuration and account status",
	Long:  "Display the stored configuration, check the session token, and fetch live unread counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL: %s\n", cfg.Default.BaseURL)
		} else {
			fmt.Println("  Base URL: (production)")
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:    (not logged in)")
			return nil
		}
		fmt.Printf("  Token:    %s\n", maskToken(cfg.Auth.Token))
		if cfg.Auth.UserID != 0 {
			fmt.Printf("  User ID:  %d\n", cfg.Auth.UserID)
		}
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username: %s\n", cfg.Auth.Username)
		}

		// Live check: a session rejects an expired token, and the
		// conversation list gives us current unread totals.
		session := getSession()
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		if err := session.RefreshConversations(ctx); err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		convos := session.Cache().Conversations()
		fmt.Printf("  Conversations: %d\n", len(convos))
		fmt.Printf("  Unread:        %d\n", session.Cache().UnreadTotal())
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "..."
	}
	return token[:8] + "..." + token[len(token)-4:]
}
