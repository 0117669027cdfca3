package main

import (
	"context"
	"fmt"
	"time"

	mingle "github.com/mingle-social/mingle-go"
	"github.com/spf13/cobra"
)

var conversationsLimit int

func init() {
	conversationsCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "maximum conversations to list")
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convos"},
	Short:   "List conversations with unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convos, err := client.Conversations.List(ctx, &mingle.PageOptions{Limit: conversationsLimit})
		if err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		if len(convos) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, conv := range convos {
			name := conv.Name
			if name == "" && len(conv.Participants) > 0 {
				name = conv.Participants[0].Username
			}
			preview := ""
			if conv.LastMessage != nil {
				preview = truncate(conv.LastMessage.Content, 48)
			}
			unread := ""
			if conv.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
			}
			fmt.Printf("%6d  %-24s%s  %s\n", conv.ID, truncate(name, 24), unread, preview)
		}
		return nil
	},
}
