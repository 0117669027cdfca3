package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mingle "github.com/mingle-social/mingle-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live notifications and presence changes",
	Long:  "Connect to the notification channel and print notifications, presence changes and unread totals as they arrive. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		session := getSession()
		defer session.Close()

		stream := session.Notifications()
		stream.OnNotification(func(n mingle.Notification) {
			fmt.Printf("[%s] %s: %s (unread notifications: %d, unread messages: %d)\n",
				n.CreatedAt, n.Type, truncate(n.Content, 72), stream.Unread(), session.Cache().UnreadTotal())
		})
		stream.OnPresenceChange(func(p mingle.PresenceChange) {
			state := "offline"
			if p.IsOnline {
				state = "online"
			}
			fmt.Printf("presence: user %d is %s (%d online)\n",
				p.UserID, state, session.Presence().OnlineCount())
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		fmt.Printf("Watching as user %d. Ctrl-C to stop.\n", session.UserID())

		<-ctx.Done()
		fmt.Println("\nStopped.")
		return nil
	},
}
