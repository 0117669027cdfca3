package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	mingle "github.com/mingle-social/mingle-go"
	"github.com/spf13/cobra"
)

var chatHistory int

func init() {
	chatCmd.Flags().IntVar(&chatHistory, "history", 25, "messages of history to load")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Chat interactively in a conversation",
	Long:  "Open the chat channel for a conversation, print incoming messages, and send lines typed on stdin. Type /quit to leave.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation ID %q", args[0])
		}

		session := getSession()
		defer session.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		chat, err := session.OpenChat(ctx, conversationID, func(userID int64, typing bool) {
			if typing {
				fmt.Printf("  … user %d is typing\n", userID)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to open chat: %w", err)
		}

		chat.OnMessage(func(m mingle.Message) {
			if m.SenderID == session.UserID() {
				return
			}
			fmt.Printf("<%d> %s\n", m.SenderID, m.Content)
		})

		// Print recent history before going live.
		if err := session.RefreshMessages(ctx, conversationID, chatHistory); err != nil {
			fmt.Fprintf(os.Stderr, "history unavailable: %v\n", err)
		}
		for _, m := range session.Cache().Messages(conversationID) {
			fmt.Printf("<%d> %s\n", m.SenderID, m.Content)
		}

		fmt.Println("Connected. Type a message and press enter; /quit to leave.")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "/quit" {
				break
			}
			if line == "" {
				continue
			}
			if _, err := chat.SendMessage(ctx, line, nil); err != nil {
				if errors.Is(err, mingle.ErrChannelNotConnected) {
					fmt.Fprintln(os.Stderr, "not connected; message not sent")
					continue
				}
				return fmt.Errorf("send failed: %w", err)
			}
		}
		return scanner.Err()
	},
}
