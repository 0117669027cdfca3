package main

import (
	"fmt"

	mingle "github.com/mingle-social/mingle-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a session token in ~/.mingle/config.toml",
	Long:  "Log the CLI in by storing a session token obtained from the Mingle web application.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		// Reject tokens the SDK itself would refuse.
		client := mingle.NewClient(token)
		session, err := mingle.NewSession(client)
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.Token = token
		cfg.Auth.UserID = session.UserID()
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Logged in as user %d; token saved to %s\n", session.UserID(), path)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
