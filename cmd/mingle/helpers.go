package main

import (
	"fmt"
	"os"

	mingle "github.com/mingle-social/mingle-go"
)

// getClient creates a Mingle client authenticated with the stored token.
func getClient() *mingle.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'mingle login <token>' first.")
		os.Exit(1)
	}

	var opts []mingle.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, mingle.WithBaseURL(cfg.Default.BaseURL))
	}
	return mingle.NewClient(cfg.Auth.Token, opts...)
}

// getSession builds a session from the stored token, exiting on an expired
// or malformed token.
func getSession() *mingle.Session {
	session, err := mingle.NewSession(getClient())
	if err != nil {
		if err == mingle.ErrTokenExpired {
			fmt.Fprintln(os.Stderr, "Session token expired. Log in again with 'mingle login <token>'.")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to create session: %v\n", err)
		}
		os.Exit(1)
	}
	return session
}

// truncate shortens s to at most n runes for single-line display.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
