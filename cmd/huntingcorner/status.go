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
	Short: "Show current configuration and session status",
	Long:  "Display the effective configuration, the stored session and the number of queued requests.",
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
		fmt.Printf("  Store:       %s\n", valueOrDefault(cfg.Default.Store, "file"))
		if cfg.Realtime.PusherKey != "" {
			fmt.Printf("  Pusher Key:  %s\n", maskKey(cfg.Realtime.PusherKey))
		} else {
			fmt.Println("  Pusher Key:  (not set)")
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Session:")
		if !client.Session().Initialize(ctx) {
			fmt.Println("  (not signed in)")
		} else {
			snap := client.Session().Snapshot()
			fmt.Printf("  User:          %s (%s)\n", snap.User.Name, snap.User.ID)
			fmt.Printf("  Access token:  %s\n", maskKey(snap.AccessToken))
			if snap.RefreshToken != "" {
				fmt.Println("  Refresh token: present")
			} else {
				fmt.Println("  Refresh token: none")
			}
		}

		fmt.Printf("  Queued:        %d\n", len(client.Queue().Pending(ctx)))
		return nil
	},
}
