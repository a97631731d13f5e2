package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	queueCmd.AddCommand(queueListCmd, queueDrainCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and replay requests queued while offline",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued requests in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		pending := client.Queue().Pending(context.Background())
		if len(pending) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, r := range pending {
			fmt.Printf("%4d  %-6s %-36s %s  %s\n", r.Seq, r.Method, r.URL, r.EnqueuedAt.Local().Format(time.DateTime), r.ID)
		}
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued requests now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		res := client.Queue().Drain(ctx)
		if res.Skipped {
			fmt.Println("Drain skipped.")
			return nil
		}
		fmt.Printf("Replayed %d, failed %d, remaining %d\n", res.Processed, res.Failed, len(client.Queue().Pending(ctx)))
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued request",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		client.Queue().Clear(context.Background())
		fmt.Println("Queue cleared.")
		return nil
	},
}
