package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	huntingcorner "github.com/permalinkserbia/hunting-corner-mobile-app"
	"github.com/spf13/cobra"
)

var (
	listenChannel string
	listenEvents  []string
)

func init() {
	listenCmd.Flags().StringVar(&listenChannel, "channel", "", "Channel alias: user, timeline, ads (default: per-event)")
	listenCmd.Flags().StringSliceVar(&listenEvents, "event", nil, "Event to print (repeatable; default: all known events)")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print live events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = client.Realtime().Initialize(initCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}

		for _, sub := range listenSubscriptions() {
			event := sub[1]
			handler := func(data json.RawMessage) {
				fmt.Printf("%s  %-22s %s\n", time.Now().Format(time.TimeOnly), event, string(data))
			}
			if err := client.Realtime().Subscribe(ctx, event, handler, sub[0]); err != nil {
				return fmt.Errorf("subscribe %s: %w", event, err)
			}
		}

		fmt.Fprintf(os.Stderr, "Listening on %v (Ctrl-C to stop)\n", client.Realtime().Channels())
		<-ctx.Done()
		return nil
	},
}

// listenSubscriptions returns {channel, event} pairs from the flags.
func listenSubscriptions() [][2]string {
	defaults := map[string]string{
		huntingcorner.EventPostCreated:         huntingcorner.ChannelUser,
		huntingcorner.EventNotificationCreated: huntingcorner.ChannelUser,
		huntingcorner.EventAdCreated:           huntingcorner.ChannelAds,
	}
	events := listenEvents
	if len(events) == 0 {
		events = []string{
			huntingcorner.EventPostCreated,
			huntingcorner.EventNotificationCreated,
			huntingcorner.EventAdCreated,
		}
	}
	out := make([][2]string, 0, len(events))
	for _, ev := range events {
		ch := listenChannel
		if ch == "" {
			ch = defaults[ev]
		}
		out = append(out, [2]string{ch, ev})
	}
	return out
}
