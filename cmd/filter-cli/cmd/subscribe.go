// file: cmd/filter-cli/cmd/subscribe.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe --config <file> --topic <topic> [--filter <filter>]",
	Short: "Print bus messages matching a topic and filter",
	Long: `The subscribe command joins the configured NATS bus and prints every message
on the topic that matches the filter until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		topic, _ := cmd.Flags().GetString("topic")
		filterText, _ := cmd.Flags().GetString("filter")

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		deliver := func(_, topic, filterText, payload string) error {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "[%s] %s\n", topic, payload)
			return nil
		}

		base, err := buildBus(configPath, deliver)
		if err != nil {
			return err
		}
		defer base.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		connectionID := uuid.NewString()
		if err := base.Hub.Subscribe(ctx, connectionID, topic, filterText); err != nil {
			return err
		}
		if err := base.Bus.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "subscribed to %s (filter: %q), press Ctrl+C to stop\n", topic, filterText)

		<-ctx.Done()

		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return base.Hub.UnsubscribeConnection(unsubCtx, connectionID)
	},
}

func init() {
	subscribeCmd.Flags().StringP("config", "c", "config/config.yaml", "Path to the router config file")
	subscribeCmd.Flags().StringP("topic", "t", "", "Topic to subscribe to (required)")
	subscribeCmd.Flags().StringP("filter", "f", "", "Filter expression (empty matches everything on the topic)")
	subscribeCmd.MarkFlagRequired("topic")
}
