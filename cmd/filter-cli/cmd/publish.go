// file: cmd/filter-cli/cmd/publish.go
package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish --config <file> --topic <topic> --message <message>",
	Short: "Publish a message with properties onto the bus",
	Long: `The publish command sends one message to the configured NATS bus. Properties
given as --prop key=value become filterable fields; integers, floats and
true/false are typed, everything else is a string.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		topic, _ := cmd.Flags().GetString("topic")
		message, _ := cmd.Flags().GetString("message")
		rawProps, _ := cmd.Flags().GetStringArray("prop")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		props, err := parseProps(rawProps)
		if err != nil {
			return err
		}

		base, err := buildBus(configPath, func(string, string, string, string) error { return nil })
		if err != nil {
			return err
		}
		defer base.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := base.Hub.Publish(ctx, topic, message, props); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "published to %s (%d properties)\n", topic, len(props))
		return nil
	},
}

func init() {
	publishCmd.Flags().StringP("config", "c", "config/config.yaml", "Path to the router config file")
	publishCmd.Flags().StringP("topic", "t", "", "Topic to publish on (required)")
	publishCmd.Flags().StringP("message", "m", "", "Message body")
	publishCmd.Flags().StringArrayP("prop", "p", nil, "Message property as key=value (repeatable)")
	publishCmd.Flags().Duration("timeout", 10*time.Second, "Publish timeout")
	publishCmd.MarkFlagRequired("topic")
}

// parseProps turns key=value pairs into typed properties
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", pair)
		}
		props[key] = typedValue(value)
	}
	return props, nil
}

func typedValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}
