// file: cmd/filter-cli/cmd/root.go
package cmd

import (
	"fmt"

	"filter-router/config"
	"filter-router/internal/app"

	"github.com/spf13/cobra"
)

// AddCommands adds all the subcommands to the root command.
func AddCommands(root *cobra.Command) {
	root.AddCommand(parseCmd)
	root.AddCommand(evalCmd)
	root.AddCommand(testCmd)
	root.AddCommand(publishCmd)
	root.AddCommand(subscribeCmd)
}

// buildBus loads the config and builds a hub over its NATS bus. Logs go to
// stderr so command output stays clean.
func buildBus(configPath string, deliver func(connectionID, topic, filter, payload string) error) (*app.BaseApp, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Bus.Mode == config.BusModeMemory {
		return nil, fmt.Errorf("bus mode %q has no shared transport; use core or jetstream", cfg.Bus.Mode)
	}
	cfg.Logging.OutputPath = "stderr"
	cfg.Logging.Encoding = "console"
	cfg.Metrics.Enabled = false

	return app.NewAppBuilder(cfg).
		WithLogger().
		WithNATS().
		WithFilterCache().
		WithBus().
		WithHub(deliver).
		Build()
}
