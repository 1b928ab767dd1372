// file: cmd/filter-cli/main.go
package main

import (
	"os"

	"filter-router/cmd/filter-cli/cmd"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "filter-cli",
	Short: "A CLI for parsing, testing, and exercising filter-router subscriptions.",
	Long: `filter-cli parses and evaluates filter expressions offline, runs YAML test
suites against them, and can publish to or subscribe on a filter-router bus.`,
	SilenceUsage: true,
	// If a subcommand is not provided, default to showing help.
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	cmd.AddCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra prints the error, so we just need to exit
		os.Exit(1)
	}
}
