// file: cmd/filter-cli/cmd/eval.go
package cmd

import (
	"fmt"

	"filter-router/internal/logger"
	"filter-router/internal/tester"

	"github.com/spf13/cobra"
)

var evalCmd = &cobra.Command{
	Use:   "eval --filter <filter> --context <file>",
	Short: "Evaluate a filter against a message context",
	Long: `The eval command evaluates a filter against the properties in a JSON or YAML
file and prints whether the message matches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filterText, _ := cmd.Flags().GetString("filter")
		contextPath, _ := cmd.Flags().GetString("context")

		var props map[string]any
		if contextPath != "" {
			var err error
			if props, err = tester.LoadContext(contextPath); err != nil {
				return err
			}
		}

		matched, err := tester.New(logger.NewNopLogger(), false, 0).Eval(cmd.Context(), filterText, props)
		if err != nil {
			return err
		}
		if matched {
			fmt.Fprintln(cmd.OutOrStdout(), "✓ match")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "✖ no match")
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringP("filter", "f", "", "Filter expression (empty matches everything)")
	evalCmd.Flags().StringP("context", "c", "", "Path to a JSON or YAML file with message properties")
}
