// file: cmd/filter-cli/cmd/test.go
package cmd

import (
	"fmt"
	"io"

	"filter-router/internal/logger"
	"filter-router/internal/tester"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test --suite <file>",
	Short: "Run a YAML suite of filter test cases",
	Long: `The test command runs every case of a suite file. Each case names a filter,
an optional topic, a message context, and whether it should match or fail
to compile. The command fails when any case fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		suitePath, _ := cmd.Flags().GetString("suite")
		outputFormat, _ := cmd.Flags().GetString("output")
		verbose, _ := cmd.Flags().GetBool("verbose")
		parallel, _ := cmd.Flags().GetInt("parallel")

		suite, err := tester.LoadSuite(suitePath)
		if err != nil {
			return err
		}

		summary := tester.New(logger.NewNopLogger(), verbose, parallel).Run(suite)

		if outputFormat == "json" {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(summary); err != nil {
				return err
			}
		} else {
			printSummaryPretty(cmd.OutOrStdout(), summary, verbose)
		}

		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d tests failed", summary.Failed, summary.Total)
		}
		return nil
	},
}

func init() {
	testCmd.Flags().StringP("suite", "s", "", "Path to the suite file (required)")
	testCmd.Flags().StringP("output", "o", "pretty", "Output format: pretty, json")
	testCmd.Flags().BoolP("verbose", "v", false, "Show details for failures")
	testCmd.Flags().IntP("parallel", "p", 4, "Number of parallel test workers (0 = sequential)")
	testCmd.MarkFlagRequired("suite")
}

// printSummaryPretty is a helper to print the test summary in a human-readable format.
func printSummaryPretty(w io.Writer, summary tester.TestSummary, verbose bool) {
	for _, result := range summary.Results {
		if result.Passed {
			fmt.Fprintf(w, "  ✓ %s\n", result.Name)
			continue
		}
		fmt.Fprintf(w, "  ✖ %s\n", result.Name)
		fmt.Fprintf(w, "    Error: %s\n", result.Error)
		if verbose && result.Details != "" {
			fmt.Fprintf(w, "    Details: %s\n", result.Details)
		}
	}

	fmt.Fprintln(w, "\n--- SUMMARY ---")
	fmt.Fprintf(w, "Total Tests: %d, Passed: %d, Failed: %d\n",
		summary.Total, summary.Passed, summary.Failed)
	fmt.Fprintf(w, "Duration: %dms\n", summary.DurationMs)
}
