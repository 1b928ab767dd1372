// file: cmd/filter-cli/cmd/parse.go
package cmd

import (
	"fmt"

	"filter-router/internal/filter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var parseCmd = &cobra.Command{
	Use:   "parse <filter>",
	Short: "Parse a filter and print its expression tree",
	Long: `The parse command compiles a filter and prints it in canonical form (text),
or as a tree (json, yaml). Syntax errors report the offending position.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		expr, err := filter.Parse(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch output {
		case "text":
			fmt.Fprintln(out, expr.String())
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(filter.Tree(expr))
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(filter.Tree(expr)); err != nil {
				return err
			}
			return enc.Close()
		default:
			return fmt.Errorf("unknown output format %q (text, json, yaml)", output)
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().StringP("output", "o", "text", "Output format: text, json, yaml")
}
