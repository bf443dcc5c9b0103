package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go-civitai-companion/internal/resolver"
)

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Work with download-path categories",
}

var categoryResolveCmd = &cobra.Command{
	Use:   "resolve PATH...",
	Short: "Show the category a download path resolves to",
	Long: `Applies the configured CategoryRules (first match wins), then picks the known
category that appears earliest in the path. An empty result means no category matched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := resolver.FromConfig(globalConfig.Categories, globalConfig.CategoryRules)
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Path\tCategory")
		for _, p := range args {
			fmt.Fprintf(tw, "%s\t%s\n", p, r.Resolve(p))
		}
		return tw.Flush()
	},
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known categories and path rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, c := range resolver.FromConfig(globalConfig.Categories, globalConfig.CategoryRules).Categories() {
			fmt.Println(c)
		}
		if len(globalConfig.CategoryRules) == 0 {
			return nil
		}
		fmt.Println()
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Priority\tPath Contains\tCategory")
		for i, rule := range globalConfig.CategoryRules {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, rule.Contains, rule.Category)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(categoryCmd)
	categoryCmd.AddCommand(categoryResolveCmd, categoryListCmd)
}
