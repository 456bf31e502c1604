package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <name|id>",
	Short: "Analyze one item and print the recommendation as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// unquoted names with spaces arrive as several args
		return getApp().Analyze(cmd.Context(), strings.Join(args, " "), cmd.OutOrStdout())
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <id>...",
	Short: "Analyze up to 50 items in one call",
	Args:  cobra.RangeArgs(1, 50),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Batch(cmd.Context(), args, cmd.OutOrStdout())
	},
}
