package cli

import (
	"github.com/spf13/cobra"

	"price-advisor/internal/app"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import price history from CSV (external_id,name,date,price,discount_percent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Import(cmd.Context(), app.ImportOptions{
			Path:   args[0],
			DryRun: importDryRun,
		})
	},
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without writing to storage")
}
