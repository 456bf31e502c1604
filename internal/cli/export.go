package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-advisor/internal/app"
	"price-advisor/internal/engine"
)

var (
	exportItem      string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportXLSXPath  string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an item's price history as CSV, PNG chart and/or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Item:      exportItem,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			XLSXPath:  exportXLSXPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(engine.DateLayout, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(engine.DateLayout, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportItem, "item", "", "Item name or external id")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportXLSXPath, "xlsx", "", "Path to write an Excel workbook")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
