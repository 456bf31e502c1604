package cli

import (
	"github.com/spf13/cobra"

	"price-advisor/internal/app"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recommendation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Watch: serveWatch})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Also run the watch loop in this process")
}
