package cli

import (
	"github.com/spf13/cobra"

	"flight-price-alerts/internal/app"
)

var searchDryRun bool

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one search cycle now",
	Long: "Run one search cycle now. It alerts, records and publishes like a scheduled cycle.\n" +
		"With --dry-run it only lists the offers that pass the departure windows.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Search(cmd.Context(), cmd.OutOrStdout(), app.SearchOptions{DryRun: searchDryRun})
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchDryRun, "dry-run", false, "Fetch and filter only; do not alert or record")
}
