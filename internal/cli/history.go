package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flight-price-alerts/internal/app"
	"flight-price-alerts/internal/bot"
)

var (
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display the cheapest recorded prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.HistoryOptions{
			Limit: historyLimit,
		}

		return getApp().History(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", bot.HistoryLimit, "Number of records to display")
}
