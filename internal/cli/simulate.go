package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulatePrice string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic price alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		return getApp().SimulateAlert(cmd.Context(), price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "150.00", "Price per person to report")
}
