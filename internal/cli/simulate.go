package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dipwatcher/internal/app"
)

var (
	simulateSymbol     string
	simulateMarket     string
	simulatePrice      float64
	simulateHistorical float64
	simulateTimeframe  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate a synthetic price drop and send the resulting alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" || simulateMarket == "" {
			return errors.New("--symbol and --market must be provided")
		}

		opts := app.SimulateOptions{
			Symbol:     simulateSymbol,
			Market:     simulateMarket,
			Price:      simulatePrice,
			Historical: simulateHistorical,
			Timeframe:  simulateTimeframe,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Symbol to simulate")
	simulateCmd.Flags().StringVar(&simulateMarket, "market", "", "Market id of the symbol")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Current price")
	simulateCmd.Flags().Float64Var(&simulateHistorical, "historical", 0, "Historical reference price")
	simulateCmd.Flags().StringVar(&simulateTimeframe, "timeframe", "day", "Timeframe to attribute the reference to")
}
