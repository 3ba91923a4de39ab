package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ppgrobot/BTC-Thorp/internal/app"
)

var (
	simulateAsset    string
	simulateSpot     float64
	simulateStrike   float64
	simulateMinutes  float64
	simulateVolPct   float64
	simulatePriceCt  int
	simulateBankroll float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一次定价决策，不触网、不下单",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSpot <= 0 || simulateStrike <= 0 {
			return errors.New("--spot 与 --strike 必须大于 0")
		}

		opts := app.SimulateOptions{
			Asset:               simulateAsset,
			SpotPrice:           simulateSpot,
			StrikePrice:         simulateStrike,
			MinutesToSettlement: simulateMinutes,
			VolatilityPct:       simulateVolPct,
			MarketPriceCents:    simulatePriceCt,
			Bankroll:            simulateBankroll,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "BTC", "Asset symbol whose parameters to use")
	simulateCmd.Flags().Float64Var(&simulateSpot, "spot", 0, "Current spot price in USD")
	simulateCmd.Flags().Float64Var(&simulateStrike, "strike", 0, "Contract strike price in USD")
	simulateCmd.Flags().Float64Var(&simulateMinutes, "minutes", 15, "Minutes until settlement")
	simulateCmd.Flags().Float64Var(&simulateVolPct, "vol-pct", 0, "Base-horizon realized volatility in percent")
	simulateCmd.Flags().IntVar(&simulatePriceCt, "price-cents", 0, "NO ask price in cents")
	simulateCmd.Flags().Float64Var(&simulateBankroll, "bankroll", 0, "Available bankroll in dollars")
}
