package cli

import (
	"github.com/spf13/cobra"
)

var tradeOnce bool

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Run the trading decision loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Trade(cmd.Context(), tradeOnce)
	},
}

func init() {
	tradeCmd.Flags().BoolVar(&tradeOnce, "once", false, "Run a single decision cycle per asset and exit")
}
