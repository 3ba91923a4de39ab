package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ppgrobot/BTC-Thorp/internal/pricing"
)

// Simulate 使用操作员给定的输入跑一遍定价管线，不触网、不下单。
// It answers "what would the model do right now with these numbers".
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	asset, ok := a.Config.Asset(opts.Asset)
	if !ok {
		return errors.New("unknown asset: " + opts.Asset)
	}
	if opts.SpotPrice <= 0 || opts.StrikePrice <= 0 {
		return errors.New("spot and strike must be positive")
	}

	probability, err := pricing.WinProbability(
		opts.SpotPrice,
		opts.StrikePrice,
		opts.MinutesToSettlement,
		opts.VolatilityPct,
		asset.BaseHorizon.Minutes(),
	)
	if err != nil {
		return err
	}

	evaluator := pricing.EdgeEvaluator{
		MinEdge:      asset.MinEdge,
		FloorCents:   asset.PriceFloorCents,
		CeilingCents: asset.PriceCeilingCents,
	}
	evaluation, err := evaluator.Evaluate(probability, opts.MarketPriceCents)
	if err != nil {
		return err
	}

	sizing, err := pricing.KellySize(
		evaluation.ModelProbability,
		opts.MarketPriceCents,
		opts.Bankroll,
		asset.KellyFractionCap,
		asset.MaxContracts,
	)
	if err != nil {
		return err
	}

	verdict := "skip"
	if evaluation.Tradable() && sizing.Quantity > 0 {
		verdict = "trade"
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Asset\t%s\n", asset.Symbol)
	fmt.Fprintf(writer, "Model probability\t%.4f\n", evaluation.ModelProbability)
	fmt.Fprintf(writer, "Market probability\t%.4f\n", evaluation.MarketProbability)
	fmt.Fprintf(writer, "Edge\t%.4f\n", evaluation.Edge)
	fmt.Fprintf(writer, "Within band\t%t\n", evaluation.WithinBand)
	fmt.Fprintf(writer, "Meets edge\t%t\n", evaluation.MeetsEdge)
	fmt.Fprintf(writer, "Kelly fraction\t%.4f\n", sizing.Fraction)
	fmt.Fprintf(writer, "Stake\t%.2f\n", sizing.Stake)
	fmt.Fprintf(writer, "Quantity\t%d\n", sizing.Quantity)
	fmt.Fprintf(writer, "Verdict\t%s\n", verdict)
	return writer.Flush()
}
