package pricing

// EdgeEvaluator compares model probability against market-implied probability
// and applies the deliberate price-band policy filter. The band is checked
// before the edge threshold so that both filters are independently observable
// in the returned Evaluation.
type EdgeEvaluator struct {
	// MinEdge is the minimum (model - market) probability gap to trade, e.g. 0.03.
	MinEdge float64
	// FloorCents excludes markets priced too cheap to justify the downside.
	FloorCents int
	// CeilingCents excludes markets priced too rich to leave room for profit.
	CeilingCents int
}

// Evaluation reports where a candidate fell relative to each filter.
type Evaluation struct {
	ModelProbability  float64
	MarketProbability float64
	Edge              float64
	WithinBand        bool
	MeetsEdge         bool
}

// Tradable is true only when the candidate clears both the band and the edge.
func (e Evaluation) Tradable() bool { return e.WithinBand && e.MeetsEdge }

// Evaluate computes the implied probability and edge for a market price in
// cents. Prices of exactly 0 or 100 fail with ErrInvalidMarketPrice; they must
// never reach the sizer.
func (ev EdgeEvaluator) Evaluate(modelProbability float64, marketPriceCents int) (Evaluation, error) {
	if marketPriceCents <= 0 || marketPriceCents >= 100 {
		return Evaluation{}, ErrInvalidMarketPrice
	}

	marketProbability := float64(marketPriceCents) / 100
	edge := modelProbability - marketProbability

	return Evaluation{
		ModelProbability:  modelProbability,
		MarketProbability: marketProbability,
		Edge:              edge,
		WithinBand:        marketPriceCents >= ev.FloorCents && marketPriceCents <= ev.CeilingCents,
		MeetsEdge:         edge >= ev.MinEdge,
	}, nil
}
