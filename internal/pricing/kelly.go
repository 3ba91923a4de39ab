package pricing

import "math"

// Sizing is the Kelly-derived position recommendation. Quantity 0 is a valid
// "skip" outcome, not an error.
type Sizing struct {
	Fraction float64 // clamped Kelly fraction of bankroll
	Stake    float64 // dollars committed before contract rounding
	Quantity int     // whole contracts to buy
}

// KellySize converts a win probability, a market price in cents, and the
// available bankroll into a bounded contract quantity.
//
// Payoff ratio b = (100 - price) / price; raw fraction f = (b*p - (1-p)) / b.
// A negative f means no bet, never a short position: this system only ever
// takes the side it evaluated. f is clamped to [0, fractionCap] and the
// resulting stake floored into whole contracts, capped at maxQuantity.
func KellySize(winProbability float64, marketPriceCents int, bankroll, fractionCap float64, maxQuantity int) (Sizing, error) {
	if marketPriceCents <= 0 || marketPriceCents >= 100 {
		return Sizing{}, ErrInvalidMarketPrice
	}

	b := float64(100-marketPriceCents) / float64(marketPriceCents)
	p := winProbability
	fraction := (b*p - (1 - p)) / b

	if fraction < 0 {
		fraction = 0
	}
	if fraction > fractionCap {
		fraction = fractionCap
	}

	stake := bankroll * fraction
	quantity := int(math.Floor(stake / (float64(marketPriceCents) / 100)))
	if quantity < 0 {
		quantity = 0
	}
	if maxQuantity >= 0 && quantity > maxQuantity {
		quantity = maxQuantity
	}

	return Sizing{Fraction: fraction, Stake: stake, Quantity: quantity}, nil
}
