package pricing

import (
	"errors"
	"math"
)

var (
	// ErrInvalidTimeHorizon indicates the contract has already settled.
	ErrInvalidTimeHorizon = errors.New("pricing: time to settlement must be positive")
	// ErrInvalidMarketPrice indicates a market price outside (0, 100) cents.
	ErrInvalidMarketPrice = errors.New("pricing: market price must be strictly between 0 and 100 cents")
)

// WinProbability returns the model probability that the asset settles below the
// strike, under a random-walk assumption: the base-horizon realized volatility
// is scaled to the remaining time by sqrt(t/base), the strike distance is
// expressed in scaled standard deviations, and mapped through the normal CDF.
//
// A zero scaled volatility degenerates to a step function: certainty that the
// price stays on whichever side of the strike it is on now.
func WinProbability(currentPrice, strike, minutesToSettlement, baseVolPct, baseHorizonMinutes float64) (float64, error) {
	if minutesToSettlement <= 0 {
		return 0, ErrInvalidTimeHorizon
	}
	if currentPrice <= 0 || baseHorizonMinutes <= 0 {
		return 0, ErrInvalidTimeHorizon
	}

	distancePct := (strike - currentPrice) / currentPrice * 100

	scaled := baseVolPct * math.Sqrt(minutesToSettlement/baseHorizonMinutes)
	if scaled == 0 {
		switch {
		case distancePct > 0:
			return 1.0, nil
		case distancePct < 0:
			return 0.0, nil
		default:
			return 0.5, nil
		}
	}

	return normCDF(distancePct / scaled), nil
}

// normCDF is the standard normal cumulative distribution function, via the
// complementary error function. Accurate to well below 1e-6 across the range.
func normCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}
