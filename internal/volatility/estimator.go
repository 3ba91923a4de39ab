package volatility

import (
	"math"
	"time"
)

// HorizonStats carries realized-volatility metrics for one look-back horizon.
// When Samples < 2 the statistics are undefined and must not be used; callers
// check Sufficient before reading them.
type HorizonStats struct {
	Horizon    time.Duration `json:"horizon"`
	Samples    int           `json:"samples"`
	StdDevPct  float64       `json:"std_dev_pct"`
	RangePct   float64       `json:"range_pct"`
	MaxStepPct float64       `json:"max_step_pct"`
}

// Sufficient reports whether the horizon had enough samples to compute stats.
func (h HorizonStats) Sufficient() bool { return h.Samples >= 2 }

// Minutes returns the horizon length in minutes.
func (h HorizonStats) Minutes() float64 { return h.Horizon.Minutes() }

// Snapshot is the atomically-replaced multi-horizon volatility view for one asset.
type Snapshot struct {
	Asset      string         `json:"asset"`
	ComputedAt time.Time      `json:"computed_at"`
	Horizons   []HorizonStats `json:"horizons"`
}

// Horizon looks up the stats for an exact horizon length.
func (s Snapshot) Horizon(d time.Duration) (HorizonStats, bool) {
	for _, h := range s.Horizons {
		if h.Horizon == d {
			return h, true
		}
	}
	return HorizonStats{}, false
}

// RequireHorizon is Horizon with the data-quality contract enforced: a missing
// or under-sampled horizon returns ErrInsufficientData.
func (s Snapshot) RequireHorizon(d time.Duration) (HorizonStats, error) {
	h, ok := s.Horizon(d)
	if !ok || !h.Sufficient() {
		return HorizonStats{}, ErrInsufficientData
	}
	return h, nil
}

// Snapshot computes volatility statistics for each requested horizon from the
// currently retained observations. Horizons with fewer than two samples are
// reported with their sample count only, never as zero volatility.
func (w *Window) Snapshot(now time.Time, horizons []time.Duration) Snapshot {
	now = now.UTC()
	snap := Snapshot{Asset: w.asset, ComputedAt: now, Horizons: make([]HorizonStats, 0, len(horizons))}

	for _, d := range horizons {
		obs := w.within(now, d)
		stats := HorizonStats{Horizon: d, Samples: len(obs)}
		if stats.Sufficient() {
			fill(&stats, obs)
		}
		snap.Horizons = append(snap.Horizons, stats)
	}
	return snap
}

// fill computes the three metrics over at-least-two ordered observations:
// population standard deviation of consecutive percentage returns, the
// high-low range relative to the first price, and the largest single step.
func fill(stats *HorizonStats, obs []Observation) {
	returns := make([]float64, 0, len(obs)-1)
	minPx, maxPx := obs[0].Price, obs[0].Price
	maxStep := 0.0

	for i := 1; i < len(obs); i++ {
		r := (obs[i].Price - obs[i-1].Price) / obs[i-1].Price * 100
		returns = append(returns, r)
		if ar := math.Abs(r); ar > maxStep {
			maxStep = ar
		}
		if obs[i].Price < minPx {
			minPx = obs[i].Price
		}
		if obs[i].Price > maxPx {
			maxPx = obs[i].Price
		}
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	stats.StdDevPct = math.Sqrt(variance)
	stats.RangePct = (maxPx - minPx) / obs[0].Price * 100
	stats.MaxStepPct = maxStep
}
