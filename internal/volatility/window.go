package volatility

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrInvalidObservation indicates feed data that must not be ingested.
	ErrInvalidObservation = errors.New("volatility: invalid observation")
	// ErrInsufficientData indicates a horizon with fewer than two samples.
	ErrInsufficientData = errors.New("volatility: insufficient samples for horizon")
)

// Observation is a single immutable price tick for one asset.
type Observation struct {
	Asset string
	At    time.Time
	Price float64
}

// Window holds the time-bounded, time-ordered observation buffer for one asset.
// Observations older than the longest configured horizon are evicted on ingest.
type Window struct {
	asset  string
	maxAge time.Duration
	obs    []Observation
}

// NewWindow constructs a Window retaining observations for at most maxAge.
func NewWindow(asset string, maxAge time.Duration) *Window {
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	return &Window{asset: asset, maxAge: maxAge}
}

// Asset returns the asset symbol this window tracks.
func (w *Window) Asset() string { return w.asset }

// Len returns the number of retained observations.
func (w *Window) Len() int { return len(w.obs) }

// Ingest appends an observation and evicts everything older than the longest
// horizon. Non-positive prices and zero timestamps are rejected with
// ErrInvalidObservation; ordering is restored if the feed delivers out of order.
func (w *Window) Ingest(o Observation) error {
	if o.Price <= 0 || o.At.IsZero() {
		return ErrInvalidObservation
	}
	o.At = o.At.UTC()

	w.obs = append(w.obs, o)
	if n := len(w.obs); n > 1 && w.obs[n-2].At.After(o.At) {
		sort.Slice(w.obs, func(i, j int) bool { return w.obs[i].At.Before(w.obs[j].At) })
	}

	w.evict(o.At)
	return nil
}

func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	idx := 0
	for idx < len(w.obs) && w.obs[idx].At.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.obs = append(w.obs[:0], w.obs[idx:]...)
	}
}

// within returns the retained observations with timestamp in [now-horizon, now].
func (w *Window) within(now time.Time, horizon time.Duration) []Observation {
	start := now.Add(-horizon)
	out := make([]Observation, 0, len(w.obs))
	for _, o := range w.obs {
		if o.At.Before(start) || o.At.After(now) {
			continue
		}
		out = append(out, o)
	}
	return out
}
