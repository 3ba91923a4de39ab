package feed

import (
	"context"
	"time"
)

// Spot is one observed spot price for an asset pair.
type Spot struct {
	Price float64
	AsOf  time.Time
}

// Fetcher retrieves the current spot price for one trading pair.
type Fetcher interface {
	FetchSpot(ctx context.Context, pair string) (Spot, error)
}
