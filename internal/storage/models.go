package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ObservationRow is one persisted price tick.
type ObservationRow struct {
	Asset      string
	ObservedAt time.Time
	Price      decimal.Decimal
}

// SnapshotRow holds the latest multi-horizon volatility snapshot for an asset.
// The per-horizon metrics travel as JSON; only the estimator interprets them.
type SnapshotRow struct {
	Asset      string
	ComputedAt time.Time
	Horizons   json.RawMessage
}

// TradeRow is one immutable ledger entry: the decision, its inputs, and the
// submission outcome. Keyed by (asset, period_key) so retried delivery of the
// same logical decision cannot create a duplicate.
type TradeRow struct {
	Asset            string
	PeriodKey        string
	InvocationID     uuid.UUID
	Ticker           string
	Side             string
	Quantity         int
	PriceCents       int
	SpotPrice        decimal.Decimal
	StrikePrice      decimal.Decimal
	ModelProb        decimal.Decimal
	MarketProb       decimal.Decimal
	Edge             decimal.Decimal
	KellyFraction    decimal.Decimal
	Action           string
	Reason           string
	OrderID          *string
	RequestTimestamp string
	BalanceBefore    decimal.Decimal
	BalanceAfter     *decimal.Decimal
	Status           string
	CreatedAt        time.Time
}
