package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ppgrobot/BTC-Thorp/internal/feed"
	"github.com/ppgrobot/BTC-Thorp/internal/kalshi"
	"github.com/ppgrobot/BTC-Thorp/internal/pricing"
	"github.com/ppgrobot/BTC-Thorp/internal/volatility"
)

// Exchange is the slice of the exchange API the executor needs.
type Exchange interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	EventMarkets(ctx context.Context, eventTicker string) ([]kalshi.Market, error)
	CreateOrder(ctx context.Context, req kalshi.OrderRequest) (kalshi.Order, kalshi.Signature, error)
}

// SnapshotSource reads the most recent volatility snapshot for an asset. A
// slightly stale snapshot is an accepted tradeoff, not a correctness bug.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context, asset string) (volatility.Snapshot, error)
}

// Ledger is the append-only audit store for trade records.
type Ledger interface {
	Append(ctx context.Context, record TradeRecord) error
	Exists(ctx context.Context, asset, periodKey string) (bool, error)
}

// Params configures one asset's decision pipeline. The original per-asset
// copies of this logic collapse into one executor instantiated per Params.
type Params struct {
	Asset             string // e.g. "BTC"
	Pair              string // feed pair, e.g. "BTC-USD"
	Series            string // exchange series, e.g. "KXBTCD"
	BaseHorizon       time.Duration
	TradeOffset       time.Duration // act only within this window before settlement
	MinStrikeBps      float64
	MinEdge           float64
	PriceFloorCents   int
	PriceCeilingCents int
	KellyFractionCap  float64
	MaxContracts      int
	MaxCandidates     int // qualifying strikes to consider per cycle; first tradable wins
	MinBalance        decimal.Decimal
	MaxVolatilityPct  float64
}

// Executor runs one linear decision pipeline per invocation.
type Executor struct {
	params    Params
	exchange  Exchange
	feed      feed.Fetcher
	snapshots SnapshotSource
	ledger    Ledger
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs an executor for one asset configuration.
func New(params Params, exchange Exchange, priceFeed feed.Fetcher, snapshots SnapshotSource, ledger Ledger, logger zerolog.Logger) *Executor {
	if params.MaxCandidates <= 0 {
		params.MaxCandidates = 1
	}
	return &Executor{
		params:    params,
		exchange:  exchange,
		feed:      priceFeed,
		snapshots: snapshots,
		ledger:    ledger,
		logger:    logger.With().Str("component", "executor").Str("asset", params.Asset).Logger(),
		now:       time.Now,
	}
}

// Execute runs one decision cycle. Every invocation returns exactly one
// structured Result regardless of where the pipeline stopped; at most one
// order is ever submitted per settlement period.
func (e *Executor) Execute(ctx context.Context) Result {
	now := e.now().UTC()
	period := kalshi.NextSettlement(e.params.Series, now)

	res := Result{
		InvocationID: uuid.New(),
		Asset:        e.params.Asset,
		PeriodKey:    period.EventTicker,
		State:        StateIdle,
		Action:       ActionIdle,
	}

	// Trading-instant guard: outside the configured window before settlement
	// the state machine stays Idle and nothing is evaluated. This guard, not
	// the scheduler, is the source of truth for idempotence.
	if period.SettlesAt.Sub(now) > e.params.TradeOffset {
		res.Reason = ReasonOutsideTradingWindow
		e.logger.Debug().Str("period", period.EventTicker).Msg("outside trading window, staying idle")
		return res
	}

	decided, err := e.ledger.Exists(ctx, e.params.Asset, period.EventTicker)
	if err != nil {
		return e.fail(res, ReasonTransportFailure, fmt.Errorf("check ledger for period: %w", err))
	}
	if decided {
		res.Reason = ReasonAlreadyDecided
		e.logger.Debug().Str("period", period.EventTicker).Msg("period already decided, staying idle")
		return res
	}

	// Step 1: bankroll.
	balance, err := e.exchange.Balance(ctx)
	if err != nil {
		return e.fail(res, ReasonTransportFailure, fmt.Errorf("fetch balance: %w", err))
	}
	res.State = StateBalanceChecked
	if balance.LessThan(e.params.MinBalance) {
		return e.skip(res, ReasonInsufficientBalance)
	}

	// Step 2: volatility.
	snap, err := e.snapshots.LatestSnapshot(ctx, e.params.Asset)
	if err != nil {
		return e.fail(res, ReasonTransportFailure, fmt.Errorf("load volatility snapshot: %w", err))
	}
	stats, err := snap.RequireHorizon(e.params.BaseHorizon)
	if err != nil {
		return e.skip(res, ReasonInsufficientVolData)
	}
	res.State = StateVolatilityLoaded
	if e.params.MaxVolatilityPct > 0 && stats.StdDevPct >= e.params.MaxVolatilityPct {
		// The normal model is unreliable in fast markets; stand down.
		return e.skip(res, ReasonVolatilityHalt)
	}

	// Step 3: spot price and candidate strikes.
	spot, err := e.feed.FetchSpot(ctx, e.params.Pair)
	if err != nil {
		return e.fail(res, ReasonTransportFailure, fmt.Errorf("fetch spot price: %w", err))
	}
	markets, err := e.exchange.EventMarkets(ctx, period.EventTicker)
	if err != nil {
		return e.fail(res, ReasonTransportFailure, fmt.Errorf("list event markets: %w", err))
	}

	candidates := e.selectCandidates(markets, spot.Price, period, now)
	if len(candidates) == 0 {
		return e.skip(res, ReasonNoQualifyingStrike)
	}
	res.State = StateCandidateSelected

	evaluator := pricing.EdgeEvaluator{
		MinEdge:      e.params.MinEdge,
		FloorCents:   e.params.PriceFloorCents,
		CeilingCents: e.params.PriceCeilingCents,
	}

	var skipReason string
	for _, cand := range candidates {
		decision, reason, err := e.price(cand, spot.Price, stats, evaluator, res.InvocationID)
		if err != nil {
			return e.fail(res, reason, err)
		}
		res.State = StatePriced
		if decision == nil {
			if skipReason == "" {
				skipReason = reason
			}
			continue
		}
		return e.submit(ctx, res, *decision, balance)
	}

	return e.skip(res, skipReason)
}

// selectCandidates returns up to MaxCandidates strikes at least MinStrikeBps
// above spot, nearest first. Markets without a NO ask are not candidates.
func (e *Executor) selectCandidates(markets []kalshi.Market, spotPrice float64, period kalshi.SettlementPeriod, now time.Time) []Candidate {
	minStrike := spotPrice * (1 + e.params.MinStrikeBps/10000)
	minutes := period.MinutesToSettlement(now)

	out := make([]Candidate, 0, e.params.MaxCandidates)
	for _, m := range markets {
		if len(out) == e.params.MaxCandidates {
			break
		}
		if m.FloorStrike < minStrike || m.NoAsk <= 0 {
			continue
		}
		out = append(out, Candidate{
			Asset:               e.params.Asset,
			Ticker:              m.Ticker,
			StrikePrice:         m.FloorStrike,
			Side:                "no",
			MarketPriceCents:    m.NoAsk,
			MinutesToSettlement: minutes,
		})
	}
	return out
}

// price runs model probability and edge evaluation for one candidate. It
// returns a decision when the candidate is tradable, a skip reason when it is
// not, or an error for hard stops. Degenerate inputs the model cannot price, a
// settled contract or a 0/100 cent quote, are expected market conditions and
// come back as skip reasons rather than errors.
func (e *Executor) price(cand Candidate, spotPrice float64, stats volatility.HorizonStats, evaluator pricing.EdgeEvaluator, invocationID uuid.UUID) (*Decision, string, error) {
	probability, err := pricing.WinProbability(
		spotPrice,
		cand.StrikePrice,
		cand.MinutesToSettlement,
		stats.StdDevPct,
		stats.Minutes(),
	)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidTimeHorizon) {
			return nil, ReasonInvalidTimeHorizon, nil
		}
		return nil, ReasonTransportFailure, err
	}

	evaluation, err := evaluator.Evaluate(probability, cand.MarketPriceCents)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidMarketPrice) {
			return nil, ReasonInvalidMarketPrice, nil
		}
		return nil, ReasonTransportFailure, err
	}

	decision := Decision{
		ID:                invocationID,
		Candidate:         cand,
		SpotPrice:         spotPrice,
		VolatilityPct:     stats.StdDevPct,
		ModelProbability:  evaluation.ModelProbability,
		MarketProbability: evaluation.MarketProbability,
		Edge:              evaluation.Edge,
	}

	e.logger.Info().
		Str("ticker", cand.Ticker).
		Float64("strike", cand.StrikePrice).
		Int("no_ask_cents", cand.MarketPriceCents).
		Float64("model_prob", evaluation.ModelProbability).
		Float64("market_prob", evaluation.MarketProbability).
		Float64("edge", evaluation.Edge).
		Msg("candidate priced")

	if !evaluation.WithinBand {
		return nil, ReasonPriceOutsideBand, nil
	}
	if !evaluation.MeetsEdge {
		return nil, ReasonInsufficientEdge, nil
	}
	return &decision, "", nil
}

// submit sizes the tradable decision and places the order. Submission failures
// are data: rejected and unknown-outcome attempts still reach the ledger.
func (e *Executor) submit(ctx context.Context, res Result, decision Decision, balance decimal.Decimal) Result {
	sizing, err := pricing.KellySize(
		decision.ModelProbability,
		decision.Candidate.MarketPriceCents,
		balance.InexactFloat64(),
		e.params.KellyFractionCap,
		e.params.MaxContracts,
	)
	if err != nil {
		return e.fail(res, ReasonInvalidMarketPrice, err)
	}
	decision.KellyFraction = sizing.Fraction
	decision.Quantity = sizing.Quantity
	res.State = StateSized

	if sizing.Quantity == 0 {
		decision.Action = ActionSkip
		decision.Reason = ReasonZeroQuantity
		res.Decision = &decision
		return e.skip(res, ReasonZeroQuantity)
	}

	order, sig, err := e.exchange.CreateOrder(ctx, kalshi.OrderRequest{
		Ticker:    decision.Candidate.Ticker,
		Side:      decision.Candidate.Side,
		Count:     sizing.Quantity,
		NoPriceCt: decision.Candidate.MarketPriceCents,
	})

	record := TradeRecord{
		Asset:            res.Asset,
		PeriodKey:        res.PeriodKey,
		RequestTimestamp: sig.Timestamp,
		BalanceBefore:    balance,
		CreatedAt:        e.now().UTC(),
	}

	var apiErr *kalshi.APIError
	switch {
	case err == nil:
		decision.Action = ActionTrade
		res.State = StateSubmitted
		res.Action = ActionTrade
		record.Status = "executed"
		record.OrderID = &order.OrderID
		after := balance.Sub(totalCost(sizing.Quantity, decision.Candidate.MarketPriceCents))
		record.BalanceAfter = &after
		e.logger.Info().Str("order_id", order.OrderID).Int("quantity", sizing.Quantity).Msg("order submitted")
	case errors.As(err, &apiErr):
		decision.Action = ActionReject
		decision.Reason = ReasonOrderRejected
		res.State = StateRejected
		res.Action = ActionReject
		res.Reason = ReasonOrderRejected
		res.Err = err
		record.Status = "rejected"
		e.logger.Warn().Err(err).Msg("order rejected by exchange")
	default:
		// Unknown outcome: never assume the order was not placed. The record
		// keeps the signing timestamp and intended parameters so the operator
		// can reconcile.
		decision.Action = ActionFail
		decision.Reason = ReasonTransportFailure
		res.State = StateFailed
		res.Action = ActionFail
		res.Reason = ReasonTransportFailure
		res.Err = err
		record.Status = "failed"
		e.logger.Error().Err(err).Msg("order submission outcome unknown")
	}

	record.Decision = decision
	res.Decision = &decision
	res.Record = &record

	if appendErr := e.ledger.Append(ctx, record); appendErr != nil {
		e.logger.Error().Err(appendErr).Str("period", res.PeriodKey).Msg("failed to append trade record")
		if res.Err == nil {
			res.Err = fmt.Errorf("append trade record: %w", appendErr)
		}
	}
	return res
}

func (e *Executor) skip(res Result, reason string) Result {
	res.State = StateSkipped
	res.Action = ActionSkip
	res.Reason = reason
	if res.Decision != nil {
		res.Decision.Action = ActionSkip
		res.Decision.Reason = reason
	}
	e.logger.Info().Str("period", res.PeriodKey).Str("reason", reason).Msg("cycle skipped")
	return res
}

func (e *Executor) fail(res Result, reason string, err error) Result {
	res.State = StateFailed
	res.Action = ActionFail
	res.Reason = reason
	res.Err = err
	e.logger.Error().Err(err).Str("period", res.PeriodKey).Str("reason", reason).Msg("cycle failed")
	return res
}

func totalCost(quantity, priceCents int) decimal.Decimal {
	return decimal.NewFromInt(int64(quantity)).
		Mul(decimal.NewFromInt(int64(priceCents))).
		Div(decimal.NewFromInt(100))
}
