package executor

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State names one stage of the per-invocation pipeline. Transitions are
// strictly sequential; any failure jumps to StateFailed and ends the cycle.
type State string

const (
	StateIdle              State = "idle"
	StateBalanceChecked    State = "balance_checked"
	StateVolatilityLoaded  State = "volatility_loaded"
	StateCandidateSelected State = "candidate_selected"
	StatePriced            State = "priced"
	StateSized             State = "sized"
	StateSubmitted         State = "submitted"
	StateSkipped           State = "skipped"
	StateRejected          State = "rejected"
	StateFailed            State = "failed"
)

// Action is the structured outcome class of one invocation.
type Action string

const (
	ActionIdle   Action = "idle"
	ActionTrade  Action = "trade"
	ActionSkip   Action = "skip"
	ActionReject Action = "reject"
	ActionFail   Action = "fail"
)

// Skip/reject reasons. Data-quality and policy outcomes are expected and
// frequent; they are data for the audit trail, not exceptions.
const (
	ReasonOutsideTradingWindow = "OutsideTradingWindow"
	ReasonAlreadyDecided       = "AlreadyDecided"
	ReasonInsufficientBalance  = "InsufficientBalance"
	ReasonInsufficientVolData  = "InsufficientVolatilityData"
	ReasonVolatilityHalt       = "VolatilityHalt"
	ReasonNoQualifyingStrike   = "NoQualifyingStrike"
	ReasonInvalidMarketPrice   = "InvalidMarketPrice"
	ReasonPriceOutsideBand     = "PriceOutsideBand"
	ReasonInsufficientEdge     = "InsufficientEdge"
	ReasonZeroQuantity         = "ZeroQuantity"
	ReasonInvalidTimeHorizon   = "InvalidTimeHorizon"
	ReasonOrderRejected        = "OrderRejected"
	ReasonTransportFailure     = "TransportFailure"
)

// Candidate is one contract under consideration, built fresh each cycle from
// the exchange's current listing.
type Candidate struct {
	Asset               string
	Ticker              string
	StrikePrice         float64
	Side                string
	MarketPriceCents    int
	MinutesToSettlement float64
}

// Decision is the immutable record of what the pipeline concluded this cycle.
type Decision struct {
	ID                uuid.UUID
	Candidate         Candidate
	SpotPrice         float64
	VolatilityPct     float64
	ModelProbability  float64
	MarketProbability float64
	Edge              float64
	KellyFraction     float64
	Quantity          int
	Action            Action
	Reason            string
}

// TradeRecord is the unit persisted to the ledger: one per decision that
// reached the execution step, including failed and rejected attempts.
type TradeRecord struct {
	Asset     string
	PeriodKey string
	Decision  Decision
	OrderID   *string
	// RequestTimestamp is the exact signing timestamp (ms since epoch) of the
	// submission attempt, kept for operator reconciliation of unknown outcomes.
	RequestTimestamp string
	BalanceBefore    decimal.Decimal
	BalanceAfter     *decimal.Decimal
	Status           string // executed | rejected | failed
	CreatedAt        time.Time
}

// Result is the single structured outcome every invocation produces.
type Result struct {
	InvocationID uuid.UUID
	Asset        string
	PeriodKey    string
	State        State
	Action       Action
	Reason       string
	Decision     *Decision
	Record       *TradeRecord
	Err          error
}
