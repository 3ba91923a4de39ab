package kalshi

// Market is one tradeable strike within a settlement event. Prices are cents.
type Market struct {
	Ticker      string  `json:"ticker"`
	FloorStrike float64 `json:"floor_strike"`
	YesBid      int     `json:"yes_bid"`
	YesAsk      int     `json:"yes_ask"`
	NoBid       int     `json:"no_bid"`
	NoAsk       int     `json:"no_ask"`
	Status      string  `json:"status"`
	Subtitle    string  `json:"subtitle"`
}

// OrderRequest is a limit order to buy one side of a market.
type OrderRequest struct {
	Ticker     string `json:"ticker"`
	Action     string `json:"action"`
	Side       string `json:"side"`
	Count      int    `json:"count"`
	Type       string `json:"type"`
	YesPriceCt int    `json:"yes_price,omitempty"`
	NoPriceCt  int    `json:"no_price,omitempty"`
}

// Order is the exchange's view of a submitted order.
type Order struct {
	OrderID string `json:"order_id"`
	Ticker  string `json:"ticker"`
	Side    string `json:"side"`
	Status  string `json:"status"`
}

type eventResponse struct {
	Markets []Market `json:"markets"`
}

type balanceResponse struct {
	BalanceCents int64 `json:"balance"`
}

type orderResponse struct {
	Order Order `json:"order"`
}
