package kalshi

import (
	"fmt"
	"strings"
	"time"
)

// Settlement hours on the exchange are quoted in Eastern Time.
var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("kalshi: load America/New_York: " + err.Error())
	}
	return loc
}

// SettlementPeriod identifies one hourly settlement: the event ticker the
// exchange lists contracts under, and the instant the contracts settle.
type SettlementPeriod struct {
	EventTicker string
	SettlesAt   time.Time
}

// MinutesToSettlement returns the remaining time in fractional minutes.
func (p SettlementPeriod) MinutesToSettlement(now time.Time) float64 {
	return p.SettlesAt.Sub(now).Minutes()
}

// NextSettlement derives the next hourly settlement period for a series.
// Event tickers follow SERIES-YYMONDDHH with the hour in 24h Eastern Time,
// e.g. KXBTCD-25DEC1020 for the contract settling 20:00 ET on Dec 10 2025.
// Hour, day, and month rollovers fall out of the time arithmetic.
func NextSettlement(series string, now time.Time) SettlementPeriod {
	et := now.In(eastern)
	settle := et.Truncate(time.Hour).Add(time.Hour)

	ticker := fmt.Sprintf("%s-%s%s%02d%02d",
		series,
		settle.Format("06"),
		strings.ToUpper(settle.Format("Jan")),
		settle.Day(),
		settle.Hour(),
	)
	return SettlementPeriod{EventTicker: ticker, SettlesAt: settle}
}
