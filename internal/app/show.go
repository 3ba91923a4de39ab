package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent trade ledger entries.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	trades, err := store.ListRecentTrades(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Fprintln(os.Stdout, "no trade records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tPeriod\tTicker\tQty\tPrice¢\tModel\tMarket\tEdge\tAction\tReason\tStatus\tOrder")

	for _, trade := range trades {
		orderID := ""
		if trade.OrderID != nil {
			orderID = sanitizeInline(*trade.OrderID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			trade.CreatedAt.UTC().Format(time.RFC3339),
			trade.Asset,
			trade.PeriodKey,
			trade.Ticker,
			trade.Quantity,
			trade.PriceCents,
			formatDecimal(trade.ModelProb, 4),
			formatDecimal(trade.MarketProb, 4),
			formatDecimal(trade.Edge, 4),
			trade.Action,
			trade.Reason,
			trade.Status,
			orderID,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
