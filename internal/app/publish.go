package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/feed"
)

func thresholdDecimal(alert feed.AlertRecord) decimal.Decimal {
	return decimal.NewFromBigInt(alert.ThresholdPrice, -alert.ThresholdDecimals)
}

// PublishOnce runs a single publish pass over the given symbols (or the
// configured defaults) and prints the per-symbol outcome.
func (a *App) PublishOnce(ctx context.Context, symbols []string) error {
	led, err := a.newLedger()
	if err != nil {
		return err
	}

	c, closer, err := a.buildCore(ctx, led)
	if err != nil {
		return err
	}
	defer closer()

	if err := c.reg.EnsureRegistered(ctx); err != nil {
		return err
	}

	if len(symbols) == 0 {
		symbols = a.Config.Publisher.Symbols
	}

	report := c.pub.PublishAll(ctx, symbols)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tOutcome\tPrice\tSource\tTx/Error")
	for _, result := range report.Succeeded {
		fmt.Fprintf(writer, "%s\tok\t%s\t%s\t%s\n",
			result.Symbol,
			result.Reading.Decimal().String(),
			result.Reading.Source,
			result.Tx,
		)
	}
	for _, failure := range report.Failed {
		fmt.Fprintf(writer, "%s\tfailed\t\t\t%v\n", failure.Symbol, failure.Err)
	}
	writer.Flush()

	if len(report.Succeeded) == 0 && len(report.Failed) > 0 {
		return errors.New("no symbol published successfully")
	}
	return nil
}
