package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// Show prints recently mirrored publishes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show publishes")
	}
	defer closeStore()

	publishes, err := store.ListRecentPublishes(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(publishes) == 0 {
		fmt.Fprintln(os.Stdout, "no publishes found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Published (UTC)\tSymbol\tPrice\tSource\tTx")

	for _, row := range publishes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			row.PublishedAt.UTC().Format(time.RFC3339),
			row.Symbol,
			row.Price.String(),
			row.Source,
			row.TxHash,
		)
	}

	writer.Flush()
	return nil
}
