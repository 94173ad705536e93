package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"price-feed-oracle/internal/storage"
)

// ExportOptions hold parameters for exporting published price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Export renders one symbol's publish history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Publisher.PublishInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	publishes, err := store.ListPublishesBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(publishes) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no publishes found for export window")
		return nil
	}

	downsampled := downsamplePublishes(publishes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(publishes)).Int("exported", len(downsampled)).Msg("exporting publishes")

	if opts.CSVPath != "" {
		if err := writePublishesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePublishesPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePublishes(publishes []storage.PublishedReading, max int) []storage.PublishedReading {
	if max <= 0 || len(publishes) <= max {
		return publishes
	}

	result := make([]storage.PublishedReading, 0, max)
	step := float64(len(publishes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(publishes) {
			idx = len(publishes) - 1
		}
		result = append(result, publishes[idx])
	}
	return result
}

func writePublishesCSV(path string, publishes []storage.PublishedReading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"published_at", "symbol", "price", "decimals", "source", "tx_hash"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range publishes {
		record := []string{
			row.PublishedAt.Format(time.RFC3339),
			row.Symbol,
			row.Price.String(),
			fmt32(row.Decimals),
			row.Source,
			row.TxHash,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePublishesPNG(path, symbol string, publishes []storage.PublishedReading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(publishes))
	prices := make([]float64, len(publishes))
	for i, row := range publishes {
		x[i] = row.PublishedAt
		// Rendering only; comparisons never go through floats.
		prices[i] = row.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           symbol + " (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    symbol,
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func fmt32(v int32) string {
	return strconv.Itoa(int(v))
}
