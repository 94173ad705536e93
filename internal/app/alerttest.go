package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/aggregator"
	"price-feed-oracle/internal/alerts"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/provider"
	"price-feed-oracle/internal/publisher"
	"price-feed-oracle/internal/registrar"
)

// AlertTestOptions parameterise the end-to-end alert sequence.
type AlertTestOptions struct {
	Symbol    string
	Price     decimal.Decimal
	Threshold decimal.Decimal
	Condition feed.Condition
}

// AlertTest 在内存账本上执行一次完整的 创建-发布-触发 流程。
// It exercises every core operation without touching a real chain.
func (a *App) AlertTest(ctx context.Context, opts AlertTestOptions) error {
	if opts.Price.IsZero() || opts.Threshold.IsZero() {
		return errors.New("price and threshold must be greater than zero")
	}

	decimals := a.Config.Publisher.Decimals
	led := ledger.NewMemory()

	reg := registrar.New(led, a.Logger)
	if err := reg.EnsureRegistered(ctx); err != nil {
		return err
	}
	// A second registration proves idempotency against the same ledger.
	if err := registrar.New(led, a.Logger).EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("re-registration should be a no-op: %w", err)
	}

	static := &staticPriceSource{
		symbol:   opts.Symbol,
		price:    feed.ScaleDecimal(opts.Price, decimals),
		decimals: decimals,
	}
	agg := aggregator.New(aggregator.Options{
		Priority: aggregator.PriorityOffchainFirst,
		Enabled:  []feed.Source{static.Name()},
	}, []provider.PriceSource{static}, nil, a.Logger)

	alertStore := alerts.NewStore(led, a.newNotifier(), a.Logger)

	record, tx, err := alertStore.CreateAlert(ctx, alerts.CreateParams{
		UserAddress:       "0x0000000000000000000000000000000000000001",
		Asset:             opts.Symbol,
		Condition:         opts.Condition,
		ThresholdPrice:    feed.ScaleDecimal(opts.Threshold, decimals),
		ThresholdDecimals: decimals,
	})
	if err != nil {
		return err
	}
	a.Logger.Info().Str("alert_id", record.AlertID).Str("tx", string(tx)).Msg("alert created")

	var triggered []string
	hook := func(ctx context.Context, reading feed.PriceReading) {
		ids, err := alertStore.CheckAlerts(ctx, reading.Symbol, reading.Price, reading.Decimals)
		if err != nil {
			a.Logger.Error().Err(err).Msg("alert evaluation failed")
			return
		}
		triggered = append(triggered, ids...)
	}

	pub := publisher.New(agg, led, nil, hook, publisher.Options{SymbolDelay: 10 * time.Millisecond}, a.Logger)
	report := pub.PublishAll(ctx, []string{opts.Symbol})
	if len(report.Succeeded) != 1 {
		return fmt.Errorf("expected one published symbol, got %d", len(report.Succeeded))
	}

	expectTrigger := record.Crossed(static.price, decimals)
	if expectTrigger && len(triggered) != 1 {
		return fmt.Errorf("expected alert %s to trigger, it did not", record.AlertID)
	}
	if !expectTrigger && len(triggered) != 0 {
		return fmt.Errorf("alert %s triggered unexpectedly", record.AlertID)
	}

	active, err := alertStore.GetActiveAlerts(ctx)
	if err != nil {
		return err
	}
	for _, alert := range active {
		if alert.AlertID == record.AlertID && expectTrigger {
			return fmt.Errorf("alert %s still listed as ACTIVE after trigger", record.AlertID)
		}
	}

	a.Logger.Info().
		Bool("triggered", expectTrigger).
		Int("ledger_submissions", led.SubmitCount()).
		Msg("alert test sequence completed")
	return nil
}

type staticPriceSource struct {
	symbol   string
	price    *big.Int
	decimals int32
}

func (s *staticPriceSource) Name() feed.Source {
	return feed.SourceCoinGecko
}

func (s *staticPriceSource) FetchPrice(_ context.Context, symbol string) (feed.PriceReading, error) {
	if symbol != s.symbol {
		return feed.PriceReading{}, fmt.Errorf("no static price for %s", symbol)
	}
	return feed.PriceReading{
		Symbol:    symbol,
		Price:     s.price,
		Decimals:  s.decimals,
		Source:    s.Name(),
		Timestamp: time.Now().Unix(),
	}, nil
}

var _ provider.PriceSource = (*staticPriceSource)(nil)
