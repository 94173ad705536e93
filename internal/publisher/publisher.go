package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/aggregator"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/registrar"
	"price-feed-oracle/internal/storage"
)

// Result is one successful per-symbol publication.
type Result struct {
	Symbol  string
	Tx      ledger.TxHandle
	Reading feed.PriceReading
}

// SymbolError records a per-symbol failure inside a batch.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e SymbolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Symbol, e.Err)
}

// Report is the outcome of one publish pass. A batch never fails as a whole;
// partial success is the normal shape.
type Report struct {
	Succeeded []Result
	Failed    []SymbolError
}

// TriggerHook is invoked with each newly published reading, after the ledger
// accepted it. The alert evaluator hangs off this.
type TriggerHook func(ctx context.Context, reading feed.PriceReading)

// Options tune the publisher.
type Options struct {
	// SymbolDelay is the fixed pause between symbols in a batch, respecting
	// downstream rate limits.
	SymbolDelay time.Duration
}

// Publisher converts aggregated readings into ledger submissions.
type Publisher struct {
	agg    *aggregator.Aggregator
	led    ledger.Ledger
	mirror storage.PublishStore
	hook   TriggerHook
	delay  time.Duration
	logger zerolog.Logger
}

// New constructs a publisher. mirror and hook may be nil.
func New(agg *aggregator.Aggregator, led ledger.Ledger, mirror storage.PublishStore, hook TriggerHook, opts Options, logger zerolog.Logger) *Publisher {
	return &Publisher{
		agg:    agg,
		led:    led,
		mirror: mirror,
		hook:   hook,
		delay:  opts.SymbolDelay,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

// PublishOne aggregates and submits a single symbol.
func (p *Publisher) PublishOne(ctx context.Context, symbol string) (Result, error) {
	reading, err := p.agg.FetchBest(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate %s: %w", symbol, err)
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return Result{}, fmt.Errorf("encode reading %s: %w", symbol, err)
	}

	tx, err := p.led.Submit(ctx, ledger.Record{
		Schema:  registrar.PriceFeedSchema,
		Key:     reading.Symbol,
		Payload: payload,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit %s: %w", symbol, err)
	}

	p.logger.Info().
		Str("symbol", reading.Symbol).
		Str("source", string(reading.Source)).
		Str("price", reading.Decimal().String()).
		Str("tx", string(tx)).
		Msg("reading published")

	if p.mirror != nil {
		row := storage.PublishedReading{
			Symbol:      reading.Symbol,
			Price:       decimal.NewFromBigInt(reading.Price, -reading.Decimals),
			Decimals:    reading.Decimals,
			Source:      string(reading.Source),
			TxHash:      string(tx),
			PublishedAt: reading.Time(),
		}
		if err := p.mirror.InsertPublish(ctx, row); err != nil {
			p.logger.Error().Err(err).Str("symbol", reading.Symbol).Msg("failed to mirror publish")
		}
	}

	if p.hook != nil {
		p.hook(ctx, reading)
	}

	return Result{Symbol: reading.Symbol, Tx: tx, Reading: reading}, nil
}

// PublishAll publishes each symbol in order with the configured inter-symbol
// delay. A failure on one symbol never aborts the remaining symbols.
func (p *Publisher) PublishAll(ctx context.Context, symbols []string) Report {
	var report Report
	for i, symbol := range symbols {
		if i > 0 && p.delay > 0 {
			select {
			case <-ctx.Done():
				report.Failed = append(report.Failed, SymbolError{Symbol: symbol, Err: ctx.Err()})
				return report
			case <-time.After(p.delay):
			}
		}

		result, err := p.PublishOne(ctx, symbol)
		if err != nil {
			p.logger.Error().Err(err).Str("symbol", symbol).Msg("publish failed")
			report.Failed = append(report.Failed, SymbolError{Symbol: symbol, Err: err})
			continue
		}
		report.Succeeded = append(report.Succeeded, result)
	}
	return report
}
