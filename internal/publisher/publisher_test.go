package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/aggregator"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/provider"
	"price-feed-oracle/internal/registrar"
)

type tableSource struct {
	prices map[string]*big.Int
}

func (s *tableSource) Name() feed.Source { return feed.SourceCoinGecko }

func (s *tableSource) FetchPrice(_ context.Context, symbol string) (feed.PriceReading, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("no price for %s", symbol)
	}
	return feed.PriceReading{
		Symbol:    symbol,
		Price:     price,
		Decimals:  8,
		Source:    feed.SourceCoinGecko,
		Timestamp: time.Now().Unix(),
	}, nil
}

func newTestAggregator(src provider.PriceSource) *aggregator.Aggregator {
	return aggregator.New(aggregator.Options{
		Priority: aggregator.PriorityOffchainFirst,
		Enabled:  []feed.Source{feed.SourceCoinGecko},
	}, []provider.PriceSource{src}, nil, zerolog.Nop())
}

func TestPublishAllPartialFailure(t *testing.T) {
	src := &tableSource{prices: map[string]*big.Int{
		"BTC": big.NewInt(5_000_000_000_000),
		"ETH": big.NewInt(300_000_000_000),
	}}
	led := ledger.NewMemory()

	pub := New(newTestAggregator(src), led, nil, nil, Options{}, zerolog.Nop())
	report := pub.PublishAll(context.Background(), []string{"BTC", "ETH", "XYZ"})

	if len(report.Succeeded) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(report.Succeeded))
	}
	if len(report.Failed) != 1 || report.Failed[0].Symbol != "XYZ" {
		t.Fatalf("expected XYZ to fail, got %+v", report.Failed)
	}
	if led.SubmitCount() != 2 {
		t.Fatalf("ledger should hold 2 submissions, got %d", led.SubmitCount())
	}
}

func TestPublishOneSubmitsDecodablePayload(t *testing.T) {
	src := &tableSource{prices: map[string]*big.Int{"BTC": big.NewInt(9_700_012_000_000)}}
	led := ledger.NewMemory()

	pub := New(newTestAggregator(src), led, nil, nil, Options{}, zerolog.Nop())
	result, err := pub.PublishOne(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("PublishOne failed: %v", err)
	}
	if result.Tx == "" {
		t.Fatal("expected a transaction handle")
	}

	records, err := led.Query(context.Background(), ledger.Filter{Schema: registrar.PriceFeedSchema, Key: "BTC"})
	if err != nil || len(records) != 1 {
		t.Fatalf("ledger query: %v (%d records)", err, len(records))
	}

	var reading feed.PriceReading
	if err := json.Unmarshal(records[0].Payload, &reading); err != nil {
		t.Fatalf("payload must round-trip: %v", err)
	}
	if reading.Price.Cmp(big.NewInt(9_700_012_000_000)) != 0 || reading.Decimals != 8 {
		t.Fatalf("payload corrupted: %+v", reading)
	}
}

func TestPublishAllInvokesHookPerSuccess(t *testing.T) {
	src := &tableSource{prices: map[string]*big.Int{
		"BTC": big.NewInt(1),
		"ETH": big.NewInt(2),
	}}

	var hooked []string
	hook := func(_ context.Context, reading feed.PriceReading) {
		hooked = append(hooked, reading.Symbol)
	}

	pub := New(newTestAggregator(src), ledger.NewMemory(), nil, hook, Options{}, zerolog.Nop())
	pub.PublishAll(context.Background(), []string{"BTC", "XYZ", "ETH"})

	if len(hooked) != 2 || hooked[0] != "BTC" || hooked[1] != "ETH" {
		t.Fatalf("hook calls %v", hooked)
	}
}

func TestPublishAllHonoursCancellation(t *testing.T) {
	src := &tableSource{prices: map[string]*big.Int{"BTC": big.NewInt(1), "ETH": big.NewInt(2)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := New(newTestAggregator(src), ledger.NewMemory(), nil, nil, Options{SymbolDelay: time.Second}, zerolog.Nop())
	report := pub.PublishAll(ctx, []string{"BTC", "ETH"})

	// First symbol has no delay; the second hits the cancelled delay wait.
	if len(report.Succeeded) != 1 {
		t.Fatalf("expected 1 success before cancellation, got %d", len(report.Succeeded))
	}
	if len(report.Failed) != 1 || report.Failed[0].Symbol != "ETH" {
		t.Fatalf("expected ETH to fail on cancellation, got %+v", report.Failed)
	}
}

func TestPublishOneSubmitFailure(t *testing.T) {
	src := &tableSource{prices: map[string]*big.Int{"BTC": big.NewInt(1)}}
	led := ledger.NewMemory()
	led.SubmitErr = fmt.Errorf("%w: rpc down", ledger.ErrSubmitFailed)

	hookCalled := false
	pub := New(newTestAggregator(src), led, nil, func(context.Context, feed.PriceReading) {
		hookCalled = true
	}, Options{}, zerolog.Nop())

	if _, err := pub.PublishOne(context.Background(), "BTC"); err == nil {
		t.Fatal("submit failure must surface")
	}
	if hookCalled {
		t.Fatal("hook must not run when the ledger rejected the reading")
	}
}
