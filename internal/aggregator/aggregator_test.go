package aggregator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/provider"
)

type fakeSource struct {
	name   feed.Source
	err    error
	called int
}

func (f *fakeSource) Name() feed.Source { return f.name }

func (f *fakeSource) FetchPrice(_ context.Context, symbol string) (feed.PriceReading, error) {
	f.called++
	if f.err != nil {
		return feed.PriceReading{}, f.err
	}
	return feed.PriceReading{
		Symbol:   symbol,
		Price:    big.NewInt(5_000_000_000_000),
		Decimals: 8,
		Source:   f.name,
	}, nil
}

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func allEnabled() []feed.Source {
	return []feed.Source{feed.SourceCoinGecko, feed.SourceCryptoCompare, feed.SourceChainlink}
}

func TestFetchBestStopsAtFirstSuccess(t *testing.T) {
	first := &fakeSource{name: feed.SourceCoinGecko}
	second := &fakeSource{name: feed.SourceCryptoCompare}
	onchain := &fakeSource{name: feed.SourceChainlink}

	agg := New(Options{Priority: PriorityOffchainFirst, Enabled: allEnabled()},
		[]provider.PriceSource{first, second}, onchain, noopLogger())

	reading, err := agg.FetchBest(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("FetchBest failed: %v", err)
	}
	if reading.Source != feed.SourceCoinGecko {
		t.Fatalf("expected first provider to win, got %s", reading.Source)
	}
	if second.called != 0 || onchain.called != 0 {
		t.Fatal("lower-priority providers must not be contacted after a success")
	}
}

func TestFetchBestFallsThroughOnFailure(t *testing.T) {
	first := &fakeSource{name: feed.SourceCoinGecko, err: errors.New("down")}
	second := &fakeSource{name: feed.SourceCryptoCompare}

	agg := New(Options{Priority: PriorityOffchainFirst, Enabled: allEnabled()},
		[]provider.PriceSource{first, second}, nil, noopLogger())

	reading, err := agg.FetchBest(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fallback should have served: %v", err)
	}
	if reading.Source != feed.SourceCryptoCompare {
		t.Fatalf("expected second provider, got %s", reading.Source)
	}
}

func TestFetchBestOnchainFirst(t *testing.T) {
	offchain := &fakeSource{name: feed.SourceCoinGecko}
	onchain := &fakeSource{name: feed.SourceChainlink}

	agg := New(Options{Priority: PriorityOnchainFirst, Enabled: allEnabled()},
		[]provider.PriceSource{offchain}, onchain, noopLogger())

	reading, err := agg.FetchBest(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("FetchBest failed: %v", err)
	}
	if reading.Source != feed.SourceChainlink {
		t.Fatalf("onchain_first should serve from chainlink, got %s", reading.Source)
	}
	if offchain.called != 0 {
		t.Fatal("offchain provider contacted despite onchain success")
	}
}

func TestFetchBestSkipsDisabledProviders(t *testing.T) {
	disabled := &fakeSource{name: feed.SourceCoinGecko}
	enabled := &fakeSource{name: feed.SourceCryptoCompare}

	agg := New(Options{
		Priority: PriorityOffchainFirst,
		Enabled:  []feed.Source{feed.SourceCryptoCompare},
	}, []provider.PriceSource{disabled, enabled}, nil, noopLogger())

	reading, err := agg.FetchBest(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("FetchBest failed: %v", err)
	}
	if reading.Source != feed.SourceCryptoCompare {
		t.Fatalf("disabled provider served a reading: %s", reading.Source)
	}
	if disabled.called != 0 {
		t.Fatal("disabled provider must never be contacted")
	}
}

func TestFetchBestAllFail(t *testing.T) {
	a := &fakeSource{name: feed.SourceCoinGecko, err: errors.New("a down")}
	b := &fakeSource{name: feed.SourceCryptoCompare, err: errors.New("b down")}

	agg := New(Options{Priority: PriorityOffchainFirst, Enabled: allEnabled()},
		[]provider.PriceSource{a, b}, nil, noopLogger())

	_, err := agg.FetchBest(context.Background(), "BTC")
	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
	}
}

func TestParsePriority(t *testing.T) {
	if _, err := ParsePriority("offchain_first"); err != nil {
		t.Fatalf("offchain_first should parse: %v", err)
	}
	if _, err := ParsePriority("onchain_first"); err != nil {
		t.Fatalf("onchain_first should parse: %v", err)
	}
	if _, err := ParsePriority("fastest"); err == nil {
		t.Fatal("unknown priority should be rejected")
	}
}
