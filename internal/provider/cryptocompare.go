package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/sourceclient"
)

// CryptoCompareOptions parameterise the CryptoCompare adapter.
type CryptoCompareOptions struct {
	BaseURL          string
	APIKeys          []string
	Decimals         int32
	CacheTTL         time.Duration
	RotationInterval time.Duration
	RetryBackoff     time.Duration
	Timeout          time.Duration
}

// CryptoCompare fetches spot prices from the CryptoCompare price endpoint.
// Unlike CoinGecko it addresses assets by ticker directly.
type CryptoCompare struct {
	opts    CryptoCompareOptions
	source  *sourceclient.Client[feed.PriceReading]
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

func NewCryptoCompare(opts CryptoCompareOptions, cache sourceclient.Cache, logger zerolog.Logger) *CryptoCompare {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://min-api.cryptocompare.com"
	}
	if opts.Decimals <= 0 {
		opts.Decimals = 8
	}

	return &CryptoCompare{
		opts: opts,
		source: sourceclient.New[feed.PriceReading](sourceclient.Options{
			Keys:             opts.APIKeys,
			CacheTTL:         opts.CacheTTL,
			RotationInterval: opts.RotationInterval,
			RetryBackoff:     opts.RetryBackoff,
		}, cache, logger),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "cryptocompare").Logger(),
	}
}

func (c *CryptoCompare) Name() feed.Source {
	return feed.SourceCryptoCompare
}

func (c *CryptoCompare) FetchPrice(ctx context.Context, symbol string) (feed.PriceReading, error) {
	symbol = strings.ToUpper(symbol)
	cacheKey := "cryptocompare:price:" + symbol
	return c.source.Do(ctx, cacheKey, func(ctx context.Context, apiKey string) (feed.PriceReading, error) {
		return c.fetchRemote(ctx, apiKey, symbol)
	})
}

func (c *CryptoCompare) fetchRemote(ctx context.Context, apiKey, symbol string) (feed.PriceReading, error) {
	query := url.Values{}
	query.Set("fsym", symbol)
	query.Set("tsyms", "USD")
	if apiKey != "" {
		query.Set("api_key", apiKey)
	}

	body, err := getJSON(ctx, c.client, c.baseURL+"/data/price?"+query.Encode())
	if err != nil {
		return feed.PriceReading{}, err
	}

	// Success shape: {"USD": 50000.12}. Errors come back as 200 with a
	// Response/Message envelope instead.
	var envelope struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Response == "Error" {
		return feed.PriceReading{}, fmt.Errorf("%w: %s", sourceclient.ErrNotFound, envelope.Message)
	}

	var raw map[string]json.Number
	if err := json.Unmarshal(body, &raw); err != nil {
		return feed.PriceReading{}, fmt.Errorf("parse cryptocompare response: %w", err)
	}
	num, ok := raw["USD"]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("%w: usd quote missing for %s", sourceclient.ErrNotFound, symbol)
	}

	price, err := decimal.NewFromString(num.String())
	if err != nil {
		return feed.PriceReading{}, fmt.Errorf("parse cryptocompare price: %w", err)
	}
	if price.IsNegative() {
		return feed.PriceReading{}, fmt.Errorf("cryptocompare returned negative price for %s", symbol)
	}

	return feed.PriceReading{
		Symbol:    symbol,
		Price:     feed.ScaleDecimal(price, c.opts.Decimals),
		Decimals:  c.opts.Decimals,
		Source:    feed.SourceCryptoCompare,
		Timestamp: time.Now().Unix(),
	}, nil
}

var _ PriceSource = (*CryptoCompare)(nil)
