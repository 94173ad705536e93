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

// CoinGeckoOptions parameterise the CoinGecko adapter.
type CoinGeckoOptions struct {
	BaseURL          string
	APIKeys          []string
	CoinIDs          map[string]string
	Decimals         int32
	CacheTTL         time.Duration
	RotationInterval time.Duration
	RetryBackoff     time.Duration
	Timeout          time.Duration
	UserAgent        string
}

// CoinGecko fetches spot prices from the CoinGecko simple-price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	source  *sourceclient.Client[feed.PriceReading]
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewCoinGecko constructs the adapter over the shared cache.
func NewCoinGecko(opts CoinGeckoOptions, cache sourceclient.Cache, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.Decimals <= 0 {
		opts.Decimals = 8
	}

	return &CoinGecko{
		opts: opts,
		source: sourceclient.New[feed.PriceReading](sourceclient.Options{
			Keys:             opts.APIKeys,
			CacheTTL:         opts.CacheTTL,
			RotationInterval: opts.RotationInterval,
			RetryBackoff:     opts.RetryBackoff,
		}, cache, logger),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "coingecko").Logger(),
	}
}

func (c *CoinGecko) Name() feed.Source {
	return feed.SourceCoinGecko
}

// FetchPrice returns the current price for symbol, scaled into the configured
// fixed-point space.
func (c *CoinGecko) FetchPrice(ctx context.Context, symbol string) (feed.PriceReading, error) {
	coinID, ok := c.opts.CoinIDs[strings.ToUpper(symbol)]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("%w: no coingecko id for %s", sourceclient.ErrNotFound, symbol)
	}

	cacheKey := "coingecko:price:" + strings.ToUpper(symbol)
	return c.source.Do(ctx, cacheKey, func(ctx context.Context, apiKey string) (feed.PriceReading, error) {
		return c.fetchRemote(ctx, apiKey, strings.ToUpper(symbol), coinID)
	})
}

func (c *CoinGecko) fetchRemote(ctx context.Context, apiKey, symbol, coinID string) (feed.PriceReading, error) {
	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", "usd")
	if apiKey != "" {
		query.Set("x_cg_demo_api_key", apiKey)
	}

	body, err := getJSON(ctx, c.client, c.baseURL+"/simple/price?"+query.Encode())
	if err != nil {
		return feed.PriceReading{}, err
	}

	// Response shape: {"bitcoin": {"usd": 97000.12}}
	var raw map[string]map[string]json.Number
	if err := json.Unmarshal(body, &raw); err != nil {
		return feed.PriceReading{}, fmt.Errorf("parse coingecko response: %w", err)
	}

	quote, ok := raw[coinID]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("%w: coin %s missing from response", sourceclient.ErrNotFound, coinID)
	}
	num, ok := quote["usd"]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("%w: usd quote missing for %s", sourceclient.ErrNotFound, coinID)
	}

	price, err := decimal.NewFromString(num.String())
	if err != nil {
		return feed.PriceReading{}, fmt.Errorf("parse coingecko price: %w", err)
	}
	if price.IsNegative() {
		return feed.PriceReading{}, fmt.Errorf("coingecko returned negative price for %s", coinID)
	}

	return feed.PriceReading{
		Symbol:    symbol,
		Price:     feed.ScaleDecimal(price, c.opts.Decimals),
		Decimals:  c.opts.Decimals,
		Source:    feed.SourceCoinGecko,
		Timestamp: time.Now().Unix(),
	}, nil
}

var _ PriceSource = (*CoinGecko)(nil)
