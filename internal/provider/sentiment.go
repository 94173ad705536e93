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

// SentimentOptions parameterise the vote-sentiment adapter.
type SentimentOptions struct {
	BaseURL          string
	APIKeys          []string
	CoinIDs          map[string]string
	CacheTTL         time.Duration
	RotationInterval time.Duration
	RetryBackoff     time.Duration
	Timeout          time.Duration
}

// Sentiment fetches community vote sentiment from CoinGecko coin pages. It
// shares the key-rotation and cache discipline of the price adapters.
type Sentiment struct {
	opts    SentimentOptions
	source  *sourceclient.Client[feed.SentimentReading]
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

func NewSentiment(opts SentimentOptions, cache sourceclient.Cache, logger zerolog.Logger) *Sentiment {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Sentiment{
		opts: opts,
		source: sourceclient.New[feed.SentimentReading](sourceclient.Options{
			Keys:             opts.APIKeys,
			CacheTTL:         opts.CacheTTL,
			RotationInterval: opts.RotationInterval,
			RetryBackoff:     opts.RetryBackoff,
		}, cache, logger),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "sentiment").Logger(),
	}
}

func (s *Sentiment) FetchSentiment(ctx context.Context, symbol string) (feed.SentimentReading, error) {
	symbol = strings.ToUpper(symbol)
	coinID, ok := s.opts.CoinIDs[symbol]
	if !ok {
		return feed.SentimentReading{}, fmt.Errorf("%w: no coingecko id for %s", sourceclient.ErrNotFound, symbol)
	}

	cacheKey := "coingecko:sentiment:" + symbol
	return s.source.Do(ctx, cacheKey, func(ctx context.Context, apiKey string) (feed.SentimentReading, error) {
		return s.fetchRemote(ctx, apiKey, symbol, coinID)
	})
}

func (s *Sentiment) fetchRemote(ctx context.Context, apiKey, symbol, coinID string) (feed.SentimentReading, error) {
	query := url.Values{}
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("market_data", "false")
	query.Set("community_data", "true")
	if apiKey != "" {
		query.Set("x_cg_demo_api_key", apiKey)
	}

	body, err := getJSON(ctx, s.client, s.baseURL+"/coins/"+coinID+"?"+query.Encode())
	if err != nil {
		return feed.SentimentReading{}, err
	}

	var raw struct {
		UpPct   json.Number `json:"sentiment_votes_up_percentage"`
		DownPct json.Number `json:"sentiment_votes_down_percentage"`
		Watch   int64       `json:"watchlist_portfolio_users"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return feed.SentimentReading{}, fmt.Errorf("parse sentiment response: %w", err)
	}

	up, err := scaledHundredths(raw.UpPct)
	if err != nil {
		return feed.SentimentReading{}, fmt.Errorf("parse up percentage: %w", err)
	}
	down, err := scaledHundredths(raw.DownPct)
	if err != nil {
		return feed.SentimentReading{}, fmt.Errorf("parse down percentage: %w", err)
	}

	return feed.SentimentReading{
		Symbol:      symbol,
		Timestamp:   time.Now().Unix(),
		UpPercent:   up,
		DownPercent: down,
		NetScore:    up - down,
		SampleSize:  feed.ClampSampleSize(raw.Watch),
		Source:      feed.SourceCoinGecko,
	}, nil
}

// scaledHundredths converts a JSON percentage into an integer scaled by 100.
func scaledHundredths(n json.Number) (int64, error) {
	if n.String() == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

var _ SentimentSource = (*Sentiment)(nil)
