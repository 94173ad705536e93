package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/sourceclient"
)

// FearGreedOptions parameterise the fear/greed index adapter.
type FearGreedOptions struct {
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// FearGreed fetches the alternative.me crypto fear & greed index. The API is
// unauthenticated, so the key pool is empty.
type FearGreed struct {
	opts    FearGreedOptions
	source  *sourceclient.Client[feed.FearGreedReading]
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

func NewFearGreed(opts FearGreedOptions, cache sourceclient.Cache, logger zerolog.Logger) *FearGreed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.alternative.me"
	}

	return &FearGreed{
		opts: opts,
		source: sourceclient.New[feed.FearGreedReading](sourceclient.Options{
			CacheTTL: opts.CacheTTL,
		}, cache, logger),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "feargreed").Logger(),
	}
}

func (f *FearGreed) FetchIndex(ctx context.Context) (feed.FearGreedReading, error) {
	return f.source.Do(ctx, "alternative:fng", func(ctx context.Context, _ string) (feed.FearGreedReading, error) {
		return f.fetchRemote(ctx)
	})
}

func (f *FearGreed) fetchRemote(ctx context.Context) (feed.FearGreedReading, error) {
	body, err := getJSON(ctx, f.client, f.baseURL+"/fng/?limit=1")
	if err != nil {
		return feed.FearGreedReading{}, err
	}

	var payload struct {
		Data []struct {
			Value           string `json:"value"`
			Timestamp       string `json:"timestamp"`
			TimeUntilUpdate string `json:"time_until_update"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return feed.FearGreedReading{}, fmt.Errorf("parse fear/greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return feed.FearGreedReading{}, fmt.Errorf("%w: fear/greed response has no rows", sourceclient.ErrNotFound)
	}

	row := payload.Data[0]
	score, err := strconv.Atoi(strings.TrimSpace(row.Value))
	if err != nil {
		return feed.FearGreedReading{}, fmt.Errorf("parse fear/greed value: %w", err)
	}
	if score < 0 || score > 100 {
		return feed.FearGreedReading{}, fmt.Errorf("fear/greed score %d out of range", score)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(row.Timestamp), 10, 64)
	if err != nil {
		return feed.FearGreedReading{}, fmt.Errorf("parse fear/greed timestamp: %w", err)
	}

	nextUpdate := ts
	if row.TimeUntilUpdate != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(row.TimeUntilUpdate), 10, 64); err == nil && n >= 0 {
			nextUpdate = ts + n
		}
	}

	return feed.FearGreedReading{
		Timestamp:  ts,
		Score:      score,
		Zone:       feed.ZoneForScore(score),
		Source:     feed.SourceAlternativeMe,
		NextUpdate: nextUpdate,
	}, nil
}

var _ FearGreedSource = (*FearGreed)(nil)
