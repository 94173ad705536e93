package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/sourceclient"
)

// PriceSource is a provider-specific adapter returning normalised price
// readings.
type PriceSource interface {
	Name() feed.Source
	FetchPrice(ctx context.Context, symbol string) (feed.PriceReading, error)
}

// SentimentSource returns normalised vote-sentiment readings.
type SentimentSource interface {
	FetchSentiment(ctx context.Context, symbol string) (feed.SentimentReading, error)
}

// FearGreedSource returns normalised fear/greed index readings.
type FearGreedSource interface {
	FetchIndex(ctx context.Context) (feed.FearGreedReading, error)
}

// getJSON issues a GET and returns the body, classifying non-2xx statuses
// into the source client's retry taxonomy.
func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sourceclient.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", sourceclient.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &sourceclient.StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
