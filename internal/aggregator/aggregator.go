package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/provider"
)

// ErrNoProviderAvailable means every enabled adapter failed for a symbol.
var ErrNoProviderAvailable = errors.New("aggregator: no provider available")

// Priority orders the provider attempt sequence.
type Priority string

const (
	PriorityOffchainFirst Priority = "offchain_first"
	PriorityOnchainFirst  Priority = "onchain_first"
)

// ParsePriority validates a configured priority mode.
func ParsePriority(raw string) (Priority, error) {
	switch Priority(raw) {
	case PriorityOffchainFirst, PriorityOnchainFirst:
		return Priority(raw), nil
	}
	return "", fmt.Errorf("unknown provider priority %q", raw)
}

// Options configure the aggregation policy.
type Options struct {
	Priority Priority
	// Enabled lists the providers allowed to serve readings; a provider
	// absent from the set is skipped entirely.
	Enabled []feed.Source
}

// Aggregator selects the authoritative reading for a symbol by walking the
// adapters strictly in priority order and taking the first success. Readings
// are never merged or averaged across providers.
type Aggregator struct {
	order   []provider.PriceSource
	enabled map[feed.Source]bool
	logger  zerolog.Logger
}

// New builds the aggregator. offchain lists the off-chain adapters in their
// own relative order; onchain is the on-chain oracle adapter.
func New(opts Options, offchain []provider.PriceSource, onchain provider.PriceSource, logger zerolog.Logger) *Aggregator {
	var order []provider.PriceSource
	switch opts.Priority {
	case PriorityOnchainFirst:
		if onchain != nil {
			order = append(order, onchain)
		}
		order = append(order, offchain...)
	default:
		order = append(order, offchain...)
		if onchain != nil {
			order = append(order, onchain)
		}
	}

	enabled := make(map[feed.Source]bool, len(opts.Enabled))
	for _, src := range opts.Enabled {
		enabled[src] = true
	}

	return &Aggregator{
		order:   order,
		enabled: enabled,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// FetchBest returns the reading from the highest-priority enabled adapter
// that succeeds. Lower-priority adapters are not contacted once one wins.
func (a *Aggregator) FetchBest(ctx context.Context, symbol string) (feed.PriceReading, error) {
	var lastErr error
	for _, src := range a.order {
		if !a.enabled[src.Name()] {
			continue
		}

		reading, err := src.FetchPrice(ctx, symbol)
		if err == nil {
			a.logger.Debug().Str("symbol", symbol).Str("source", string(src.Name())).Msg("provider served reading")
			return reading, nil
		}

		lastErr = err
		a.logger.Warn().Err(err).Str("symbol", symbol).Str("source", string(src.Name())).Msg("provider failed, trying next")
	}

	if lastErr != nil {
		return feed.PriceReading{}, fmt.Errorf("%w: %s: %v", ErrNoProviderAvailable, symbol, lastErr)
	}
	return feed.PriceReading{}, fmt.Errorf("%w: %s", ErrNoProviderAvailable, symbol)
}
