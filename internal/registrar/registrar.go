// Package registrar performs the one-time registration of record layouts
// with the ledger.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/ledger"
)

// Schema names used across the system.
const (
	PriceFeedSchema = "price_feed_v1"
	AlertSchema     = "price_alert_v1"
)

var schemas = []ledger.SchemaDescriptor{
	{
		Name:   PriceFeedSchema,
		Layout: `{"symbol":"string","price":"uint256","decimals":"uint8","source":"string","timestamp":"uint64"}`,
	},
	{
		Name:   AlertSchema,
		Layout: `{"alertId":"string","userAddress":"address","asset":"string","condition":"string","thresholdPrice":"uint256","thresholdDecimals":"uint8","status":"string"}`,
	},
}

// Registrar registers the price-feed and alert schemas exactly once per
// process. Registration is idempotent end to end: a schema the ledger
// already knows is a no-op success.
type Registrar struct {
	led    ledger.Ledger
	logger zerolog.Logger

	mu   sync.Mutex
	done bool
}

func New(led ledger.Ledger, logger zerolog.Logger) *Registrar {
	return &Registrar{
		led:    led,
		logger: logger.With().Str("component", "registrar").Logger(),
	}
}

// EnsureRegistered registers all schemas, tolerating already-exists
// responses. Subsequent calls in the same process return immediately.
func (r *Registrar) EnsureRegistered(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return nil
	}

	for _, schema := range schemas {
		err := r.led.RegisterSchema(ctx, schema)
		switch {
		case err == nil:
			r.logger.Info().Str("schema", schema.Name).Msg("registered schema")
		case errors.Is(err, ledger.ErrSchemaExists):
			r.logger.Debug().Str("schema", schema.Name).Msg("schema already registered")
		default:
			return fmt.Errorf("register schema %s: %w", schema.Name, err)
		}
	}

	r.done = true
	return nil
}
