// Package alerts holds the alert store and the crossing evaluator. The
// ledger is the system of record; the store is a read-through view over it.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/alerting"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/registrar"
)

// CreateParams describe a new alert request.
type CreateParams struct {
	UserAddress       string
	Asset             string
	Condition         feed.Condition
	ThresholdPrice    *big.Int
	ThresholdDecimals int32
}

func (p CreateParams) validate() error {
	if p.UserAddress == "" {
		return errors.New("user address required")
	}
	if p.Asset == "" {
		return errors.New("asset required")
	}
	if p.Condition != feed.ConditionAbove && p.Condition != feed.ConditionBelow {
		return fmt.Errorf("unknown condition %q", p.Condition)
	}
	if p.ThresholdPrice == nil || p.ThresholdPrice.Sign() < 0 {
		return errors.New("threshold price must be non-negative")
	}
	return nil
}

// Store provides CRUD over alert records plus the crossing detector.
type Store struct {
	led      ledger.Ledger
	notifier alerting.Notifier
	logger   zerolog.Logger

	mu sync.Mutex
	// view mirrors the ledger's latest record per alert id.
	view  map[string]feed.AlertRecord
	order []string
	// triggering guards against double-triggering when the evaluator is
	// called redundantly before the ledger view catches up.
	triggering map[string]struct{}
}

// NewStore builds the store. notifier may be nil.
func NewStore(led ledger.Ledger, notifier alerting.Notifier, logger zerolog.Logger) *Store {
	return &Store{
		led:        led,
		notifier:   notifier,
		logger:     logger.With().Str("component", "alert_store").Logger(),
		view:       make(map[string]feed.AlertRecord),
		triggering: make(map[string]struct{}),
	}
}

// CreateAlert submits a new ACTIVE alert to the ledger. On submit failure no
// partial state is kept anywhere.
func (s *Store) CreateAlert(ctx context.Context, params CreateParams) (feed.AlertRecord, ledger.TxHandle, error) {
	if err := params.validate(); err != nil {
		return feed.AlertRecord{}, "", err
	}

	record := feed.AlertRecord{
		AlertID:           uuid.NewString(),
		UserAddress:       params.UserAddress,
		Asset:             params.Asset,
		Condition:         params.Condition,
		ThresholdPrice:    params.ThresholdPrice,
		ThresholdDecimals: params.ThresholdDecimals,
		Status:            feed.StatusActive,
	}

	tx, err := s.submitRecord(ctx, record)
	if err != nil {
		return feed.AlertRecord{}, "", fmt.Errorf("create alert: %w", err)
	}

	s.mu.Lock()
	if _, seen := s.view[record.AlertID]; !seen {
		s.order = append(s.order, record.AlertID)
	}
	s.view[record.AlertID] = record
	s.mu.Unlock()

	s.logger.Info().
		Str("alert_id", record.AlertID).
		Str("asset", record.Asset).
		Str("condition", string(record.Condition)).
		Msg("alert created")
	return record, tx, nil
}

// Get returns an alert from the local view without touching the ledger.
func (s *Store) Get(alertID string) (feed.AlertRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.view[alertID]
	return alert, ok
}

// GetActiveAlerts returns every ACTIVE alert from the ledger's current index.
func (s *Store) GetActiveAlerts(ctx context.Context) ([]feed.AlertRecord, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.snapshot(func(r feed.AlertRecord) bool {
		return r.Status == feed.StatusActive
	}), nil
}

// ActiveForAsset returns the ACTIVE alerts on one asset.
func (s *Store) ActiveForAsset(ctx context.Context, asset string) ([]feed.AlertRecord, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.snapshot(func(r feed.AlertRecord) bool {
		return r.Status == feed.StatusActive && r.Asset == asset
	}), nil
}

// CheckAlerts evaluates every ACTIVE alert on asset against the new price and
// transitions crossed alerts to TRIGGERED, exactly once each. Triggered ids
// come back in evaluation order. Redundant calls with the same or a
// further-crossing price neither re-trigger nor error.
func (s *Store) CheckAlerts(ctx context.Context, asset string, price *big.Int, decimals int32) ([]string, error) {
	if price == nil {
		return nil, errors.New("price required")
	}

	// Best effort refresh: a temporarily unreachable ledger degrades to the
	// cached view instead of skipping the evaluation.
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("refresh failed, evaluating cached view")
	}

	candidates := s.snapshot(func(r feed.AlertRecord) bool {
		return r.Status == feed.StatusActive && r.Asset == asset
	})

	var triggered []string
	for _, alert := range candidates {
		if !alert.Crossed(price, decimals) {
			continue
		}

		s.mu.Lock()
		if _, busy := s.triggering[alert.AlertID]; busy {
			s.mu.Unlock()
			continue
		}
		s.triggering[alert.AlertID] = struct{}{}
		s.mu.Unlock()

		alert.Status = feed.StatusTriggered
		if _, err := s.submitRecord(ctx, alert); err != nil {
			// Leave the alert ACTIVE; a later evaluation retries the write.
			s.mu.Lock()
			delete(s.triggering, alert.AlertID)
			s.mu.Unlock()
			s.logger.Error().Err(err).Str("alert_id", alert.AlertID).Msg("failed to persist trigger")
			continue
		}

		s.mu.Lock()
		s.view[alert.AlertID] = alert
		s.mu.Unlock()

		triggered = append(triggered, alert.AlertID)
		s.logger.Info().
			Str("alert_id", alert.AlertID).
			Str("asset", asset).
			Str("price", decimal.NewFromBigInt(price, -decimals).String()).
			Msg("alert triggered")

		s.notify(ctx, alert, price, decimals)
	}

	return triggered, nil
}

func (s *Store) submitRecord(ctx context.Context, record feed.AlertRecord) (ledger.TxHandle, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode alert: %w", err)
	}
	return s.led.Submit(ctx, ledger.Record{
		Schema:  registrar.AlertSchema,
		Key:     record.AlertID,
		Payload: payload,
	})
}

// refresh replaces the local view with the ledger's current index.
func (s *Store) refresh(ctx context.Context) error {
	records, err := s.led.Query(ctx, ledger.Filter{Schema: registrar.AlertSchema})
	if err != nil {
		return fmt.Errorf("query alerts: %w", err)
	}

	view := make(map[string]feed.AlertRecord, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		var alert feed.AlertRecord
		if err := json.Unmarshal(rec.Payload, &alert); err != nil {
			s.logger.Warn().Err(err).Str("key", rec.Key).Msg("skipping undecodable alert record")
			continue
		}
		view[alert.AlertID] = alert
		order = append(order, alert.AlertID)
	}

	s.mu.Lock()
	s.view = view
	s.order = order
	// Trigger writes that reached the ledger are visible again, so the
	// in-flight guard for them can be dropped.
	for id := range s.triggering {
		if alert, ok := view[id]; ok && alert.Status == feed.StatusTriggered {
			delete(s.triggering, id)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) snapshot(keep func(feed.AlertRecord) bool) []feed.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]feed.AlertRecord, 0, len(s.order))
	for _, id := range s.order {
		alert, ok := s.view[id]
		if !ok || !keep(alert) {
			continue
		}
		out = append(out, alert)
	}
	return out
}

func (s *Store) notify(ctx context.Context, alert feed.AlertRecord, price *big.Int, decimals int32) {
	if s.notifier == nil {
		return
	}
	note := alerting.Notification{
		AlertID:     alert.AlertID,
		UserAddress: alert.UserAddress,
		Asset:       alert.Asset,
		Condition:   string(alert.Condition),
		Threshold:   decimal.NewFromBigInt(alert.ThresholdPrice, -alert.ThresholdDecimals).String(),
		Price:       decimal.NewFromBigInt(price, -decimals).String(),
		TriggeredAt: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("alert_id", alert.AlertID).Msg("failed to dispatch trigger notification")
	}
}
