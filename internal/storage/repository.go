package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertPublishSQL = `INSERT INTO price_publishes (
        symbol,
        price,
        decimals,
        source,
        tx_hash,
        published_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (tx_hash) DO NOTHING;`

	listPublishesBetweenSQL = `SELECT
        id, symbol, price, decimals, source, tx_hash, published_at, created_at
    FROM price_publishes
    WHERE symbol = $1
      AND published_at >= $2
      AND published_at < $3
    ORDER BY published_at;`

	listRecentPublishesSQL = `SELECT
        id, symbol, price, decimals, source, tx_hash, published_at, created_at
    FROM price_publishes
    ORDER BY published_at DESC
    LIMIT $1;`

	countPublishesSQL = `SELECT COUNT(*) FROM price_publishes;`

	insertAlertEventSQL = `INSERT INTO alert_events (
        alert_id,
        asset,
        condition,
        threshold,
        price,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (alert_id) DO NOTHING
    RETURNING id;`

	listRecentAlertEventsSQL = `SELECT
        id, alert_id, asset, condition, threshold, price, triggered_at, created_at
    FROM alert_events
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PublishStore defines operations for the publish mirror.
type PublishStore interface {
	InsertPublish(ctx context.Context, row PublishedReading) error
	ListPublishesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PublishedReading, error)
	ListRecentPublishes(ctx context.Context, limit int) ([]PublishedReading, error)
	CountPublishes(ctx context.Context) (int64, error)
}

// AlertEventStore defines operations for trigger auditing.
type AlertEventStore interface {
	InsertAlertEvent(ctx context.Context, event AlertEvent) error
	ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEvent, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the publish mirror and trigger audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertPublish mirrors one ledger submission. Replays of the same tx hash
// are ignored.
func (s *Store) InsertPublish(ctx context.Context, row PublishedReading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPublishSQL,
		row.Symbol,
		row.Price.String(),
		row.Decimals,
		row.Source,
		row.TxHash,
		row.PublishedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert publish: %w", execErr)
	}
	return nil
}

// ListPublishesBetween lists one symbol's publishes within a time window.
func (s *Store) ListPublishesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PublishedReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPublishesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list publishes between: %w", queryErr)
	}
	defer rows.Close()

	return collectPublishes(rows)
}

// ListRecentPublishes lists the most recent publishes across all symbols.
func (s *Store) ListRecentPublishes(ctx context.Context, limit int) ([]PublishedReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPublishesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent publishes: %w", queryErr)
	}
	defer rows.Close()

	return collectPublishes(rows)
}

// CountPublishes counts mirrored publishes.
func (s *Store) CountPublishes(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPublishesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count publishes: %w", scanErr)
	}
	return count, nil
}

// InsertAlertEvent records a trigger emission; one row per alert id.
func (s *Store) InsertAlertEvent(ctx context.Context, event AlertEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertAlertEventSQL,
		event.AlertID,
		event.Asset,
		event.Condition,
		event.Threshold.String(),
		event.Price.String(),
		event.TriggeredAt,
	).Scan(&id)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		// Conflict: the trigger was already audited.
		return nil
	}
	if scanErr != nil {
		return fmt.Errorf("insert alert event: %w", scanErr)
	}
	return nil
}

// ListRecentAlertEvents lists the most recent trigger emissions.
func (s *Store) ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0, limit)
	for rows.Next() {
		var (
			event        AlertEvent
			thresholdStr string
			priceStr     string
		)
		if err := rows.Scan(
			&event.ID,
			&event.AlertID,
			&event.Asset,
			&event.Condition,
			&thresholdStr,
			&priceStr,
			&event.TriggeredAt,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		event.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}
		event.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}

		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func collectPublishes(rows pgx.Rows) ([]PublishedReading, error) {
	readings := make([]PublishedReading, 0)
	for rows.Next() {
		var (
			row      PublishedReading
			priceStr string
		)
		if err := rows.Scan(
			&row.ID,
			&row.Symbol,
			&priceStr,
			&row.Decimals,
			&row.Source,
			&row.TxHash,
			&row.PublishedAt,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}

		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		row.Price = price
		readings = append(readings, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}
