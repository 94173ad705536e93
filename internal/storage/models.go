package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PublishedReading mirrors one ledger submission for local querying. Price is
// the human-scale decimal; Decimals preserves the on-ledger fixed-point
// exponent.
type PublishedReading struct {
	ID          int64
	Symbol      string
	Price       decimal.Decimal
	Decimals    int32
	Source      string
	TxHash      string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// AlertEvent records a trigger emission for auditing.
type AlertEvent struct {
	ID          int64
	AlertID     string
	Asset       string
	Condition   string
	Threshold   decimal.Decimal
	Price       decimal.Decimal
	TriggeredAt time.Time
	CreatedAt   time.Time
}
