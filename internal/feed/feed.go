package feed

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the provider a reading was obtained from.
type Source string

const (
	SourceCoinGecko     Source = "coingecko"
	SourceCryptoCompare Source = "cryptocompare"
	SourceChainlink     Source = "chainlink"
	SourceAlternativeMe Source = "alternative.me"
)

// Condition is the comparison an alert applies against incoming prices.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// ParseCondition normalises user input into a Condition.
func ParseCondition(raw string) (Condition, error) {
	switch Condition(strings.ToUpper(strings.TrimSpace(raw))) {
	case ConditionAbove:
		return ConditionAbove, nil
	case ConditionBelow:
		return ConditionBelow, nil
	}
	return "", fmt.Errorf("unknown alert condition %q", raw)
}

// Status is the alert lifecycle state. An alert moves ACTIVE -> TRIGGERED
// exactly once and never back.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusTriggered Status = "TRIGGERED"
)

// PriceReading is a normalised price observation. The pair (Price, Decimals)
// is the only authoritative representation; Price is the value scaled by
// 10^Decimals and must never pass through a float.
type PriceReading struct {
	Symbol    string   `json:"symbol"`
	Price     *big.Int `json:"price"`
	Decimals  int32    `json:"decimals"`
	Source    Source   `json:"source"`
	Timestamp int64    `json:"timestamp"`
}

// Decimal renders the reading as an exact decimal, for logs and messages only.
func (r PriceReading) Decimal() decimal.Decimal {
	if r.Price == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.Price, -r.Decimals)
}

func (r PriceReading) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// MaxSampleSize caps sentiment vote sample sizes at the uint16 range.
const MaxSampleSize = 65535

// SentimentReading is a normalised vote-sentiment observation. Percentages
// and the net score are integers scaled by 100.
type SentimentReading struct {
	Symbol      string `json:"symbol"`
	Timestamp   int64  `json:"timestamp"`
	UpPercent   int64  `json:"upPercent"`
	DownPercent int64  `json:"downPercent"`
	NetScore    int64  `json:"netScore"`
	SampleSize  uint16 `json:"sampleSize"`
	Source      Source `json:"source"`
}

// ClampSampleSize bounds a raw sample count into the uint16 range.
func ClampSampleSize(n int64) uint16 {
	if n < 0 {
		return 0
	}
	if n > MaxSampleSize {
		return MaxSampleSize
	}
	return uint16(n)
}

// Zone buckets a fear/greed score.
type Zone string

const (
	ZoneExtremeFear  Zone = "extreme_fear"
	ZoneFear         Zone = "fear"
	ZoneNeutral      Zone = "neutral"
	ZoneGreed        Zone = "greed"
	ZoneExtremeGreed Zone = "extreme_greed"
)

// ZoneForScore derives the zone for a 0-100 index score.
func ZoneForScore(score int) Zone {
	switch {
	case score < 25:
		return ZoneExtremeFear
	case score < 45:
		return ZoneFear
	case score < 55:
		return ZoneNeutral
	case score < 75:
		return ZoneGreed
	default:
		return ZoneExtremeGreed
	}
}

// FearGreedReading is a normalised fear/greed index observation.
type FearGreedReading struct {
	Timestamp  int64  `json:"timestamp"`
	Score      int    `json:"score"`
	Zone       Zone   `json:"zone"`
	Source     Source `json:"source"`
	NextUpdate int64  `json:"nextUpdate"`
}

// AlertRecord is a user-defined threshold alert. The ledger is the system of
// record; copies held in process are a view over it.
type AlertRecord struct {
	AlertID           string    `json:"alertId"`
	UserAddress       string    `json:"userAddress"`
	Asset             string    `json:"asset"`
	Condition         Condition `json:"condition"`
	ThresholdPrice    *big.Int  `json:"thresholdPrice"`
	ThresholdDecimals int32     `json:"thresholdDecimals"`
	Status            Status    `json:"status"`
}

// Crossed reports whether price satisfies the alert's condition. ABOVE
// triggers at price >= threshold, BELOW at price <= threshold.
func (a AlertRecord) Crossed(price *big.Int, decimals int32) bool {
	cmp := Cmp(price, decimals, a.ThresholdPrice, a.ThresholdDecimals)
	switch a.Condition {
	case ConditionAbove:
		return cmp >= 0
	case ConditionBelow:
		return cmp <= 0
	}
	return false
}

// Cmp compares two fixed-point values in integer space after aligning their
// decimal exponents. Returns -1, 0, or 1.
func Cmp(a *big.Int, aDecimals int32, b *big.Int, bDecimals int32) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	if aDecimals == bDecimals {
		return a.Cmp(b)
	}
	aa, bb := new(big.Int).Set(a), new(big.Int).Set(b)
	if aDecimals < bDecimals {
		aa.Mul(aa, pow10(bDecimals-aDecimals))
	} else {
		bb.Mul(bb, pow10(aDecimals-bDecimals))
	}
	return aa.Cmp(bb)
}

// ScaleDecimal converts an exact decimal into the fixed-point integer space.
func ScaleDecimal(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Round(0).BigInt()
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
