package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used in serialized results.
const DateLayout = "2006-01-02"

// PriceObservation is one recorded price for an item on a given date.
type PriceObservation struct {
	Date            time.Time       `json:"date"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent int             `json:"discount_percent"`
}

// PriceSeries is the ordered price history of a single item.
//
// Callers must supply at least one observation with non-decreasing dates; the
// engine never re-sorts the series, it only validates prices and discounts.
type PriceSeries []PriceObservation

// Position buckets the percentile rank of the current price.
type Position string

const (
	PositionLow  Position = "low"
	PositionMid  Position = "mid"
	PositionHigh Position = "high"
)

// PriceStatistics summarises the price distribution of a series.
type PriceStatistics struct {
	Current        float64  `json:"current"`
	Min            float64  `json:"min"`
	Max            float64  `json:"max"`
	Mean           float64  `json:"average"`
	Median         float64  `json:"median"`
	VarianceRatio  float64  `json:"variance_ratio"`
	PercentileRank int      `json:"percentile"`
	Position       Position `json:"position"`
}

// Direction describes the price movement between the two halves of a series.
type Direction string

const (
	DirectionFalling Direction = "falling"
	DirectionStable  Direction = "stable"
	DirectionRising  Direction = "rising"
)

// TrendResult holds the estimated price movement.
type TrendResult struct {
	Direction     Direction `json:"direction"`
	ChangePercent float64   `json:"change_percentage"`
	Score         float64   `json:"score"`
}

// DiscountProfile characterises the historical discount events of a series.
type DiscountProfile struct {
	HasDiscounts     bool    `json:"has_discounts"`
	AverageDiscount  float64 `json:"average_discount"`
	MaxDiscount      int     `json:"max_discount"`
	FrequencyPercent float64 `json:"frequency"`
	DaysSinceLast    *int    `json:"days_since_last,omitempty"`
}

// DataInfo records the provenance of the analysed series.
type DataInfo struct {
	TotalRecords int    `json:"total_records"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	Sparse       bool   `json:"sparse"`
}

// Tier is the discrete recommendation bucket derived from a score.
type Tier string

const (
	TierStrongBuy  Tier = "strong-buy"
	TierBuy        Tier = "buy"
	TierNeutral    Tier = "neutral"
	TierWait       Tier = "wait"
	TierStrongWait Tier = "strong-wait"
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, bool) {
	switch t := Tier(s); t {
	case TierStrongBuy, TierBuy, TierNeutral, TierWait, TierStrongWait:
		return t, true
	}
	return "", false
}

// IsBuy reports whether the tier recommends purchasing now.
func (t Tier) IsBuy() bool {
	return t == TierStrongBuy || t == TierBuy
}

// RecommendationResult is the complete outcome of analysing one series.
type RecommendationResult struct {
	Score      int             `json:"score"`
	Tier       Tier            `json:"tier"`
	ActionText string          `json:"action"`
	Reasoning  []string        `json:"reasoning"`
	Statistics PriceStatistics `json:"price_stats"`
	Trend      TrendResult     `json:"trend"`
	Discounts  DiscountProfile `json:"discounts"`
	DataInfo   DataInfo        `json:"data_info"`
	Forecast   *Forecast       `json:"forecast,omitempty"`
}

// BatchEntry is the per-identifier outcome of a batch run. Exactly one of
// Result and Error is set.
type BatchEntry struct {
	Result *RecommendationResult `json:"analysis,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// OK reports whether the entry carries a result.
func (e BatchEntry) OK() bool {
	return e.Result != nil
}

// BatchResult maps item identifiers to their batch entries.
type BatchResult map[string]BatchEntry

// Failed returns the number of error entries.
func (b BatchResult) Failed() int {
	n := 0
	for _, entry := range b {
		if !entry.OK() {
			n++
		}
	}
	return n
}
