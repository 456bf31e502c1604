package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

var day0 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// dailySeries builds one observation per day starting at day0. discounts may
// be shorter than prices; missing entries are zero.
func dailySeries(prices []float64, discounts []int) PriceSeries {
	series := make(PriceSeries, len(prices))
	for i, p := range prices {
		obs := PriceObservation{
			Date:  day0.AddDate(0, 0, i),
			Price: decimal.NewFromFloat(p),
		}
		if i < len(discounts) {
			obs.DiscountPercent = discounts[i]
		}
		series[i] = obs
	}
	return series
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
