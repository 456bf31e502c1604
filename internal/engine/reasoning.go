package engine

import (
	"fmt"
	"math"
)

// GenerateReasoning projects the intermediate figures into short sentences,
// ordered price position, trend, discounts and, when a penalty rule matched,
// a data caveat.
func GenerateReasoning(stats PriceStatistics, trend TrendResult, profile DiscountProfile, score ScoreResult) []string {
	reasons := []string{
		priceReason(stats),
		trendReason(trend),
		discountReason(profile),
	}
	if caveat := dataCaveat(score.Adjustment); caveat != "" {
		reasons = append(reasons, caveat)
	}
	return reasons
}

func priceReason(s PriceStatistics) string {
	where := fmt.Sprintf("%s range, percentile %d", s.Position, s.PercentileRank)
	if s.Mean == 0 {
		return fmt.Sprintf("Current price %.2f with a historical average of %.2f (%s).", s.Current, s.Mean, where)
	}
	diff := (s.Current - s.Mean) / s.Mean * 100
	switch {
	case round1(diff) < 0:
		return fmt.Sprintf("Current price %.2f is %.1f%% below the historical average of %.2f (%s).", s.Current, -diff, s.Mean, where)
	case round1(diff) > 0:
		return fmt.Sprintf("Current price %.2f is %.1f%% above the historical average of %.2f (%s).", s.Current, diff, s.Mean, where)
	default:
		return fmt.Sprintf("Current price %.2f matches the historical average (%s).", s.Current, where)
	}
}

func trendReason(t TrendResult) string {
	change := math.Abs(t.ChangePercent)
	switch t.Direction {
	case DirectionFalling:
		return fmt.Sprintf("Prices are falling: recent prices average %.1f%% less than earlier ones.", change)
	case DirectionRising:
		return fmt.Sprintf("Prices are rising: recent prices average %.1f%% more than earlier ones.", change)
	default:
		return fmt.Sprintf("Prices are stable: recent prices differ by %.1f%% from earlier ones.", change)
	}
}

func discountReason(p DiscountProfile) string {
	if !p.HasDiscounts {
		return "No discounts recorded in the price history."
	}
	base := fmt.Sprintf("Discounted in %.1f%% of records, averaging %.1f%% off (max %d%%)",
		p.FrequencyPercent, p.AverageDiscount, p.MaxDiscount)
	if p.DaysSinceLast == nil {
		return base + "."
	}
	if *p.DaysSinceLast == 0 {
		return base + "; the most recent record is discounted."
	}
	return fmt.Sprintf("%s; last discount %d days before the most recent record.", base, *p.DaysSinceLast)
}

func dataCaveat(adj *Adjustment) string {
	if adj == nil {
		return ""
	}
	label := "Limited history"
	if adj.Sparse {
		label = "Very limited history"
	}
	if adj.Applied <= 0 {
		return fmt.Sprintf("%s: only %d price records; the score is already at or below %.0f, so it was not reduced.",
			label, adj.Records, adj.Floor)
	}
	return fmt.Sprintf("%s: only %d price records, so the score was reduced by %.0f points.",
		label, adj.Records, adj.Applied)
}
