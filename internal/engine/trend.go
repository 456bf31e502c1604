package engine

import "gonum.org/v1/gonum/stat"

// trendDeadbandPct is the change below which a trend is reported as stable.
const trendDeadbandPct = 5.0

// AnalyzeTrend compares the mean price of the earlier half of the series with
// the later half. For odd lengths the middle observation belongs to neither
// half, so both halves always have the same size.
func AnalyzeTrend(series PriceSeries) TrendResult {
	half := len(series) / 2
	if half == 0 {
		return TrendResult{Direction: DirectionStable, ChangePercent: 0, Score: trendScore(0)}
	}

	values := prices(series)
	earlier := stat.Mean(values[:half], nil)
	later := stat.Mean(values[len(values)-half:], nil)

	change := 0.0
	if earlier != 0 {
		change = (later - earlier) / earlier * 100
	}

	return TrendResult{
		Direction:     directionFor(change),
		ChangePercent: change,
		Score:         trendScore(change),
	}
}

func directionFor(change float64) Direction {
	switch {
	case change < -trendDeadbandPct:
		return DirectionFalling
	case change > trendDeadbandPct:
		return DirectionRising
	default:
		return DirectionStable
	}
}

// trendScore rewards falling prices: 50 for a flat series, decreasing one
// point per percent of change, bounded to [0,100].
func trendScore(change float64) float64 {
	return clamp(50-change, 0, 100)
}

func (t TrendResult) rounded() TrendResult {
	t.ChangePercent = round1(t.ChangePercent)
	t.Score = round1(t.Score)
	return t
}
