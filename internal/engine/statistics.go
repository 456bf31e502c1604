package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	lowPositionBelow = 33
	midPositionBelow = 66
)

// ComputeStatistics reduces a series to central tendency, dispersion and the
// percentile rank of the most recent price.
func ComputeStatistics(series PriceSeries) (PriceStatistics, error) {
	if len(series) == 0 {
		return PriceStatistics{}, insufficientData(0)
	}

	values := prices(series)
	current := values[len(values)-1]

	lo, hi := values[0], values[0]
	atOrBelow := 0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		if v <= current {
			atOrBelow++
		}
	}

	mean := stat.Mean(values, nil)
	varianceRatio := 0.0
	if mean != 0 {
		varianceRatio = (hi - lo) / mean
	}

	rank := int(math.Round(float64(atOrBelow) * 100 / float64(len(values))))

	return PriceStatistics{
		Current:        current,
		Min:            lo,
		Max:            hi,
		Mean:           mean,
		Median:         median(values),
		VarianceRatio:  varianceRatio,
		PercentileRank: rank,
		Position:       positionFor(rank),
	}, nil
}

func positionFor(rank int) Position {
	switch {
	case rank < lowPositionBelow:
		return PositionLow
	case rank < midPositionBelow:
		return PositionMid
	default:
		return PositionHigh
	}
}

// median averages the two middle values for even counts. values is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func prices(series PriceSeries) []float64 {
	out := make([]float64, len(series))
	for i, obs := range series {
		out[i] = obs.Price.InexactFloat64()
	}
	return out
}

func (s PriceStatistics) rounded() PriceStatistics {
	s.Current = round2(s.Current)
	s.Min = round2(s.Min)
	s.Max = round2(s.Max)
	s.Mean = round2(s.Mean)
	s.Median = round2(s.Median)
	s.VarianceRatio = round2(s.VarianceRatio)
	return s
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
