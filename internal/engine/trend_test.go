package engine

import (
	"math"
	"testing"
)

func TestAnalyzeTrend(t *testing.T) {
	tests := []struct {
		name       string
		prices     []float64
		direction  Direction
		change     float64
		trendScore float64
	}{
		{"single observation", []float64{59.99}, DirectionStable, 0, 50},
		{"falling", []float64{100, 100, 90, 90}, DirectionFalling, -10, 60},
		{"odd length skips middle", []float64{100, 500, 110}, DirectionRising, 10, 40},
		{"small move is stable", []float64{100, 103}, DirectionStable, 3, 47},
		{"zero earlier mean", []float64{0, 0, 10, 10}, DirectionStable, 0, 50},
		{"steep rise is bounded", []float64{10, 10, 100, 100}, DirectionRising, 900, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeTrend(dailySeries(tt.prices, nil))
			if got.Direction != tt.direction {
				t.Fatalf("direction = %s, want %s", got.Direction, tt.direction)
			}
			if math.Abs(got.ChangePercent-tt.change) > 1e-9 {
				t.Fatalf("change = %v, want %v", got.ChangePercent, tt.change)
			}
			if math.Abs(got.Score-tt.trendScore) > 1e-9 {
				t.Fatalf("score = %v, want %v", got.Score, tt.trendScore)
			}
		})
	}
}

func TestTrendScoreIsMonotonic(t *testing.T) {
	prev := trendScore(-200)
	for change := -199.0; change <= 200; change += 0.5 {
		cur := trendScore(change)
		if cur > prev {
			t.Fatalf("trend score increased from %v to %v at change %v", prev, cur, change)
		}
		if cur < 0 || cur > 100 {
			t.Fatalf("trend score %v out of bounds", cur)
		}
		prev = cur
	}
}
