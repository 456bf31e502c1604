package engine

import (
	"math"
	"strings"
	"testing"
)

func bestCaseInputs() (PriceStatistics, TrendResult, DiscountProfile) {
	days := 60
	return PriceStatistics{Current: 50, Mean: 100, PercentileRank: 0},
		TrendResult{Direction: DirectionFalling, ChangePercent: -50, Score: 100},
		DiscountProfile{HasDiscounts: true, AverageDiscount: 80, MaxDiscount: 90, FrequencyPercent: 40, DaysSinceLast: &days}
}

// flatInputs describes a never-discounted title whose price never moved.
func flatInputs() (PriceStatistics, TrendResult, DiscountProfile) {
	return PriceStatistics{Current: 59.99, Mean: 59.99, PercentileRank: 100},
		TrendResult{Direction: DirectionStable, Score: 50},
		DiscountProfile{}
}

func TestScorePenaltyLadder(t *testing.T) {
	e := Default()
	stats, trend, profile := bestCaseInputs()

	tests := []struct {
		records int
		score   int
		applied float64
		sparse  bool
	}{
		{200, 100, 0, false},
		{100, 100, 0, false},
		{60, 90, 10, false},
		{10, 80, 20, false},
		{3, 70, 30, true},
	}
	for _, tt := range tests {
		res := e.Score(stats, trend, profile, tt.records)
		if res.Score != tt.score {
			t.Errorf("records=%d: score = %d, want %d", tt.records, res.Score, tt.score)
		}
		if tt.applied == 0 {
			if res.Adjustment != nil {
				t.Errorf("records=%d: unexpected adjustment %+v", tt.records, res.Adjustment)
			}
			continue
		}
		if res.Adjustment == nil {
			t.Fatalf("records=%d: expected an adjustment", tt.records)
		}
		if math.Abs(res.Adjustment.Applied-tt.applied) > 1e-6 {
			t.Errorf("records=%d: applied = %v, want %v", tt.records, res.Adjustment.Applied, tt.applied)
		}
		if res.Adjustment.Sparse != tt.sparse {
			t.Errorf("records=%d: sparse = %v, want %v", tt.records, res.Adjustment.Sparse, tt.sparse)
		}
	}
}

func TestScorePenaltyStopsAtFloor(t *testing.T) {
	e := Default()
	stats, trend, profile := flatInputs()

	full := e.Score(stats, trend, profile, 500)
	if math.Abs(full.Raw-33.75) > 1e-6 {
		t.Fatalf("raw = %v, want 33.75", full.Raw)
	}
	if full.Score != 34 || full.Tier != TierWait {
		t.Fatalf("expected 34/wait without penalty, got %d/%s", full.Score, full.Tier)
	}

	limited := e.Score(stats, trend, profile, 10)
	if limited.Score != 30 || limited.Tier != TierWait {
		t.Fatalf("expected floor of 30/wait, got %d/%s", limited.Score, limited.Tier)
	}

	sparse := e.Score(stats, trend, profile, 3)
	if sparse.Score != 20 || sparse.Tier != TierStrongWait {
		t.Fatalf("expected floor of 20/strong-wait, got %d/%s", sparse.Score, sparse.Tier)
	}
}

func TestScorePenaltyNeverRaises(t *testing.T) {
	e := Default()
	stats, trend, profile := flatInputs()
	stats.Current = 150
	stats.Mean = 100

	res := e.Score(stats, trend, profile, 10)
	if res.Raw >= 30 {
		t.Fatalf("test needs a raw score below the floor, got %v", res.Raw)
	}
	if res.Adjustment == nil || res.Adjustment.Applied != 0 {
		t.Fatalf("expected a zero adjustment, got %+v", res.Adjustment)
	}
	if res.Score != int(math.Round(res.Raw)) {
		t.Fatalf("score %d should equal rounded raw %v", res.Score, res.Raw)
	}
}

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Tier
	}{
		{100, TierStrongBuy},
		{80, TierStrongBuy},
		{79, TierBuy},
		{65, TierBuy},
		{64, TierNeutral},
		{45, TierNeutral},
		{44, TierWait},
		{30, TierWait},
		{29, TierStrongWait},
		{0, TierStrongWait},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
		if ActionText(tt.want) == "" {
			t.Errorf("missing action text for %s", tt.want)
		}
	}
}

func TestDiscountContextRewardsLongGaps(t *testing.T) {
	score := func(days int) float64 {
		return discountContextScore(DiscountProfile{
			HasDiscounts: true, AverageDiscount: 40, MaxDiscount: 50, FrequencyPercent: 10, DaysSinceLast: &days,
		})
	}
	if !(score(0) < score(30) && score(30) < score(60)) {
		t.Fatalf("expected discount context to grow with days since last discount: %v %v %v",
			score(0), score(30), score(60))
	}
	if score(60) != score(365) {
		t.Fatalf("recency should saturate at the horizon: %v vs %v", score(60), score(365))
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights do not sum to one", func(c *Config) { c.Weights.Trend = 0.5 }},
		{"negative weight", func(c *Config) {
			c.Weights = Weights{PricePosition: 1.2, Trend: -0.2, DiscountContext: 0}
		}},
		{"non-positive below", func(c *Config) { c.Penalties[0].Below = 0 }},
		{"penalty out of range", func(c *Config) { c.Penalties[1].Penalty = 120 }},
		{"negative concurrency", func(c *Config) { c.BatchConcurrency = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
			if _, err := New(cfg); err == nil {
				t.Fatal("New should reject an invalid config")
			}
		})
	}
}

func TestConfigValidateReportsFirstBadWeight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{PricePosition: 1.2, Trend: -0.2, DiscountContext: 1.5}
	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "price_position") {
			t.Fatalf("expected price_position to be reported first, got %v", err)
		}
	}
}

func TestNewSortsPenaltyRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Penalties = []PenaltyRule{
		{Below: 100, Penalty: 10, Floor: 40},
		{Below: 5, Penalty: 30, Floor: 20},
	}
	cfg.BatchConcurrency = 0

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := e.Config()
	if got.Penalties[0].Below != 5 {
		t.Fatalf("expected the strictest rule first, got %+v", got.Penalties)
	}
	if got.BatchConcurrency != DefaultBatchConcurrency {
		t.Fatalf("expected default concurrency, got %d", got.BatchConcurrency)
	}

	stats, trend, profile := bestCaseInputs()
	if res := e.Score(stats, trend, profile, 3); res.Adjustment == nil || res.Adjustment.Penalty != 30 {
		t.Fatalf("expected the sparse rule to match first, got %+v", res.Adjustment)
	}
}
