package engine

import "math"

// Discount-context sub-score parameters.
const (
	discountFrequencyWeight = 0.35
	discountMagnitudeWeight = 0.35
	discountRecencyWeight   = 0.30

	// frequencyScale maps a 40% discounted share of records to a full score.
	frequencyScale = 2.5
	// magnitudeScale maps an 80% average discount to a full score.
	magnitudeScale = 1.25
	// recencyHorizonDays is the discount-free stretch that earns a full
	// recency score.
	recencyHorizonDays = 60
)

// tierThresholds is scanned top-down; the first MinScore not above the score wins.
var tierThresholds = []struct {
	MinScore int
	Tier     Tier
	Action   string
}{
	{80, TierStrongBuy, "Buy now: the price is among the best seen in its history."},
	{65, TierBuy, "Good moment to buy: the price compares well with its history."},
	{45, TierNeutral, "Fair price: buy if you want it now, otherwise keep watching."},
	{30, TierWait, "Consider waiting: a better price is likely to come along."},
}

var defaultTier = struct {
	Tier   Tier
	Action string
}{TierStrongWait, "Wait: the price is high compared with its history."}

// Adjustment describes the data-sufficiency penalty that matched a series.
type Adjustment struct {
	Records int     `json:"records"`
	Sparse  bool    `json:"sparse"`
	Penalty float64 `json:"penalty"`
	Floor   float64 `json:"floor"`
	Applied float64 `json:"applied"`
}

// ScoreResult is the output of the scoring procedure.
type ScoreResult struct {
	PricePosition   float64     `json:"price_position"`
	Trend           float64     `json:"trend"`
	DiscountContext float64     `json:"discount_context"`
	Raw             float64     `json:"raw"`
	Adjustment      *Adjustment `json:"adjustment,omitempty"`
	Score           int         `json:"score"`
	Tier            Tier        `json:"tier"`
}

// Score combines the three analyses and the record count into a bounded
// score and its tier.
func (e *Engine) Score(stats PriceStatistics, trend TrendResult, profile DiscountProfile, records int) ScoreResult {
	w := e.cfg.Weights
	res := ScoreResult{
		PricePosition:   pricePositionScore(stats),
		Trend:           clamp(trend.Score, 0, 100),
		DiscountContext: discountContextScore(profile),
	}

	res.Raw = clamp(
		w.PricePosition*res.PricePosition+
			w.Trend*res.Trend+
			w.DiscountContext*res.DiscountContext,
		0, 100)

	score := res.Raw
	if rule, ok := e.penaltyFor(records); ok {
		penalised := clamp(math.Max(score-rule.Penalty, math.Min(score, rule.Floor)), 0, 100)
		res.Adjustment = &Adjustment{
			Records: records,
			Sparse:  records < SparseObservations,
			Penalty: rule.Penalty,
			Floor:   rule.Floor,
			Applied: score - penalised,
		}
		score = penalised
	}

	res.Score = int(clamp(math.Round(score), 0, 100))
	res.Tier, _ = tierFor(res.Score)
	return res
}

func (e *Engine) penaltyFor(records int) (PenaltyRule, bool) {
	for _, rule := range e.cfg.Penalties {
		if records < rule.Below {
			return rule, true
		}
	}
	return PenaltyRule{}, false
}

// pricePositionScore blends the inverted percentile rank with how far the
// current price sits below the mean. Both terms never increase as the
// current price rises.
func pricePositionScore(stats PriceStatistics) float64 {
	rankScore := 100 - float64(stats.PercentileRank)
	ratioScore := 50.0
	if stats.Mean != 0 {
		ratioScore = clamp(50+100*(stats.Mean-stats.Current)/stats.Mean, 0, 100)
	}
	return clamp(0.5*rankScore+0.5*ratioScore, 0, 100)
}

// discountContextScore grows with discount frequency, discount depth and the
// length of the current discount-free stretch. A title that was never
// discounted gets the full recency share.
func discountContextScore(p DiscountProfile) float64 {
	recency := 100.0
	if p.HasDiscounts && p.DaysSinceLast != nil {
		recency = math.Min(100, float64(*p.DaysSinceLast)*100/recencyHorizonDays)
	}
	frequency := math.Min(100, p.FrequencyPercent*frequencyScale)
	magnitude := math.Min(100, p.AverageDiscount*magnitudeScale)

	return clamp(
		discountFrequencyWeight*frequency+
			discountMagnitudeWeight*magnitude+
			discountRecencyWeight*recency,
		0, 100)
}

// TierFor maps a final score to its tier.
func TierFor(score int) Tier {
	t, _ := tierFor(score)
	return t
}

func tierFor(score int) (Tier, string) {
	for _, t := range tierThresholds {
		if score >= t.MinScore {
			return t.Tier, t.Action
		}
	}
	return defaultTier.Tier, defaultTier.Action
}

// ActionText returns the recommended action for a tier.
func ActionText(tier Tier) string {
	for _, t := range tierThresholds {
		if t.Tier == tier {
			return t.Action
		}
	}
	return defaultTier.Action
}
