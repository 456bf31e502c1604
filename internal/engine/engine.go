// Package engine turns a price-history series into a bounded buy score, a
// recommendation tier and the reasoning behind it. Everything here is pure
// computation: no I/O, no logging and no state shared between calls.
package engine

import "fmt"

// Engine runs the recommendation pipeline with a fixed scoring configuration.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg.normalized()}, nil
}

// Default returns an Engine using DefaultConfig.
func Default() *Engine {
	return &Engine{cfg: DefaultConfig().normalized()}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Penalties = append([]PenaltyRule(nil), e.cfg.Penalties...)
	return cfg
}

// Analyze validates the series and runs statistics, trend and discount
// analysis, scoring and reasoning.
func (e *Engine) Analyze(series PriceSeries) (*RecommendationResult, error) {
	if len(series) < MinObservations {
		return nil, insufficientData(len(series))
	}
	if err := Validate(series); err != nil {
		return nil, err
	}

	stats, err := ComputeStatistics(series)
	if err != nil {
		return nil, err
	}
	trend := AnalyzeTrend(series)
	profile := ProfileDiscounts(series)

	score := e.Score(stats, trend, profile, len(series))
	reasoning := GenerateReasoning(stats, trend, profile, score)

	return &RecommendationResult{
		Score:      score.Score,
		Tier:       score.Tier,
		ActionText: ActionText(score.Tier),
		Reasoning:  reasoning,
		Statistics: stats.rounded(),
		Trend:      trend.rounded(),
		Discounts:  profile.rounded(),
		DataInfo: DataInfo{
			TotalRecords: len(series),
			PeriodStart:  series[0].Date.Format(DateLayout),
			PeriodEnd:    series[len(series)-1].Date.Format(DateLayout),
			Sparse:       len(series) < SparseObservations,
		},
	}, nil
}

// Validate rejects malformed observations instead of clamping them.
func Validate(series PriceSeries) error {
	for i, obs := range series {
		if obs.Date.IsZero() {
			return invalidObservation(i, "missing date")
		}
		if obs.Price.IsNegative() {
			return invalidObservation(i, "negative price %s", obs.Price.String())
		}
		if obs.DiscountPercent < 0 || obs.DiscountPercent > 100 {
			return invalidObservation(i, "discount %d outside 0-100", obs.DiscountPercent)
		}
	}
	return nil
}

func (e *Engine) String() string {
	w := e.cfg.Weights
	return fmt.Sprintf("engine(weights=%.2f/%.2f/%.2f penalties=%d)", w.PricePosition, w.Trend, w.DiscountContext, len(e.cfg.Penalties))
}
