package engine

import (
	"fmt"
	"math"
	"sort"
)

const (
	// MinObservations is the smallest series the engine will analyse.
	MinObservations = 1
	// SparseObservations flags series below this length as sparse; they
	// receive the most aggressive data-sufficiency penalty.
	SparseObservations = 5
	// MaxBatchSize caps the number of identifiers in one batch.
	MaxBatchSize = 50
	// DefaultBatchConcurrency bounds parallel analyses within a batch.
	DefaultBatchConcurrency = 8
)

// Weights sets the contribution of each sub-score to the raw score. The
// three weights must sum to 1.
type Weights struct {
	PricePosition   float64 `mapstructure:"price_position"`
	Trend           float64 `mapstructure:"trend"`
	DiscountContext float64 `mapstructure:"discount_context"`
}

// PenaltyRule subtracts Penalty points from the score when fewer than Below
// records are available, without pushing the score under Floor.
type PenaltyRule struct {
	Below   int     `mapstructure:"below"`
	Penalty float64 `mapstructure:"penalty"`
	Floor   float64 `mapstructure:"floor"`
}

// Config is the tunable constant table of the scoring procedure.
type Config struct {
	Weights          Weights       `mapstructure:"weights"`
	Penalties        []PenaltyRule `mapstructure:"penalties"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
}

// DefaultWeights returns the documented weight set.
func DefaultWeights() Weights {
	return Weights{
		PricePosition:   0.45,
		Trend:           0.30,
		DiscountContext: 0.25,
	}
}

// DefaultPenalties returns the documented data-sufficiency rules, most
// severe first.
func DefaultPenalties() []PenaltyRule {
	return []PenaltyRule{
		{Below: SparseObservations, Penalty: 30, Floor: 20},
		{Below: 50, Penalty: 20, Floor: 30},
		{Below: 100, Penalty: 10, Floor: 40},
	}
}

// DefaultConfig returns the documented scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		Penalties:        DefaultPenalties(),
		BatchConcurrency: DefaultBatchConcurrency,
	}
}

// Validate checks that the weights form a convex combination and the
// penalty rules are well formed.
func (c Config) Validate() error {
	w := c.Weights
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"price_position", w.PricePosition},
		{"trend", w.Trend},
		{"discount_context", w.DiscountContext},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("engine weight %s must be within [0,1], got %v", f.name, f.value)
		}
	}
	if sum := w.PricePosition + w.Trend + w.DiscountContext; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("engine weights must sum to 1, got %v", sum)
	}
	for i, rule := range c.Penalties {
		if rule.Below <= 0 {
			return fmt.Errorf("engine penalty %d: below must be positive", i)
		}
		if rule.Penalty < 0 || rule.Penalty > 100 {
			return fmt.Errorf("engine penalty %d: penalty must be within [0,100]", i)
		}
		if rule.Floor < 0 || rule.Floor > 100 {
			return fmt.Errorf("engine penalty %d: floor must be within [0,100]", i)
		}
	}
	if c.BatchConcurrency < 0 {
		return fmt.Errorf("engine batch_concurrency cannot be negative")
	}
	return nil
}

func (c Config) normalized() Config {
	rules := append([]PenaltyRule(nil), c.Penalties...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Below < rules[j].Below })
	c.Penalties = rules
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	return c
}
