package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Probability bands for the classifier output.
const (
	highProbability   = 0.60
	mediumProbability = 0.35
	maxTopFeatures    = 5
)

// Prediction is the published output of an external discount classifier.
type Prediction struct {
	Probability        float64            `json:"probability"`
	Confidence         float64            `json:"confidence"`
	Reasoning          []string           `json:"reasoning,omitempty"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
}

// Predictor estimates the probability that an item will be discounted soon.
// The engine never calls it; callers fetch a prediction and attach it.
type Predictor interface {
	Predict(ctx context.Context, itemID string) (Prediction, error)
}

// FeatureWeight is one entry of a classifier's feature importances.
type FeatureWeight struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// Forecast is the classifier signal attached to a recommendation.
type Forecast struct {
	Probability  float64         `json:"probability"`
	Confidence   float64         `json:"confidence"`
	Band         string          `json:"band"`
	WillDiscount bool            `json:"will_discount"`
	Threshold    float64         `json:"threshold"`
	Reasoning    []string        `json:"reasoning,omitempty"`
	TopFeatures  []FeatureWeight `json:"top_features,omitempty"`
}

// ValidatePrediction rejects probabilities or confidences outside [0,1].
func ValidatePrediction(p Prediction) error {
	if math.IsNaN(p.Probability) || p.Probability < 0 || p.Probability > 1 {
		return fmt.Errorf("%w: probability %v outside [0,1]", ErrInvalidInput, p.Probability)
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidInput, p.Confidence)
	}
	return nil
}

// AttachForecast returns a copy of result carrying the classifier signal.
// result itself is left untouched.
func AttachForecast(result *RecommendationResult, p Prediction, threshold float64) (*RecommendationResult, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil result", ErrInvalidInput)
	}
	if err := ValidatePrediction(p); err != nil {
		return nil, err
	}

	out := *result
	out.Reasoning = append([]string(nil), result.Reasoning...)
	out.Forecast = &Forecast{
		Probability:  math.Round(p.Probability*1000) / 1000,
		Confidence:   math.Round(p.Confidence*1000) / 1000,
		Band:         ProbabilityBand(p.Probability),
		WillDiscount: p.Probability >= threshold,
		Threshold:    threshold,
		Reasoning:    append([]string(nil), p.Reasoning...),
		TopFeatures:  topFeatures(p.FeatureImportances, maxTopFeatures),
	}
	return &out, nil
}

// ProbabilityBand buckets a discount probability into high, medium or low.
func ProbabilityBand(p float64) string {
	switch {
	case p >= highProbability:
		return "high"
	case p >= mediumProbability:
		return "medium"
	default:
		return "low"
	}
}

func topFeatures(importances map[string]float64, limit int) []FeatureWeight {
	if len(importances) == 0 {
		return nil
	}
	out := make([]FeatureWeight, 0, len(importances))
	for name, v := range importances {
		out = append(out, FeatureWeight{Name: name, Importance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
