package engine

import (
	"errors"
	"math"
	"testing"
)

func TestProbabilityBand(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{0.95, "high"},
		{0.60, "high"},
		{0.59, "medium"},
		{0.35, "medium"},
		{0.34, "low"},
		{0, "low"},
	}
	for _, tt := range tests {
		if got := ProbabilityBand(tt.p); got != tt.want {
			t.Errorf("ProbabilityBand(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestAttachForecast(t *testing.T) {
	result, err := Default().Analyze(dailySeries([]float64{30, 25, 20}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pred := Prediction{
		Probability: 0.7234,
		Confidence:  0.81,
		Reasoning:   []string{"Seasonal sale window approaching"},
		FeatureImportances: map[string]float64{
			"days_since_last_discount": 0.31,
			"month":                    0.22,
			"price_vs_mean":            0.18,
			"discount_frequency":       0.12,
			"publisher":                0.09,
			"platform":                 0.05,
		},
	}
	withForecast, err := AttachForecast(result, pred, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Forecast != nil {
		t.Fatal("AttachForecast must not modify its input")
	}

	f := withForecast.Forecast
	if f == nil {
		t.Fatal("expected a forecast")
	}
	if math.Abs(f.Probability-0.723) > 1e-9 || f.Band != "high" || !f.WillDiscount {
		t.Fatalf("unexpected forecast %+v", f)
	}
	if len(f.TopFeatures) != maxTopFeatures || f.TopFeatures[0].Name != "days_since_last_discount" {
		t.Fatalf("unexpected top features %+v", f.TopFeatures)
	}
	if withForecast.Score != result.Score || withForecast.Tier != result.Tier {
		t.Fatal("forecast must not change the score")
	}
}

func TestAttachForecastRejectsInvalidPrediction(t *testing.T) {
	result, err := Default().Analyze(dailySeries([]float64{30}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range []Prediction{
		{Probability: 1.2, Confidence: 0.5},
		{Probability: 0.5, Confidence: -0.1},
		{Probability: math.NaN(), Confidence: 0.5},
	} {
		if _, err := AttachForecast(result, p, 0.5); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for %+v, got %v", p, err)
		}
	}
	if _, err := AttachForecast(nil, Prediction{Probability: 0.5}, 0.5); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil result, got %v", err)
	}
}
