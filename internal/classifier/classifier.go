package classifier

import (
	"context"

	"price-advisor/internal/engine"
)

// BatchPredictor fetches predictions for several items in one round trip.
// Items the classifier could not score are absent from the result.
type BatchPredictor interface {
	engine.Predictor
	PredictBatch(ctx context.Context, itemIDs []string) (map[string]engine.Prediction, error)
}
