package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-advisor/internal/engine"
)

// pickCandidate settles a fragment lookup: a single candidate wins, several
// candidates are ambiguous unless exactly one name starts with the query.
func pickCandidate(query string, candidates []Item) (Item, error) {
	switch len(candidates) {
	case 0:
		return Item{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	case 1:
		return candidates[0], nil
	}

	lower := strings.ToLower(query)
	var prefixed []Item
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c.Name), lower) {
			prefixed = append(prefixed, c)
		}
	}
	if len(prefixed) == 1 {
		return prefixed[0], nil
	}

	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	return Item{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, query, strings.Join(names, ", "))
}

// escapeLike escapes LIKE wildcards so user input only matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func withRecordDefaults(rec RecommendationRecord) RecommendationRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Reasoning == nil {
		rec.Reasoning = []string{}
	}
	if rec.Source == SourceAny {
		rec.Source = SourceRequest
	}
	return rec
}

func decodeRecommendation(rec RecommendationRecord, idStr, tier, priceStr string, reasoning []byte) (RecommendationRecord, error) {
	var err error
	if rec.ID, err = uuid.Parse(idStr); err != nil {
		return RecommendationRecord{}, fmt.Errorf("parse recommendation id: %w", err)
	}
	parsed, ok := engine.ParseTier(tier)
	if !ok {
		return RecommendationRecord{}, fmt.Errorf("unknown tier %q", tier)
	}
	rec.Tier = parsed
	if rec.CurrentPrice, err = decimal.NewFromString(priceStr); err != nil {
		return RecommendationRecord{}, fmt.Errorf("parse current price: %w", err)
	}
	if len(reasoning) > 0 {
		if err := json.Unmarshal(reasoning, &rec.Reasoning); err != nil {
			return RecommendationRecord{}, fmt.Errorf("decode reasoning: %w", err)
		}
	}
	return rec, nil
}
