package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-advisor/internal/engine"
)

// Item is a tracked title.
type Item struct {
	ID         int64
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

// ItemSummary describes the stored history of an item, as shown in the
// available items listing.
type ItemSummary struct {
	Item
	Records    int
	MinPrice   decimal.Decimal
	MaxPrice   decimal.Decimal
	FirstDate  time.Time
	LastUpdate time.Time
}

// Source tags which path produced a recommendation row.
type Source string

const (
	// SourceAny matches every row in LatestRecommendation.
	SourceAny Source = ""
	// SourceRequest marks analyses requested over the API or CLI.
	SourceRequest Source = "request"
	// SourceSweep marks analyses made by the watch loop.
	SourceSweep Source = "sweep"
)

// RecommendationRecord is the audit row written for every analysis.
type RecommendationRecord struct {
	ID           uuid.UUID
	ItemID       int64
	ItemName     string
	Score        int
	Tier         engine.Tier
	CurrentPrice decimal.Decimal
	Reasoning    []string
	Source       Source
	CreatedAt    time.Time
}
