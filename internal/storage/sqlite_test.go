package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-advisor/internal/engine"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func observation(date string, price string, discount int) engine.PriceObservation {
	d, err := time.Parse(engine.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return engine.PriceObservation{Date: d, Price: decimal.RequireFromString(price), DiscountPercent: discount}
}

func TestSQLiteObservationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	item, err := store.UpsertItem(ctx, "1091500", "Cyberpunk 2077")
	require.NoError(t, err)
	assert.NotZero(t, item.ID)

	// inserted out of order; read back by date
	err = store.UpsertObservations(ctx, item.ID, engine.PriceSeries{
		observation("2024-03-02", "29.99", 50),
		observation("2024-03-01", "59.99", 0),
	})
	require.NoError(t, err)

	// same date replaces the earlier row
	err = store.UpsertObservations(ctx, item.ID, engine.PriceSeries{observation("2024-03-02", "24.99", 58)})
	require.NoError(t, err)

	series, err := store.ListObservations(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "2024-03-01", series[0].Date.Format(engine.DateLayout))
	assert.True(t, series[1].Price.Equal(decimal.RequireFromString("24.99")))
	assert.Equal(t, 58, series[1].DiscountPercent)
}

func TestSQLiteUpsertItemRenames(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	first, err := store.UpsertItem(ctx, "367520", "Hollow Knight")
	require.NoError(t, err)
	second, err := store.UpsertItem(ctx, "367520", "Hollow Knight: Voidheart Edition")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Hollow Knight: Voidheart Edition", second.Name)
}

func TestSQLiteResolveItem(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	for _, it := range []struct{ id, name string }{
		{"1145360", "Hades"},
		{"1145350", "Hades II"},
		{"504230", "Celeste"},
		{"620", "Portal 2"},
		{"400", "Portal"},
	} {
		_, err := store.UpsertItem(ctx, it.id, it.name)
		require.NoError(t, err)
	}

	tests := []struct {
		query string
		want  string
		err   error
	}{
		{"504230", "Celeste", nil},
		{"hades", "Hades", nil},
		{"  celeste ", "Celeste", nil},
		{"lest", "Celeste", nil},
		{"ades", "", ErrAmbiguous},
		{"portal 2", "Portal 2", nil},
		{"ort", "", ErrAmbiguous},
		{"stardew", "", ErrNotFound},
		{"50%", "", ErrNotFound},
		{"", "", ErrNotFound},
	}
	for _, tt := range tests {
		item, err := store.ResolveItem(ctx, tt.query)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "query %q", tt.query)
			continue
		}
		if assert.NoError(t, err, "query %q", tt.query) {
			assert.Equal(t, tt.want, item.Name, "query %q", tt.query)
		}
	}
}

func TestSQLiteListItems(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	celeste, err := store.UpsertItem(ctx, "504230", "Celeste")
	require.NoError(t, err)
	_, err = store.UpsertItem(ctx, "000", "No History")
	require.NoError(t, err)
	require.NoError(t, store.UpsertObservations(ctx, celeste.ID, engine.PriceSeries{
		observation("2024-01-01", "19.99", 0),
		observation("2024-02-01", "4.99", 75),
		observation("2024-03-01", "19.99", 0),
	}))

	items, err := store.ListItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1, "items without observations are not listed")

	got := items[0]
	assert.Equal(t, "Celeste", got.Name)
	assert.Equal(t, 3, got.Records)
	assert.True(t, got.MinPrice.Equal(decimal.RequireFromString("4.99")), "min %s", got.MinPrice)
	assert.True(t, got.MaxPrice.Equal(decimal.RequireFromString("19.99")), "max %s", got.MaxPrice)
	assert.Equal(t, "2024-03-01", got.LastUpdate.Format(engine.DateLayout))
}

func TestSQLiteRecommendations(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	item, err := store.UpsertItem(ctx, "504230", "Celeste")
	require.NoError(t, err)

	_, found, err := store.LatestRecommendation(ctx, item.ID, SourceAny)
	require.NoError(t, err)
	assert.False(t, found)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older, err := store.InsertRecommendation(ctx, RecommendationRecord{
		ItemID:       item.ID,
		Score:        40,
		Tier:         engine.TierWait,
		CurrentPrice: decimal.RequireFromString("19.99"),
		Reasoning:    []string{"Current price 19.99 matches the historical average."},
		CreatedAt:    base,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", older.ID.String())

	newer, err := store.InsertRecommendation(ctx, RecommendationRecord{
		ItemID:       item.ID,
		Score:        82,
		Tier:         engine.TierStrongBuy,
		CurrentPrice: decimal.RequireFromString("4.99"),
		Source:       SourceSweep,
		CreatedAt:    base.Add(time.Second),
	})
	require.NoError(t, err)

	latest, found, err := store.LatestRecommendation(ctx, item.ID, SourceAny)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, SourceSweep, latest.Source)

	requested, found, err := store.LatestRecommendation(ctx, item.ID, SourceRequest)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, older.ID, requested.ID)
	assert.Equal(t, SourceRequest, requested.Source)
	assert.Equal(t, engine.TierStrongBuy, latest.Tier)
	assert.Equal(t, "Celeste", latest.ItemName)
	assert.Empty(t, latest.Reasoning)

	recent, err := store.ListRecentRecommendations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, newer.ID, recent[0].ID)
	assert.Equal(t, older.Reasoning, recent[1].Reasoning)
	assert.True(t, recent[1].CreatedAt.Equal(base))
}

func TestSQLiteAdvisoryLock(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	unlock()
	unlock()

	again, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestSQLiteUpgradesRecommendationSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = legacy.ExecContext(ctx, `CREATE TABLE recommendations (
		id            TEXT PRIMARY KEY,
		item_id       INTEGER NOT NULL,
		score         INTEGER NOT NULL,
		tier          TEXT NOT NULL,
		current_price TEXT NOT NULL,
		reasoning     TEXT NOT NULL,
		created_at    TEXT NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	item, err := store.UpsertItem(ctx, "367520", "Hollow Knight")
	require.NoError(t, err)
	_, err = store.InsertRecommendation(ctx, RecommendationRecord{
		ItemID:       item.ID,
		Score:        70,
		Tier:         engine.TierBuy,
		CurrentPrice: decimal.RequireFromString("7.49"),
		Source:       SourceSweep,
	})
	require.NoError(t, err)
	store.Close()

	// reopening an up to date database is a no-op
	store, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	latest, found, err := store.LatestRecommendation(ctx, item.ID, SourceSweep)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, engine.TierBuy, latest.Tier)
}
