package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"price-advisor/internal/engine"
)

const (
	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	// fixed width so text ordering matches time ordering
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL UNIQUE,
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS price_observations (
		item_id      INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		observed_on  TEXT NOT NULL,
		price        TEXT NOT NULL,
		discount_pct INTEGER NOT NULL DEFAULT 0 CHECK (discount_pct BETWEEN 0 AND 100),
		PRIMARY KEY (item_id, observed_on)
	)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
		id            TEXT PRIMARY KEY,
		item_id       INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		score         INTEGER NOT NULL,
		tier          TEXT NOT NULL,
		current_price TEXT NOT NULL,
		reasoning     TEXT NOT NULL,
		source        TEXT NOT NULL DEFAULT 'request',
		created_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_item_created ON recommendations(item_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_created ON recommendations(created_at)`,
}

// sqliteUpgrades run after the schema; a duplicate column means the
// database is already current.
var sqliteUpgrades = []string{
	`ALTER TABLE recommendations ADD COLUMN source TEXT NOT NULL DEFAULT 'request'`,
}

const (
	sqliteItemColumns = `id, external_id, name, created_at`

	sqliteItemByExternalIDSQL = `SELECT ` + sqliteItemColumns + ` FROM items WHERE external_id = ?`
	sqliteItemByNameSQL       = `SELECT ` + sqliteItemColumns + ` FROM items WHERE lower(name) = lower(?)`
	sqliteItemByIDSQL         = `SELECT ` + sqliteItemColumns + ` FROM items WHERE id = ?`
	sqliteSearchItemsSQL      = `SELECT ` + sqliteItemColumns + `
		FROM items
		WHERE name LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY name
		LIMIT ?`

	sqliteListItemsSQL = `SELECT
		i.id, i.external_id, i.name, i.created_at,
		COUNT(*),
		MIN(CAST(o.price AS REAL)),
		MAX(CAST(o.price AS REAL)),
		MIN(o.observed_on),
		MAX(o.observed_on)
	FROM items i
	JOIN price_observations o ON o.item_id = i.id
	GROUP BY i.id
	ORDER BY i.name
	LIMIT ?`

	sqliteUpsertItemSQL = `INSERT INTO items (external_id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET name = excluded.name
		RETURNING ` + sqliteItemColumns

	sqliteUpsertObservationSQL = `INSERT INTO price_observations (item_id, observed_on, price, discount_pct)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (item_id, observed_on) DO UPDATE
		SET price = excluded.price, discount_pct = excluded.discount_pct`

	sqliteListObservationsSQL = `SELECT observed_on, price, discount_pct
		FROM price_observations
		WHERE item_id = ?
		ORDER BY observed_on`

	sqliteInsertRecommendationSQL = `INSERT INTO recommendations
		(id, item_id, score, tier, current_price, reasoning, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteRecommendationColumns = `r.id, r.item_id, i.name, r.score, r.tier, r.current_price, r.reasoning, r.source, r.created_at`

	sqliteLatestRecommendationSQL = `SELECT ` + sqliteRecommendationColumns + `
		FROM recommendations r
		JOIN items i ON i.id = r.item_id
		WHERE r.item_id = ? AND (? = '' OR r.source = ?)
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT 1`

	sqliteListRecentRecommendationsSQL = `SELECT ` + sqliteRecommendationColumns + `
		FROM recommendations r
		JOIN items i ON i.id = r.item_id
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ?`
)

// SQLiteStore is the embedded Repository backed by the pure Go SQLite driver.
type SQLiteStore struct {
	db *sql.DB
	// mu serialises writers; SQLite allows a single writer at a time.
	mu sync.Mutex

	lockMu sync.Mutex
	locks  map[int64]bool
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, locks: make(map[int64]bool)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", strings.TrimSpace(stmt)[:40], err)
		}
	}
	for _, stmt := range sqliteUpgrades {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("exec %q: %w", strings.TrimSpace(stmt)[:40], err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// TryAdvisoryLock provides the advisory lock contract within one process.
func (s *SQLiteStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.locks[key] {
		return nil, false, nil
	}
	s.locks[key] = true

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			s.lockMu.Lock()
			delete(s.locks, key)
			s.lockMu.Unlock()
		})
	}
	return unlock, true, nil
}

// ResolveItem matches query against external ids, then exact names, then a
// unique name fragment.
func (s *SQLiteStore) ResolveItem(ctx context.Context, query string) (Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Item{}, ErrNotFound
	}

	for _, stmt := range []string{sqliteItemByExternalIDSQL, sqliteItemByNameSQL} {
		item, err := scanSQLiteItem(s.db.QueryRowContext(ctx, stmt, query))
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Item{}, fmt.Errorf("resolve item: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqliteSearchItemsSQL, escapeLike(query), maxSearchCandidates)
	if err != nil {
		return Item{}, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	candidates := make([]Item, 0)
	for rows.Next() {
		item, scanErr := scanSQLiteItem(rows)
		if scanErr != nil {
			return Item{}, scanErr
		}
		candidates = append(candidates, item)
	}
	if err := rows.Err(); err != nil {
		return Item{}, err
	}
	return pickCandidate(query, candidates)
}

// GetItem loads an item by primary key.
func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanSQLiteItem(s.db.QueryRowContext(ctx, sqliteItemByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems lists items that have at least one observation, by name.
func (s *SQLiteStore) ListItems(ctx context.Context, limit int) ([]ItemSummary, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListItemsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]ItemSummary, 0)
	for rows.Next() {
		var (
			sum                  ItemSummary
			created, first, last string
			minPrice, maxPrice   float64
		)
		if err := rows.Scan(&sum.ID, &sum.ExternalID, &sum.Name, &created,
			&sum.Records, &minPrice, &maxPrice, &first, &last); err != nil {
			return nil, err
		}
		if sum.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if sum.FirstDate, err = time.Parse(engine.DateLayout, first); err != nil {
			return nil, fmt.Errorf("parse first date: %w", err)
		}
		if sum.LastUpdate, err = time.Parse(engine.DateLayout, last); err != nil {
			return nil, fmt.Errorf("parse last date: %w", err)
		}
		sum.MinPrice = decimal.NewFromFloat(minPrice)
		sum.MaxPrice = decimal.NewFromFloat(maxPrice)
		items = append(items, sum)
	}
	return items, rows.Err()
}

// UpsertItem creates or renames an item keyed by its external id.
func (s *SQLiteStore) UpsertItem(ctx context.Context, externalID, name string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(sqliteTimeLayout)
	item, err := scanSQLiteItem(s.db.QueryRowContext(ctx, sqliteUpsertItemSQL, externalID, name, now))
	if err != nil {
		return Item{}, fmt.Errorf("upsert item: %w", err)
	}
	return item, nil
}

// UpsertObservations stores observations in one transaction; an existing
// row for the same date is replaced.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, itemID int64, observations engine.PriceSeries) error {
	if len(observations) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertObservationSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert observation: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx, itemID, obs.Date.Format(engine.DateLayout),
			obs.Price.String(), obs.DiscountPercent); err != nil {
			return fmt.Errorf("upsert observation: %w", err)
		}
	}
	return tx.Commit()
}

// ListObservations returns the item's history ordered by date.
func (s *SQLiteStore) ListObservations(ctx context.Context, itemID int64) (engine.PriceSeries, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListObservationsSQL, itemID)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	series := make(engine.PriceSeries, 0)
	for rows.Next() {
		var (
			obs             engine.PriceObservation
			date, priceText string
		)
		if err := rows.Scan(&date, &priceText, &obs.DiscountPercent); err != nil {
			return nil, err
		}
		if obs.Date, err = time.Parse(engine.DateLayout, date); err != nil {
			return nil, fmt.Errorf("parse observed_on: %w", err)
		}
		if obs.Price, err = decimal.NewFromString(priceText); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		series = append(series, obs)
	}
	return series, rows.Err()
}

// InsertRecommendation persists an analysis outcome. A zero ID or CreatedAt
// is filled in.
func (s *SQLiteStore) InsertRecommendation(ctx context.Context, rec RecommendationRecord) (RecommendationRecord, error) {
	rec = withRecordDefaults(rec)
	reasoning, err := json.Marshal(rec.Reasoning)
	if err != nil {
		return RecommendationRecord{}, fmt.Errorf("encode reasoning: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, sqliteInsertRecommendationSQL,
		rec.ID.String(),
		rec.ItemID,
		rec.Score,
		string(rec.Tier),
		rec.CurrentPrice.String(),
		string(reasoning),
		string(rec.Source),
		rec.CreatedAt.UTC().Format(sqliteTimeLayout),
	); err != nil {
		return RecommendationRecord{}, fmt.Errorf("insert recommendation: %w", err)
	}
	return rec, nil
}

// LatestRecommendation returns the newest audit row for an item written by
// source. SourceAny matches every row.
func (s *SQLiteStore) LatestRecommendation(ctx context.Context, itemID int64, source Source) (RecommendationRecord, bool, error) {
	rec, err := scanSQLiteRecommendation(s.db.QueryRowContext(ctx, sqliteLatestRecommendationSQL,
		itemID, string(source), string(source)))
	if errors.Is(err, sql.ErrNoRows) {
		return RecommendationRecord{}, false, nil
	}
	if err != nil {
		return RecommendationRecord{}, false, fmt.Errorf("latest recommendation: %w", err)
	}
	return rec, true, nil
}

// ListRecentRecommendations lists the newest audit rows across all items.
func (s *SQLiteStore) ListRecentRecommendations(ctx context.Context, limit int) ([]RecommendationRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListRecentRecommendationsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent recommendations: %w", err)
	}
	defer rows.Close()

	records := make([]RecommendationRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSQLiteRecommendation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteItem(row rowScanner) (Item, error) {
	var (
		item    Item
		created string
	)
	if err := row.Scan(&item.ID, &item.ExternalID, &item.Name, &created); err != nil {
		return Item{}, err
	}
	createdAt, err := time.Parse(sqliteTimeLayout, created)
	if err != nil {
		return Item{}, fmt.Errorf("parse created_at: %w", err)
	}
	item.CreatedAt = createdAt
	return item, nil
}

func scanSQLiteRecommendation(row rowScanner) (RecommendationRecord, error) {
	var (
		rec                             RecommendationRecord
		idStr, tier, priceText, created string
		reasoning, source               string
	)
	if err := row.Scan(&idStr, &rec.ItemID, &rec.ItemName, &rec.Score, &tier,
		&priceText, &reasoning, &source, &created); err != nil {
		return RecommendationRecord{}, err
	}
	createdAt, err := time.Parse(sqliteTimeLayout, created)
	if err != nil {
		return RecommendationRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = createdAt
	rec.Source = Source(source)
	return decodeRecommendation(rec, idStr, tier, priceText, []byte(reasoning))
}
