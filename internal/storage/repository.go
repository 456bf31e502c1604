package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"price-advisor/internal/engine"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no item matched the lookup.
	ErrNotFound = errors.New("storage: item not found")
	// ErrAmbiguous indicates a name fragment matched several items.
	ErrAmbiguous = errors.New("storage: ambiguous item name")
)

const (
	itemColumns = `id, external_id, name, created_at`

	itemByExternalIDSQL = `SELECT ` + itemColumns + ` FROM items WHERE external_id = $1;`
	itemByNameSQL       = `SELECT ` + itemColumns + ` FROM items WHERE lower(name) = lower($1);`
	itemByIDSQL         = `SELECT ` + itemColumns + ` FROM items WHERE id = $1;`

	searchItemsSQL = `SELECT ` + itemColumns + `
    FROM items
    WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
    ORDER BY name
    LIMIT $2;`

	listItemsSQL = `SELECT
        i.id,
        i.external_id,
        i.name,
        i.created_at,
        COUNT(*),
        MIN(o.price)::text,
        MAX(o.price)::text,
        MIN(o.observed_on),
        MAX(o.observed_on)
    FROM items i
    JOIN price_observations o ON o.item_id = i.id
    GROUP BY i.id, i.external_id, i.name, i.created_at
    ORDER BY i.name
    LIMIT $1;`

	upsertItemSQL = `INSERT INTO items (external_id, name)
    VALUES ($1, $2)
    ON CONFLICT (external_id) DO UPDATE
    SET name = EXCLUDED.name
    RETURNING ` + itemColumns + `;`

	upsertObservationSQL = `INSERT INTO price_observations (
        item_id,
        observed_on,
        price,
        discount_pct
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (item_id, observed_on) DO UPDATE
    SET price        = EXCLUDED.price,
        discount_pct = EXCLUDED.discount_pct;`

	listObservationsSQL = `SELECT observed_on, price::text, discount_pct
    FROM price_observations
    WHERE item_id = $1
    ORDER BY observed_on;`

	insertRecommendationSQL = `INSERT INTO recommendations (
        id,
        item_id,
        score,
        tier,
        current_price,
        reasoning,
        source,
        created_at
    ) VALUES (
        $1::uuid,$2,$3,$4,$5,$6,$7,$8
    );`

	recommendationColumns = `r.id::text, r.item_id, i.name, r.score, r.tier, r.current_price::text, r.reasoning, r.source, r.created_at`

	latestRecommendationSQL = `SELECT ` + recommendationColumns + `
    FROM recommendations r
    JOIN items i ON i.id = r.item_id
    WHERE r.item_id = $1 AND ($2::text = '' OR r.source = $2::text)
    ORDER BY r.created_at DESC
    LIMIT 1;`

	listRecentRecommendationsSQL = `SELECT ` + recommendationColumns + `
    FROM recommendations r
    JOIN items i ON i.id = r.item_id
    ORDER BY r.created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	// maxSearchCandidates bounds the substring lookup; more matches than
	// this are reported as ambiguous anyway.
	maxSearchCandidates = 10
)

// Catalog resolves user queries to stored items.
type Catalog interface {
	ResolveItem(ctx context.Context, query string) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, limit int) ([]ItemSummary, error)
}

// PriceHistoryStore defines operations for price observation persistence.
type PriceHistoryStore interface {
	UpsertItem(ctx context.Context, externalID, name string) (Item, error)
	UpsertObservations(ctx context.Context, itemID int64, observations engine.PriceSeries) error
	ListObservations(ctx context.Context, itemID int64) (engine.PriceSeries, error)
}

// RecommendationStore defines operations for recommendation auditing.
type RecommendationStore interface {
	InsertRecommendation(ctx context.Context, rec RecommendationRecord) (RecommendationRecord, error)
	LatestRecommendation(ctx context.Context, itemID int64, source Source) (RecommendationRecord, bool, error)
	ListRecentRecommendations(ctx context.Context, limit int) ([]RecommendationRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the application needs from a backend.
type Repository interface {
	Catalog
	PriceHistoryStore
	RecommendationStore
	AdvisoryLocker
	Close()
}

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies every *.sql file in dir in lexical order. Files must be
// idempotent.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		body, readErr := os.ReadFile(file)
		if readErr != nil {
			return fmt.Errorf("read migration %s: %w", file, readErr)
		}
		if _, execErr := pool.Exec(ctx, string(body)); execErr != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(file), execErr)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock also goes away with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ResolveItem matches query against external ids, then exact names, then a
// unique name fragment.
func (s *Store) ResolveItem(ctx context.Context, query string) (Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return Item{}, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return Item{}, ErrNotFound
	}

	for _, stmt := range []string{itemByExternalIDSQL, itemByNameSQL} {
		item, scanErr := scanItem(pool.QueryRow(ctx, stmt, query))
		if scanErr == nil {
			return item, nil
		}
		if !errors.Is(scanErr, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("resolve item: %w", scanErr)
		}
	}

	rows, err := pool.Query(ctx, searchItemsSQL, escapeLike(query), maxSearchCandidates)
	if err != nil {
		return Item{}, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	candidates := make([]Item, 0)
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return Item{}, scanErr
		}
		candidates = append(candidates, item)
	}
	if rows.Err() != nil {
		return Item{}, rows.Err()
	}
	return pickCandidate(query, candidates)
}

// GetItem loads an item by primary key.
func (s *Store) GetItem(ctx context.Context, id int64) (Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return Item{}, err
	}
	item, err := scanItem(pool.QueryRow(ctx, itemByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems lists items that have at least one observation, by name.
func (s *Store) ListItems(ctx context.Context, limit int) ([]ItemSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listItemsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]ItemSummary, 0)
	for rows.Next() {
		var (
			sum            ItemSummary
			minStr, maxStr string
		)
		if err := rows.Scan(
			&sum.ID,
			&sum.ExternalID,
			&sum.Name,
			&sum.CreatedAt,
			&sum.Records,
			&minStr,
			&maxStr,
			&sum.FirstDate,
			&sum.LastUpdate,
		); err != nil {
			return nil, err
		}
		if sum.MinPrice, err = decimal.NewFromString(minStr); err != nil {
			return nil, fmt.Errorf("parse min price: %w", err)
		}
		if sum.MaxPrice, err = decimal.NewFromString(maxStr); err != nil {
			return nil, fmt.Errorf("parse max price: %w", err)
		}
		items = append(items, sum)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// UpsertItem creates or renames an item keyed by its external id.
func (s *Store) UpsertItem(ctx context.Context, externalID, name string) (Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return Item{}, err
	}
	item, err := scanItem(pool.QueryRow(ctx, upsertItemSQL, externalID, name))
	if err != nil {
		return Item{}, fmt.Errorf("upsert item: %w", err)
	}
	return item, nil
}

// UpsertObservations stores observations in one transaction; an existing
// row for the same date is replaced.
func (s *Store) UpsertObservations(ctx context.Context, itemID int64, observations engine.PriceSeries) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, obs := range observations {
			batch.Queue(upsertObservationSQL, itemID, dateOnly(obs.Date), obs.Price.String(), obs.DiscountPercent)
		}
		results := tx.SendBatch(ctx, batch)
		for range observations {
			if _, execErr := results.Exec(); execErr != nil {
				results.Close()
				return fmt.Errorf("upsert observation: %w", execErr)
			}
		}
		return results.Close()
	})
}

// ListObservations returns the item's history ordered by date.
func (s *Store) ListObservations(ctx context.Context, itemID int64) (engine.PriceSeries, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsSQL, itemID)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations: %w", queryErr)
	}
	defer rows.Close()

	series := make(engine.PriceSeries, 0)
	for rows.Next() {
		var (
			obs      engine.PriceObservation
			priceStr string
		)
		if err := rows.Scan(&obs.Date, &priceStr, &obs.DiscountPercent); err != nil {
			return nil, err
		}
		if obs.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		series = append(series, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return series, nil
}

// InsertRecommendation persists an analysis outcome. A zero ID or CreatedAt
// is filled in.
func (s *Store) InsertRecommendation(ctx context.Context, rec RecommendationRecord) (RecommendationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RecommendationRecord{}, err
	}
	rec = withRecordDefaults(rec)

	reasoning, err := json.Marshal(rec.Reasoning)
	if err != nil {
		return RecommendationRecord{}, fmt.Errorf("encode reasoning: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertRecommendationSQL,
		rec.ID.String(),
		rec.ItemID,
		rec.Score,
		string(rec.Tier),
		rec.CurrentPrice.String(),
		reasoning,
		string(rec.Source),
		rec.CreatedAt,
	); execErr != nil {
		return RecommendationRecord{}, fmt.Errorf("insert recommendation: %w", execErr)
	}
	return rec, nil
}

// LatestRecommendation returns the newest audit row for an item written by
// source. SourceAny matches every row.
func (s *Store) LatestRecommendation(ctx context.Context, itemID int64, source Source) (RecommendationRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RecommendationRecord{}, false, err
	}
	rec, err := scanRecommendation(pool.QueryRow(ctx, latestRecommendationSQL, itemID, string(source)))
	if errors.Is(err, pgx.ErrNoRows) {
		return RecommendationRecord{}, false, nil
	}
	if err != nil {
		return RecommendationRecord{}, false, fmt.Errorf("latest recommendation: %w", err)
	}
	return rec, true, nil
}

// ListRecentRecommendations lists the newest audit rows across all items.
func (s *Store) ListRecentRecommendations(ctx context.Context, limit int) ([]RecommendationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecommendationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent recommendations: %w", queryErr)
	}
	defer rows.Close()

	records := make([]RecommendationRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanRecommendation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.ExternalID, &item.Name, &item.CreatedAt)
	return item, err
}

func scanRecommendation(row pgx.Row) (RecommendationRecord, error) {
	var (
		rec       RecommendationRecord
		idStr     string
		tier      string
		priceStr  string
		reasoning []byte
		source    string
	)
	if err := row.Scan(
		&idStr,
		&rec.ItemID,
		&rec.ItemName,
		&rec.Score,
		&tier,
		&priceStr,
		&reasoning,
		&source,
		&rec.CreatedAt,
	); err != nil {
		return RecommendationRecord{}, err
	}
	rec.Source = Source(source)
	return decodeRecommendation(rec, idStr, tier, priceStr, reasoning)
}
