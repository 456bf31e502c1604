package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"price-advisor/internal/alerting"
	"price-advisor/internal/classifier"
	"price-advisor/internal/engine"
	"price-advisor/internal/storage"
)

// loadConcurrency bounds parallel series loads within one batch.
const loadConcurrency = 8

// Report is the outcome of a single item analysis.
type Report struct {
	Item   storage.Item
	Result *engine.RecommendationResult
}

// Options tune the advisor.
type Options struct {
	// ForecastThreshold is the classifier probability at which a discount
	// is considered likely.
	ForecastThreshold float64
	WatchItems        []string
	NotifyTiers       []engine.Tier
	Channels          []string
	AlertsOn          bool
	Cooldown          time.Duration
	LockKey           int64
	// SweepLimit caps the catalog scan when no watch list is configured.
	SweepLimit int
}

// Advisor orchestrates storage, the engine, the classifier and alerting.
type Advisor struct {
	engine    *engine.Engine
	repo      storage.Repository
	predictor engine.Predictor
	notifier  alerting.Notifier
	metrics   *Metrics
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time

	mu           sync.Mutex
	lastNotified map[int64]time.Time
}

// New constructs the advisor. predictor, notifier and metrics may be nil.
func New(eng *engine.Engine, repo storage.Repository, predictor engine.Predictor, notifier alerting.Notifier, metrics *Metrics, opts Options, logger zerolog.Logger) *Advisor {
	if eng == nil {
		eng = engine.Default()
	}
	if opts.SweepLimit <= 0 {
		opts.SweepLimit = 500
	}
	return &Advisor{
		engine:       eng,
		repo:         repo,
		predictor:    predictor,
		notifier:     notifier,
		metrics:      metrics,
		logger:       logger.With().Str("component", "service").Logger(),
		opts:         opts,
		now:          func() time.Time { return time.Now().UTC() },
		lastNotified: make(map[int64]time.Time),
	}
}

// Analyze resolves query to an item, scores its stored history and records
// the outcome.
func (a *Advisor) Analyze(ctx context.Context, query string) (*Report, error) {
	return a.analyzeAs(ctx, query, storage.SourceRequest)
}

func (a *Advisor) analyzeAs(ctx context.Context, query string, source storage.Source) (*Report, error) {
	start := time.Now()
	report, err := a.analyze(ctx, query, source)
	a.metrics.observe(report, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (a *Advisor) analyze(ctx context.Context, query string, source storage.Source) (*Report, error) {
	if a.repo == nil {
		return nil, storage.ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty item query", engine.ErrInvalidInput)
	}

	item, err := a.repo.ResolveItem(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}

	series, err := a.repo.ListObservations(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", item.Name, err)
	}

	result, err := a.engine.Analyze(series)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", item.Name, err)
	}

	result = a.attachForecast(ctx, item, result)
	a.record(ctx, item, result, source)

	a.logger.Info().Str("item", item.Name).
		Int("score", result.Score).
		Str("tier", string(result.Tier)).
		Int("records", result.DataInfo.TotalRecords).
		Msg("analysis complete")

	return &Report{Item: item, Result: result}, nil
}

func (a *Advisor) attachForecast(ctx context.Context, item storage.Item, result *engine.RecommendationResult) *engine.RecommendationResult {
	if a.predictor == nil {
		return result
	}
	pred, err := a.predictor.Predict(ctx, item.ExternalID)
	if err != nil {
		a.logger.Warn().Err(err).Str("item", item.Name).Msg("classifier unavailable; forecast omitted")
		return result
	}
	return a.applyPrediction(item, result, pred)
}

func (a *Advisor) applyPrediction(item storage.Item, result *engine.RecommendationResult, pred engine.Prediction) *engine.RecommendationResult {
	withForecast, err := engine.AttachForecast(result, pred, a.opts.ForecastThreshold)
	if err != nil {
		a.logger.Warn().Err(err).Str("item", item.Name).Msg("discarding invalid prediction")
		return result
	}
	return withForecast
}

func (a *Advisor) record(ctx context.Context, item storage.Item, result *engine.RecommendationResult, source storage.Source) {
	rec := storage.RecommendationRecord{
		ItemID:       item.ID,
		ItemName:     item.Name,
		Score:        result.Score,
		Tier:         result.Tier,
		CurrentPrice: decimal.NewFromFloat(result.Statistics.Current).Round(2),
		Reasoning:    result.Reasoning,
		Source:       source,
		CreatedAt:    a.now(),
	}
	if _, err := a.repo.InsertRecommendation(ctx, rec); err != nil {
		a.logger.Error().Err(err).Str("item", item.Name).Msg("failed to persist recommendation")
	}
}

// AnalyzeBatch analyzes up to engine.MaxBatchSize items. Identifiers that
// cannot be resolved or loaded become error entries next to the successful
// analyses.
func (a *Advisor) AnalyzeBatch(ctx context.Context, ids []string) (engine.BatchResult, error) {
	if a.repo == nil {
		return nil, storage.ErrNotConfigured
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no identifiers given", engine.ErrInvalidInput)
	}
	if len(ids) > engine.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit of %d", engine.ErrInvalidInput, len(ids), engine.MaxBatchSize)
	}

	out := make(engine.BatchResult, len(ids))
	series := make(map[string]engine.PriceSeries, len(ids))
	items := make(map[string]storage.Item, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			item, err := a.repo.ResolveItem(gctx, id)
			if err == nil {
				var obs engine.PriceSeries
				obs, err = a.repo.ListObservations(gctx, item.ID)
				if err == nil {
					mu.Lock()
					series[id] = obs
					items[id] = item
					mu.Unlock()
					return nil
				}
			}
			mu.Lock()
			out[id] = engine.BatchEntry{Error: err.Error()}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	analysed, err := a.engine.AnalyzeBatch(ctx, series)
	for id, entry := range analysed {
		out[id] = entry
	}
	if err != nil {
		return out, err
	}

	a.forecastBatch(ctx, items, out)
	a.logger.Info().Int("items", len(ids)).Int("failed", out.Failed()).Msg("batch analysis complete")
	return out, nil
}

func (a *Advisor) forecastBatch(ctx context.Context, items map[string]storage.Item, out engine.BatchResult) {
	bp, ok := a.predictor.(classifier.BatchPredictor)
	if !ok || len(items) == 0 {
		return
	}

	externalIDs := make([]string, 0, len(items))
	for id, item := range items {
		if out[id].OK() {
			externalIDs = append(externalIDs, item.ExternalID)
		}
	}
	if len(externalIDs) == 0 {
		return
	}

	preds, err := bp.PredictBatch(ctx, externalIDs)
	if err != nil {
		a.logger.Warn().Err(err).Int("items", len(externalIDs)).Msg("batch classifier unavailable; forecasts omitted")
		return
	}
	for id, item := range items {
		entry := out[id]
		pred, found := preds[item.ExternalID]
		if !found || !entry.OK() {
			continue
		}
		entry.Result = a.applyPrediction(item, entry.Result, pred)
		out[id] = entry
	}
}

// ListAvailable returns stored items with a summary of their history.
func (a *Advisor) ListAvailable(ctx context.Context, limit int) ([]storage.ItemSummary, error) {
	if a.repo == nil {
		return nil, storage.ErrNotConfigured
	}
	return a.repo.ListItems(ctx, limit)
}

// Sweep 重新评估关注列表，档位进入通知档位时发送告警。
func (a *Advisor) Sweep(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := a.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		a.logger.Debug().Time("bucket", bucket).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	queries, err := a.watchList(ctx)
	if err != nil {
		return err
	}

	var errs []error
	evaluated := 0
	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.evaluate(ctx, query); err != nil {
			a.logger.Error().Err(err).Str("item", query).Msg("sweep evaluation failed")
			errs = append(errs, err)
			continue
		}
		evaluated++
	}

	a.logger.Info().Time("bucket", bucket).
		Int("evaluated", evaluated).
		Int("failed", len(errs)).
		Msg("sweep complete")
	return errors.Join(errs...)
}

func (a *Advisor) watchList(ctx context.Context) ([]string, error) {
	if len(a.opts.WatchItems) > 0 {
		return a.opts.WatchItems, nil
	}
	if a.repo == nil {
		return nil, storage.ErrNotConfigured
	}
	summaries, err := a.repo.ListItems(ctx, a.opts.SweepLimit)
	if err != nil {
		return nil, fmt.Errorf("list watch items: %w", err)
	}
	queries := make([]string, 0, len(summaries))
	for _, s := range summaries {
		queries = append(queries, s.ExternalID)
	}
	return queries, nil
}

func (a *Advisor) evaluate(ctx context.Context, query string) error {
	if a.repo == nil {
		return storage.ErrNotConfigured
	}
	item, err := a.repo.ResolveItem(ctx, query)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", query, err)
	}

	// only sweep rows count; API lookups must not consume a transition
	previous, found, err := a.repo.LatestRecommendation(ctx, item.ID, storage.SourceSweep)
	if err != nil {
		return fmt.Errorf("latest recommendation for %s: %w", item.Name, err)
	}

	report, err := a.analyzeAs(ctx, item.ExternalID, storage.SourceSweep)
	if err != nil {
		return err
	}

	var prevTier engine.Tier
	if found {
		prevTier = previous.Tier
	}
	if !a.shouldNotify(item.ID, prevTier, report.Result.Tier) {
		return nil
	}
	a.dispatch(ctx, report, prevTier)
	return nil
}

func (a *Advisor) shouldNotify(itemID int64, previous, current engine.Tier) bool {
	if !a.alertsEnabled() || previous == current || !a.isNotifyTier(current) {
		return false
	}
	if a.opts.Cooldown <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastNotified[itemID]
	return !ok || a.now().Sub(last) >= a.opts.Cooldown
}

func (a *Advisor) isNotifyTier(tier engine.Tier) bool {
	for _, t := range a.opts.NotifyTiers {
		if t == tier {
			return true
		}
	}
	return false
}

func (a *Advisor) alertsEnabled() bool {
	return a.opts.AlertsOn && a.notifier != nil
}

func (a *Advisor) dispatch(ctx context.Context, report *Report, previous engine.Tier) {
	note := alerting.NotificationFromResult(report.Item.Name, report.Item.ExternalID, previous, report.Result, a.now())
	note.Channels = a.opts.Channels
	if err := a.notifier.Notify(ctx, note); err != nil {
		a.logger.Error().Err(err).Str("item", report.Item.Name).Msg("failed to dispatch alert")
		return
	}
	a.metrics.notified(report.Result.Tier)
	a.mu.Lock()
	a.lastNotified[report.Item.ID] = a.now()
	a.mu.Unlock()
}

// SimulateAlert 对指定条目执行一次分析并强制推送告警。
func (a *Advisor) SimulateAlert(ctx context.Context, query string) (*Report, error) {
	if a.notifier == nil {
		return nil, errors.New("未配置任何告警通道")
	}
	report, err := a.Analyze(ctx, query)
	if err != nil {
		return nil, err
	}
	note := alerting.NotificationFromResult(report.Item.Name, report.Item.ExternalID, "", report.Result, a.now())
	note.Channels = a.opts.Channels
	note.AdditionalMsg = "(simulated)"
	if err := a.notifier.Notify(ctx, note); err != nil {
		return report, fmt.Errorf("dispatch alert: %w", err)
	}
	return report, nil
}

func (a *Advisor) acquireLock(ctx context.Context) (func(), bool, error) {
	if a.opts.LockKey == 0 || a.repo == nil {
		return nil, true, nil
	}
	unlock, acquired, err := a.repo.TryAdvisoryLock(ctx, a.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
