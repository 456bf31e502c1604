package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// AnalyzeBatch runs Analyze independently for every identifier, at most
// Config.BatchConcurrency at a time. A failing item becomes an error entry
// without affecting its siblings.
//
// When ctx is cancelled, items that have not started are recorded with the
// context error and ctx.Err() is returned alongside the partial result.
func (e *Engine) AnalyzeBatch(ctx context.Context, seriesByID map[string]PriceSeries) (BatchResult, error) {
	if len(seriesByID) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit of %d", ErrInvalidInput, len(seriesByID), MaxBatchSize)
	}

	out := make(BatchResult, len(seriesByID))
	var mu sync.Mutex
	record := func(id string, entry BatchEntry) {
		mu.Lock()
		out[id] = entry
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.BatchConcurrency)
	for id, series := range seriesByID {
		id, series := id, series
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(id, BatchEntry{Error: err.Error()})
				return nil
			}
			result, err := e.Analyze(series)
			if err != nil {
				record(id, BatchEntry{Error: err.Error()})
				return nil
			}
			record(id, BatchEntry{Result: result})
			return nil
		})
	}
	_ = g.Wait()

	return out, ctx.Err()
}
