package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-advisor/internal/engine"
)

var importColumns = []string{"external_id", "name", "date", "price", "discount_percent"}

type importedItem struct {
	ExternalID string
	Name       string
	Series     engine.PriceSeries
}

type rowError struct {
	Line int
	Err  error
}

func (e rowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Import 读取 CSV 价格历史并按条目写入存储。
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	file, err := os.Open(opts.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	items, rowErrs, err := parseHistoryCSV(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.Path, err)
	}
	for _, re := range rowErrs {
		a.Logger.Warn().Int("line", re.Line).Err(re.Err).Msg("跳过无效行")
	}
	if len(items) == 0 {
		return errors.New("CSV 中没有有效数据")
	}

	if opts.DryRun {
		a.Logger.Warn().Int("items", len(items)).Msg("导入 dry-run：不会写入数据库")
		return nil
	}

	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	imported := 0
	failed := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := repo.UpsertItem(ctx, it.ExternalID, it.Name)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("external_id", it.ExternalID).Msg("写入条目失败")
			continue
		}
		if err := repo.UpsertObservations(ctx, item.ID, it.Series); err != nil {
			failed++
			a.Logger.Error().Err(err).Str("item", it.Name).Msg("写入价格历史失败")
			continue
		}
		imported += len(it.Series)
	}

	a.Logger.Info().
		Int("items", len(items)).
		Int("observations", imported).
		Int("skipped_rows", len(rowErrs)).
		Int("failed_items", failed).
		Msg("导入完成")
	if failed > 0 {
		return errors.New("部分条目导入失败，请检查日志")
	}
	return nil
}

// parseHistoryCSV groups valid rows by external id, each series ordered by
// date. Malformed rows are returned separately.
func parseHistoryCSV(r io.Reader) ([]importedItem, []rowError, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*importedItem)
	var order []string
	var rowErrs []rowError
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = append(rowErrs, rowError{Line: perr.Line, Err: perr.Err})
				continue
			}
			return nil, nil, err
		}
		line, _ := reader.FieldPos(0)

		externalID := strings.TrimSpace(record[index["external_id"]])
		name := strings.TrimSpace(record[index["name"]])
		obs, err := parseObservation(record, index)
		if err == nil && (externalID == "" || name == "") {
			err = errors.New("external_id and name are required")
		}
		if err != nil {
			rowErrs = append(rowErrs, rowError{Line: line, Err: err})
			continue
		}

		item, ok := byID[externalID]
		if !ok {
			item = &importedItem{ExternalID: externalID}
			byID[externalID] = item
			order = append(order, externalID)
		}
		item.Name = name
		item.Series = append(item.Series, obs)
	}

	out := make([]importedItem, 0, len(order))
	for _, id := range order {
		item := byID[id]
		sort.SliceStable(item.Series, func(i, j int) bool {
			return item.Series[i].Date.Before(item.Series[j].Date)
		})
		out = append(out, *item)
	}
	return out, rowErrs, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range importColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q (expected %s)", col, strings.Join(importColumns, ","))
		}
	}
	return index, nil
}

func parseObservation(record []string, index map[string]int) (engine.PriceObservation, error) {
	date, err := time.Parse(engine.DateLayout, strings.TrimSpace(record[index["date"]]))
	if err != nil {
		return engine.PriceObservation{}, fmt.Errorf("invalid date: %w", err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(record[index["price"]]))
	if err != nil {
		return engine.PriceObservation{}, fmt.Errorf("invalid price: %w", err)
	}

	discount := 0
	if raw := strings.TrimSpace(record[index["discount_percent"]]); raw != "" {
		discount, err = strconv.Atoi(raw)
		if err != nil {
			return engine.PriceObservation{}, fmt.Errorf("invalid discount_percent: %w", err)
		}
	}

	obs := engine.PriceObservation{Date: date, Price: price, DiscountPercent: discount}
	if err := engine.Validate(engine.PriceSeries{obs}); err != nil {
		return engine.PriceObservation{}, err
	}
	return obs, nil
}
