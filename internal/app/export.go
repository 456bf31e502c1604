package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xuri/excelize/v2"

	"price-advisor/internal/engine"
	"price-advisor/internal/storage"
)

const (
	historySheet = "History"
	summarySheet = "Summary"
)

// Export renders one item's price history as CSV, PNG and/or XLSX.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}
	if opts.Item == "" {
		return errors.New("--item is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	item, err := repo.ResolveItem(ctx, opts.Item)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", opts.Item, err)
	}
	series, err := repo.ListObservations(ctx, item.ID)
	if err != nil {
		return err
	}

	window := filterWindow(series, opts.From, opts.To)
	if len(window) == 0 {
		a.Logger.Info().Str("item", item.Name).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleSeries(window, opts.MaxPoints)
	a.Logger.Info().Str("item", item.Name).Int("total", len(window)).Int("exported", len(downsampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, item.Name, downsampled); err != nil {
			return err
		}
	}

	if opts.XLSXPath != "" {
		eng, err := engine.New(a.Config.Engine)
		if err != nil {
			return err
		}
		// summary is computed on the full window, not the downsampled rows
		result, err := eng.Analyze(window)
		if err != nil {
			a.Logger.Warn().Err(err).Str("item", item.Name).Msg("summary sheet skipped")
			result = nil
		}
		if err := writeHistoryXLSX(opts.XLSXPath, item, downsampled, result); err != nil {
			return err
		}
	}

	return nil
}

func filterWindow(series engine.PriceSeries, from, to *time.Time) engine.PriceSeries {
	if from == nil && to == nil {
		return series
	}
	out := make(engine.PriceSeries, 0, len(series))
	for _, obs := range series {
		if from != nil && obs.Date.Before(from.UTC()) {
			continue
		}
		if to != nil && !obs.Date.Before(to.UTC()) {
			continue
		}
		out = append(out, obs)
	}
	return out
}

func downsampleSeries(series engine.PriceSeries, max int) engine.PriceSeries {
	if max <= 0 || len(series) <= max {
		return series
	}
	if max == 1 {
		return series[len(series)-1:]
	}

	result := make(engine.PriceSeries, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeHistoryCSV(path string, series engine.PriceSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "price", "discount_percent"}); err != nil {
		return err
	}
	for _, obs := range series {
		record := []string{
			obs.Date.Format(engine.DateLayout),
			obs.Price.StringFixed(2),
			strconv.Itoa(obs.DiscountPercent),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path, title string, series engine.PriceSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	price := make([]float64, len(series))
	discount := make([]float64, len(series))
	for i, obs := range series {
		x[i] = obs.Date
		price[i] = obs.Price.InexactFloat64()
		discount[i] = float64(obs.DiscountPercent)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Discount (%)",
			ValueFormatter: priceFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Discount %",
				XValues: x,
				YValues: discount,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeHistoryXLSX(path string, item storage.Item, series engine.PriceSeries, result *engine.RecommendationResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), historySheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(historySheet, "A1", &[]interface{}{"Date", "Price", "Discount %"}); err != nil {
		return err
	}
	for i, obs := range series {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{obs.Date.Format(engine.DateLayout), obs.Price.InexactFloat64(), obs.DiscountPercent}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(historySheet, "A", "C", 14); err != nil {
		return err
	}

	if result != nil {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return err
		}
		rows := [][]interface{}{
			{"Item", item.Name},
			{"External ID", item.ExternalID},
			{"Score", result.Score},
			{"Tier", string(result.Tier)},
			{"Action", result.ActionText},
			{"Current price", result.Statistics.Current},
			{"Average price", result.Statistics.Mean},
			{"Percentile", result.Statistics.PercentileRank},
			{"Trend", string(result.Trend.Direction)},
			{"Records", result.DataInfo.TotalRecords},
		}
		for i, reason := range result.Reasoning {
			label := ""
			if i == 0 {
				label = "Reasoning"
			}
			rows = append(rows, []interface{}{label, reason})
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
				return err
			}
		}
		if err := f.SetColWidth(summarySheet, "A", "A", 16); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
