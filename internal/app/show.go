package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"price-advisor/internal/storage"
)

// maxReasonWidth truncates the reasoning column in the table view.
const maxReasonWidth = 80

// Show prints recent recommendation audit rows.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	recs, err := repo.ListRecentRecommendations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return renderRecommendations(out, recs)
}

func renderRecommendations(out io.Writer, recs []storage.RecommendationRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(out, "no recommendations found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tItem\tScore\tTier\tPrice\tTop reason")

	for _, rec := range recs {
		reason := ""
		if len(rec.Reasoning) > 0 {
			reason = truncate(sanitizeInline(rec.Reasoning[0]), maxReasonWidth)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			sanitizeInline(rec.ItemName),
			rec.Score,
			rec.Tier,
			rec.CurrentPrice.StringFixed(2),
			reason,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func truncate(v string, width int) string {
	runes := []rune(v)
	if len(runes) <= width {
		return v
	}
	return string(runes[:width-3]) + "..."
}
