package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"flight-price-alerts/internal/storage"
)

// History prints the cheapest stored records.
func (a *App) History(ctx context.Context, w io.Writer, opts HistoryOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.TopN(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "no history yet")
		return nil
	}
	return writeHistoryTable(w, records)
}

func writeHistoryTable(w io.Writer, records []storage.HistoryRecord) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tObserved (UTC)\tPer person\tTotal\tRoute\tOutbound\tInbound")

	for i, rec := range records {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s %s\t%s %s\t%s-%s\t%s\t%s\n",
			i+1,
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.PricePerPerson.StringFixed(2), rec.Currency,
			rec.TotalPrice.StringFixed(2), rec.Currency,
			rec.Origin, rec.Destination,
			legTime(rec.OutboundDeparture),
			legTime(rec.InboundDeparture),
		)
	}

	return writer.Flush()
}

func legTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04 MST")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
