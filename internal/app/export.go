package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"flight-price-alerts/internal/storage"
)

// Export renders price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	// History rows are written at most once per cycle.
	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Search.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no history found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, downsampled, a.Config.Alerting.ThresholdPerPerson.InexactFloat64()); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.HistoryRecord, max int) []storage.HistoryRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.HistoryRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

var csvHeader = []string{
	"id", "observed_at", "price_per_person", "total_price", "currency", "adults", "origin", "destination",
	"outbound_departure", "outbound_arrival", "inbound_departure", "inbound_arrival",
	"google_flights_url", "skyscanner_url",
}

func writeHistoryCSV(path string, records []storage.HistoryRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(int64(rec.ID), 10),
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.PricePerPerson.StringFixed(2),
			rec.TotalPrice.StringFixed(2),
			rec.Currency,
			strconv.Itoa(rec.Adults),
			rec.Origin,
			rec.Destination,
			csvTime(rec.OutboundDeparture),
			csvTime(rec.OutboundArrival),
			csvTime(rec.InboundDeparture),
			csvTime(rec.InboundArrival),
			rec.GoogleFlightsURL,
			rec.SkyscannerURL,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func writeHistoryPNG(path string, records []storage.HistoryRecord, threshold float64) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	perPerson := make([]float64, len(records))
	limit := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.ObservedAt
		perPerson[i] = rec.PricePerPerson.InexactFloat64()
		limit[i] = threshold
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price per person (" + records[0].Currency + ")",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Day best",
				XValues: x,
				YValues: perPerson,
			},
			chart.TimeSeries{
				Name:    "Alert threshold",
				XValues: x,
				YValues: limit,
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
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

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
