package alerting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/offers"
	"flight-price-alerts/internal/storage"
	"flight-price-alerts/internal/transport"
)

const timeLayout = "2006-01-02 15:04"

// SearchOutcome summarises a search cycle for a command reply.
type SearchOutcome struct {
	Candidates int
	Alerts     int
	Best       *offers.Candidate
	Err        error
}

// FormatAlert renders a threshold alert for one candidate.
func FormatAlert(c offers.Candidate, threshold decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 [ALERT] %s ≤ %s %s/person\n", money(c.PricePerPerson, c.Currency), threshold.StringFixed(2), c.Currency)
	writeCandidate(&b, c)
	return strings.TrimRight(b.String(), "\n")
}

// FormatDayBest renders a new lowest price of the day.
func FormatDayBest(c offers.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✈️ New lowest price today: %s/person\n", money(c.PricePerPerson, c.Currency))
	writeCandidate(&b, c)
	return strings.TrimRight(b.String(), "\n")
}

func writeCandidate(b *strings.Builder, c offers.Candidate) {
	fmt.Fprintf(b, "Route: %s → %s\n", c.Origin, c.Destination)
	fmt.Fprintf(b, "Total: %s for %d pax\n", money(c.TotalPrice, c.Currency), c.Adults)
	writeLegs(b, c.OutboundDeparture, c.OutboundArrival, c.InboundDeparture, c.InboundArrival)
	if len(c.Carriers) > 0 {
		fmt.Fprintf(b, "Carriers: %s\n", strings.Join(c.Carriers, ", "))
	}
	writeLinks(b, c.GoogleFlightsURL, c.SkyscannerURL)
}

func writeLegs(b *strings.Builder, outDep, outArr, inDep, inArr time.Time) {
	if !outDep.IsZero() {
		fmt.Fprintf(b, "📅 Outbound: %s", outDep.Format(timeLayout))
		if !outArr.IsZero() {
			fmt.Fprintf(b, " → %s", outArr.Format(timeLayout))
		}
		b.WriteByte('\n')
	}
	if !inDep.IsZero() {
		fmt.Fprintf(b, "📅 Return: %s", inDep.Format(timeLayout))
		if !inArr.IsZero() {
			fmt.Fprintf(b, " → %s", inArr.Format(timeLayout))
		}
		b.WriteByte('\n')
	}
}

func writeLinks(b *strings.Builder, google, skyscanner string) {
	if google != "" {
		fmt.Fprintf(b, "🔗 Google Flights: %s\n", google)
	}
	if skyscanner != "" {
		fmt.Fprintf(b, "🔗 Skyscanner: %s\n", skyscanner)
	}
}

// FormatDaily renders the daily summary. A nil record states that no offers were found.
func FormatDaily(day calendar.Day, rec *storage.HistoryRecord) string {
	if rec == nil {
		return fmt.Sprintf("ℹ️ Daily summary %s: no offers found today.", day)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📉 Daily summary %s\n", day)
	fmt.Fprintf(&b, "Lowest price: %s/person (%s total, %d pax)\n",
		money(rec.PricePerPerson, rec.Currency), money(rec.TotalPrice, rec.Currency), rec.Adults)
	fmt.Fprintf(&b, "Route: %s → %s\n", rec.Origin, rec.Destination)
	writeLegs(&b, rec.OutboundDeparture, rec.OutboundArrival, rec.InboundDeparture, rec.InboundArrival)
	fmt.Fprintf(&b, "Seen at: %s\n", rec.ObservedAt.Format(timeLayout))
	writeLinks(&b, rec.GoogleFlightsURL, rec.SkyscannerURL)
	return strings.TrimRight(b.String(), "\n")
}

// FormatHistory renders records as a ranked list in the given order.
func FormatHistory(records []storage.HistoryRecord) string {
	if len(records) == 0 {
		return "No history yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Top %d lowest prices:\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%d) %s/person, %s → %s (seen %s)\n", i+1,
			money(rec.PricePerPerson, rec.Currency), dateOrUnknown(rec.OutboundDeparture),
			dateOrUnknown(rec.InboundDeparture), rec.ObservedAt.Format(timeLayout))
		if rec.GoogleFlightsURL != "" {
			fmt.Fprintf(&b, "🔗 G: %s\n", rec.GoogleFlightsURL)
		}
		if rec.SkyscannerURL != "" {
			fmt.Fprintf(&b, "🔗 S: %s\n", rec.SkyscannerURL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSearchOutcome renders the reply to an on-demand search.
func FormatSearchOutcome(o SearchOutcome) string {
	if o.Err != nil {
		return "⚠️ Search failed: " + o.Err.Error()
	}
	if o.Candidates == 0 || o.Best == nil {
		return "🔎 Search finished: no matching offers."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 Search finished: %d matching offers, %d alerts.\n", o.Candidates, o.Alerts)
	fmt.Fprintf(&b, "Cheapest: %s/person\n", money(o.Best.PricePerPerson, o.Best.Currency))
	writeLegs(&b, o.Best.OutboundDeparture, o.Best.OutboundArrival, o.Best.InboundDeparture, o.Best.InboundArrival)
	writeLinks(&b, o.Best.GoogleFlightsURL, o.Best.SkyscannerURL)
	return strings.TrimRight(b.String(), "\n")
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Commands:\n" +
		"/start - run an immediate search\n" +
		"/history - top 10 lowest prices\n" +
		"/help - this message"
}

// FormatUnknown is the reply to anything that is not a command.
func FormatUnknown() string {
	return "Unknown command. See /help"
}

// FormatCycleError renders a cycle failure for the operator.
func FormatCycleError(err error) string {
	var tErr *transport.Error
	if errors.As(err, &tErr) {
		return fmt.Sprintf("⚠️ Search cycle aborted: %s is unavailable (%s)", tErr.Service, err)
	}
	return "⚠️ Search cycle failed: " + err.Error()
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

func dateOrUnknown(t time.Time) string {
	if t.IsZero() {
		return "?"
	}
	return t.Format(time.DateOnly)
}
