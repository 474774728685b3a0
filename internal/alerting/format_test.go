package alerting

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/offers"
	"flight-price-alerts/internal/storage"
	"flight-price-alerts/internal/transport"
)

var (
	athens    = time.FixedZone("EEST", 3*3600)
	barcelona = time.FixedZone("CEST", 2*3600)
)

func sampleCandidate() offers.Candidate {
	return offers.Candidate{
		Offer: offers.Offer{
			Origin:            "ATH",
			Destination:       "BCN",
			Carriers:          []string{"A3"},
			OutboundDeparture: time.Date(2026, 4, 28, 7, 30, 0, 0, athens),
			OutboundArrival:   time.Date(2026, 4, 28, 9, 45, 0, 0, barcelona),
			InboundDeparture:  time.Date(2026, 5, 5, 18, 10, 0, 0, barcelona),
			InboundArrival:    time.Date(2026, 5, 5, 22, 20, 0, 0, athens),
			TotalPrice:        decimal.RequireFromString("379.98"),
			Currency:          "EUR",
			Adults:            2,
		},
		PricePerPerson:   decimal.RequireFromString("189.99"),
		GoogleFlightsURL: "https://g.example/flt",
		SkyscannerURL:    "https://s.example/flt",
	}
}

func TestFormatAlertIncludesEverything(t *testing.T) {
	msg := FormatAlert(sampleCandidate(), decimal.NewFromInt(200))
	for _, want := range []string{
		"189.99 EUR",
		"200.00 EUR/person",
		"379.98 EUR for 2 pax",
		"Outbound: 2026-04-28 07:30 → 2026-04-28 09:45",
		"Return: 2026-05-05 18:10 → 2026-05-05 22:20",
		"https://g.example/flt",
		"https://s.example/flt",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("alert missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatAlertOneWay(t *testing.T) {
	c := sampleCandidate()
	c.InboundDeparture, c.InboundArrival = time.Time{}, time.Time{}
	msg := FormatDayBest(c)
	if strings.Contains(msg, "Return:") {
		t.Fatalf("one-way offer must not render a return leg:\n%s", msg)
	}
}

func TestFormatDailyWithoutRecord(t *testing.T) {
	msg := FormatDaily(calendar.Day{Year: 2026, Month: time.March, Day: 1}, nil)
	if !strings.Contains(msg, "no offers found") || !strings.Contains(msg, "2026-03-01") {
		t.Fatalf("unexpected daily message %q", msg)
	}
}

func TestFormatDailyWithRecord(t *testing.T) {
	rec := storage.RecordFromCandidate(sampleCandidate(), time.Date(2026, 3, 1, 9, 0, 0, 0, athens))
	msg := FormatDaily(calendar.Day{Year: 2026, Month: time.March, Day: 1}, &rec)
	for _, want := range []string{"189.99 EUR/person", "379.98 EUR total", "https://g.example/flt"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("daily missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatHistoryRanksWithoutPadding(t *testing.T) {
	if FormatHistory(nil) != "No history yet." {
		t.Fatal("empty history must say so")
	}

	var records []storage.HistoryRecord
	for i := 0; i < 3; i++ {
		rec := storage.RecordFromCandidate(sampleCandidate(), time.Date(2026, 3, 1, 9+i, 0, 0, 0, athens))
		rec.PricePerPerson = decimal.NewFromInt(int64(100 + i))
		records = append(records, rec)
	}
	msg := FormatHistory(records)
	for i := 1; i <= 3; i++ {
		if !strings.Contains(msg, fmt.Sprintf("%d) %d.00 EUR", i, 99+i)) {
			t.Fatalf("missing rank %d:\n%s", i, msg)
		}
	}
	if strings.Contains(msg, "4)") {
		t.Fatalf("history must not be padded:\n%s", msg)
	}
}

func TestFormatSearchOutcome(t *testing.T) {
	if msg := FormatSearchOutcome(SearchOutcome{}); !strings.Contains(msg, "no matching offers") {
		t.Fatalf("unexpected empty outcome %q", msg)
	}
	best := sampleCandidate()
	msg := FormatSearchOutcome(SearchOutcome{Candidates: 4, Alerts: 1, Best: &best})
	if !strings.Contains(msg, "4 matching offers") || !strings.Contains(msg, "189.99 EUR") {
		t.Fatalf("unexpected outcome %q", msg)
	}
	failed := FormatSearchOutcome(SearchOutcome{Err: errors.New("boom")})
	if !strings.Contains(failed, "Search failed: boom") {
		t.Fatalf("unexpected failure text %q", failed)
	}
}

func TestFormatCycleError(t *testing.T) {
	msg := FormatCycleError(transport.Status("amadeus", "search", 500, "internal"))
	if !strings.Contains(msg, "amadeus is unavailable") {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := FormatCycleError(errors.New("x")); msg != "⚠️ Search cycle failed: x" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestFormatHelpListsCommands(t *testing.T) {
	help := FormatHelp()
	for _, cmd := range []string{"/start", "/history", "/help"} {
		if !strings.Contains(help, cmd) {
			t.Fatalf("help missing %s", cmd)
		}
	}
}
