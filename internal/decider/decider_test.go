package decider

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/offers"
)

var athens = time.FixedZone("EET", 2*3600)

func candidate(price string, depHour int) offers.Candidate {
	return offers.Candidate{
		Offer: offers.Offer{
			Origin:            "ATH",
			Destination:       "BCN",
			OutboundDeparture: time.Date(2026, 4, 28, depHour, 0, 0, 0, athens),
			TotalPrice:        decimal.RequireFromString(price).Mul(decimal.NewFromInt(2)),
			Currency:          "EUR",
			Adults:            2,
		},
		PricePerPerson: decimal.RequireFromString(price),
	}
}

func noon(day int) time.Time {
	return time.Date(2026, 3, day, 12, 0, 0, 0, athens)
}

func TestThresholdIsInclusive(t *testing.T) {
	cases := []struct {
		price string
		alert bool
	}{
		{"199.99", true},
		{"200.00", true},
		{"200.01", false},
	}
	for _, tc := range cases {
		d := New(decimal.NewFromInt(200), athens)
		res := d.Evaluate(noon(1), []offers.Candidate{candidate(tc.price, 8)})
		if got := len(res.Alerts) == 1; got != tc.alert {
			t.Fatalf("price %s: alert=%v, want %v", tc.price, got, tc.alert)
		}
	}
}

func TestEveryQualifyingCandidateAlertsInOrder(t *testing.T) {
	d := New(decimal.NewFromInt(200), athens)
	res := d.Evaluate(noon(1), []offers.Candidate{
		candidate("180.00", 9),
		candidate("250.00", 7),
		candidate("150.00", 10),
		candidate("150.00", 6),
	})
	if len(res.Alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(res.Alerts))
	}
	if res.Alerts[0].OutboundDeparture.Hour() != 6 || res.Alerts[1].OutboundDeparture.Hour() != 10 {
		t.Fatalf("alerts not ordered by price then departure: %+v", res.Alerts)
	}
	if res.DayBest == nil || res.DayBest.OutboundDeparture.Hour() != 6 {
		t.Fatalf("unexpected day best %+v", res.DayBest)
	}
}

func TestDayBestIsMonotonic(t *testing.T) {
	d := New(decimal.NewFromInt(100), athens)

	first := d.Evaluate(noon(1), []offers.Candidate{candidate("180.00", 8)})
	if first.DayBest == nil {
		t.Fatal("first candidate of the day must become day best")
	}

	for _, price := range []string{"180.01", "180.00", "250.00"} {
		res := d.Evaluate(noon(1).Add(time.Hour), []offers.Candidate{candidate(price, 8)})
		if res.DayBest != nil {
			t.Fatalf("price %s must not update day best 180.00", price)
		}
	}

	lower := d.Evaluate(noon(1).Add(2*time.Hour), []offers.Candidate{candidate("179.99", 8)})
	if lower.DayBest == nil || !lower.DayBest.PricePerPerson.Equal(decimal.RequireFromString("179.99")) {
		t.Fatalf("lower price must update day best, got %+v", lower.DayBest)
	}
	if snap := d.Snapshot(); !snap.Best.Equal(decimal.RequireFromString("179.99")) {
		t.Fatalf("snapshot best = %s", snap.Best)
	}
}

func TestRolloverResetsDayBest(t *testing.T) {
	d := New(decimal.NewFromInt(100), athens)
	d.Evaluate(time.Date(2026, 3, 1, 23, 59, 0, 0, athens), []offers.Candidate{candidate("150.00", 8)})

	same := d.Evaluate(time.Date(2026, 3, 2, 0, 0, 0, 0, athens), []offers.Candidate{candidate("150.00", 8)})
	if !same.Rollover {
		t.Fatal("expected rollover at local midnight")
	}
	if same.DayBest == nil {
		t.Fatal("price equal to yesterday's best must re-trigger day best after rollover")
	}
	if snap := d.Snapshot(); snap.Day != (calendar.Day{Year: 2026, Month: time.March, Day: 2}) {
		t.Fatalf("unexpected day %s", snap.Day)
	}
}

func TestRolloverUsesReportingLocation(t *testing.T) {
	d := New(decimal.NewFromInt(100), athens)
	// 22:30 UTC is already the next day at UTC+2
	d.Evaluate(time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC), []offers.Candidate{candidate("150.00", 8)})
	res := d.Evaluate(time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC), []offers.Candidate{candidate("150.00", 8)})
	if !res.Rollover || res.DayBest == nil {
		t.Fatalf("expected rollover in reporting location, got %+v", res)
	}
}

func TestSeedPrimesDayBest(t *testing.T) {
	d := New(decimal.NewFromInt(100), athens)
	d.Seed(calendar.DayOf(noon(1), athens), decimal.RequireFromString("120.00"))

	res := d.Evaluate(noon(1), []offers.Candidate{candidate("130.00", 8)})
	if res.DayBest != nil {
		t.Fatal("seeded best must suppress a higher price")
	}
	if res.Rollover {
		t.Fatal("seeded day must not roll over")
	}
}

func TestEmptyCycle(t *testing.T) {
	d := New(decimal.NewFromInt(100), athens)
	res := d.Evaluate(noon(1), nil)
	if len(res.Alerts) != 0 || res.DayBest != nil {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if d.Snapshot().HasBest {
		t.Fatal("empty cycle must not set a day best")
	}
}

func TestConcurrentEvaluateSerialises(t *testing.T) {
	d := New(decimal.NewFromInt(0), athens)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updates int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := d.Evaluate(noon(1), []offers.Candidate{candidate("100.00", 8)})
			if res.DayBest != nil {
				mu.Lock()
				updates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if updates != 1 {
		t.Fatalf("expected exactly one day-best update, got %d", updates)
	}
}
