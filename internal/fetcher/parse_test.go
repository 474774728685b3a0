package fetcher

import (
	"errors"
	"testing"
	"time"

	"flight-price-alerts/internal/offers"
)

func TestParseOffersUsesLegLocations(t *testing.T) {
	athens, err := time.LoadLocation("Europe/Athens")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	got, err := ParseOffers([]byte(sampleOffers), ParseOptions{
		Origin:           "ATH",
		Destination:      "BCN",
		Adults:           1,
		OutboundLocation: athens,
		InboundLocation:  madrid,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one offer, got %d", len(got))
	}
	o := got[0]
	if o.OutboundDeparture.Location() != athens || o.OutboundDeparture.Hour() != 8 {
		t.Fatalf("outbound departure should be 08:30 Athens, got %s", o.OutboundDeparture)
	}
	if o.InboundDeparture.Location() != madrid || o.InboundDeparture.Hour() != 18 {
		t.Fatalf("inbound departure should be 18:00 Madrid, got %s", o.InboundDeparture)
	}
	if o.InboundArrival.Location() != athens {
		t.Fatalf("inbound arrival belongs to the outbound origin location")
	}
	if o.Adults != 2 {
		t.Fatalf("traveler pricings should define adults, got %d", o.Adults)
	}
	if o.TotalPrice.String() != "356.4" || o.Currency != "EUR" {
		t.Fatalf("grandTotal should win: %s %s", o.TotalPrice, o.Currency)
	}
	if len(o.Carriers) != 1 || o.Carriers[0] != "A3" {
		t.Fatalf("unexpected carriers %v", o.Carriers)
	}
}

func TestParseOffersSkipsMalformedRecords(t *testing.T) {
	body := `{"data": [
	  {"id": "bad-time", "itineraries": [{"segments": [{"departure": {"at": "tomorrow"}, "arrival": {"at": "2026-04-28T11:00:00"}}]}], "price": {"total": "10"}},
	  {"id": "no-itin", "itineraries": [], "price": {"total": "10"}},
	  {"id": "bad-price", "itineraries": [{"segments": [{"departure": {"at": "2026-04-28T08:00:00"}, "arrival": {"at": "2026-04-28T11:00:00"}}]}], "price": {"total": "n/a"}},
	  {"id": "good", "itineraries": [{"segments": [{"departure": {"at": "2026-04-28T08:00:00"}, "arrival": {"at": "2026-04-28T11:00:00"}}]}], "price": {"total": "99.90"}}
	]}`

	got, err := ParseOffers([]byte(body), ParseOptions{Origin: "ATH", Destination: "BCN", Adults: 1, FallbackCurrency: "EUR"})
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("expected only the good offer, got %+v", got)
	}
	if got[0].Currency != "EUR" || got[0].Origin != "ATH" || got[0].HasInbound() {
		t.Fatalf("fallbacks not applied: %+v", got[0])
	}
	var mErr *offers.MalformedOfferError
	if !errors.As(err, &mErr) {
		t.Fatalf("expected malformed offer errors, got %v", err)
	}
}

func TestParseOffersRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseOffers([]byte("<html>"), ParseOptions{}); err == nil {
		t.Fatal("invalid JSON must fail")
	}
	got, err := ParseOffers([]byte(`{"meta": {"count": 0}}`), ParseOptions{})
	if err != nil || len(got) != 0 {
		t.Fatalf("missing data must be empty, got %v %v", got, err)
	}
}
