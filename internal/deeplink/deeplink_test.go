package deeplink

import (
	"testing"
	"time"
)

func testRoute() Route {
	return Route{
		Origin:      "ath",
		Destination: "BCN",
		Depart:      time.Date(2026, 4, 28, 8, 30, 0, 0, time.UTC),
		Return:      time.Date(2026, 5, 5, 19, 10, 0, 0, time.UTC),
		Currency:    "eur",
		Adults:      2,
		Locale:      "el",
	}
}

func TestGoogleFlightsRoundTrip(t *testing.T) {
	got := GoogleFlights(testRoute())
	want := "https://www.google.com/flights?hl=el#flt=ATH.BCN.2026-04-28*BCN.ATH.2026-05-05;c:EUR;sd:1;adults=2"
	if got != want {
		t.Fatalf("google link mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestGoogleFlightsOneWayDefaultLocale(t *testing.T) {
	r := testRoute()
	r.Return = time.Time{}
	r.Locale = ""
	got := GoogleFlights(r)
	want := "https://www.google.com/flights?hl=en#flt=ATH.BCN.2026-04-28;c:EUR;sd:1;adults=2"
	if got != want {
		t.Fatalf("google one-way mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestSkyscanner(t *testing.T) {
	got := Skyscanner(testRoute())
	want := "https://www.skyscanner.net/transport/flights/ath/bcn/260428/260505/?adults=2&currency=EUR"
	if got != want {
		t.Fatalf("skyscanner mismatch\n got: %s\nwant: %s", got, want)
	}

	r := testRoute()
	r.Return = time.Time{}
	r.Adults = 0
	got = Skyscanner(r)
	want = "https://www.skyscanner.net/transport/flights/ath/bcn/260428/?adults=1&currency=EUR"
	if got != want {
		t.Fatalf("skyscanner one-way mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestEmptyDepartureYieldsNoLink(t *testing.T) {
	r := testRoute()
	r.Depart = time.Time{}
	if GoogleFlights(r) != "" || Skyscanner(r) != "" {
		t.Fatal("links without a departure date must be empty")
	}
}
