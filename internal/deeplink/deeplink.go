// Package deeplink builds pre-filled search URLs for external flight search sites.
package deeplink

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	googleFlightsBase = "https://www.google.com/flights"
	skyscannerBase    = "https://www.skyscanner.net/transport/flights"
)

// Route holds everything a deep link encodes. Return is zero for one-way trips.
type Route struct {
	Origin      string
	Destination string
	Depart      time.Time
	Return      time.Time
	Currency    string
	Adults      int
	Locale      string
}

// GoogleFlights returns a Google Flights link, or "" when the route has no departure date.
func GoogleFlights(r Route) string {
	if r.Depart.IsZero() {
		return ""
	}
	origin := strings.ToUpper(r.Origin)
	dest := strings.ToUpper(r.Destination)
	locale := r.Locale
	if locale == "" {
		locale = "en"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s?hl=%s#flt=%s.%s.%s", googleFlightsBase, url.QueryEscape(locale), origin, dest, r.Depart.Format(time.DateOnly))
	if !r.Return.IsZero() {
		fmt.Fprintf(&b, "*%s.%s.%s", dest, origin, r.Return.Format(time.DateOnly))
	}
	fmt.Fprintf(&b, ";c:%s;sd:1;adults=%d", strings.ToUpper(r.Currency), adults(r.Adults))
	return b.String()
}

// Skyscanner returns a Skyscanner link, or "" when the route has no departure date.
func Skyscanner(r Route) string {
	if r.Depart.IsZero() {
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s/%s", skyscannerBase, strings.ToLower(r.Origin), strings.ToLower(r.Destination), r.Depart.Format("060102"))
	if !r.Return.IsZero() {
		path += "/" + r.Return.Format("060102")
	}

	q := url.Values{}
	q.Set("adults", fmt.Sprint(adults(r.Adults)))
	q.Set("currency", strings.ToUpper(r.Currency))
	return path + "/?" + q.Encode()
}

func adults(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
