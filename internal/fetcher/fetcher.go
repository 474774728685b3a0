package fetcher

import (
	"context"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/offers"
)

// SearchRequest describes one route search. Date ranges are inclusive; a zero ReturnFrom
// searches one-way.
type SearchRequest struct {
	Origin        string
	Destination   string
	DepartureFrom calendar.Day
	DepartureTo   calendar.Day
	ReturnFrom    calendar.Day
	ReturnTo      calendar.Day
	Adults        int
	Currency      string
	Max           int
}

// OfferSearcher retrieves priced offers from the flight search provider.
type OfferSearcher interface {
	SearchOffers(ctx context.Context, req SearchRequest) ([]offers.Offer, error)
}

type datePair struct {
	depart calendar.Day
	ret    calendar.Day
}

// datePairs expands the request ranges into departure/return combinations, skipping returns
// before the departure, capped at limit.
func (r SearchRequest) datePairs(limit int) []datePair {
	departTo := r.DepartureTo
	if departTo.IsZero() || departTo.Before(r.DepartureFrom) {
		departTo = r.DepartureFrom
	}
	returnTo := r.ReturnTo
	if returnTo.IsZero() || returnTo.Before(r.ReturnFrom) {
		returnTo = r.ReturnFrom
	}

	var pairs []datePair
	for d := r.DepartureFrom; !departTo.Before(d); d = nextDay(d) {
		if r.ReturnFrom.IsZero() {
			pairs = append(pairs, datePair{depart: d})
		} else {
			for ret := r.ReturnFrom; !returnTo.Before(ret); ret = nextDay(ret) {
				if ret.Before(d) {
					continue
				}
				pairs = append(pairs, datePair{depart: d, ret: ret})
				if limit > 0 && len(pairs) >= limit {
					return pairs
				}
			}
		}
		if limit > 0 && len(pairs) >= limit {
			return pairs
		}
	}
	return pairs
}

func nextDay(d calendar.Day) calendar.Day {
	start, _ := d.Bounds(nil)
	return calendar.DayOf(start.AddDate(0, 0, 1), nil)
}
