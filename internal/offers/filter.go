package offers

import (
	"errors"
	"sort"

	"flight-price-alerts/internal/deeplink"
)

// LinkFunc builds the Google Flights and Skyscanner links for an offer.
type LinkFunc func(o Offer) (google, skyscanner string)

// DeepLinks returns a LinkFunc backed by the deeplink package.
func DeepLinks(locale string) LinkFunc {
	return func(o Offer) (string, string) {
		route := deeplink.Route{
			Origin:      o.Origin,
			Destination: o.Destination,
			Depart:      o.OutboundDeparture,
			Return:      o.InboundDeparture,
			Currency:    o.Currency,
			Adults:      o.Adults,
			Locale:      locale,
		}
		return deeplink.GoogleFlights(route), deeplink.Skyscanner(route)
	}
}

// Filter keeps the offers whose outbound and inbound departures fall within their windows,
// prices them per person and orders them cheapest first, earliest outbound departure on ties.
//
// Malformed offers are dropped; the returned error joins one *MalformedOfferError per dropped
// offer and never invalidates the returned candidates.
func Filter(in []Offer, outbound, inbound Window, links LinkFunc) ([]Candidate, error) {
	out := make([]Candidate, 0, len(in))
	var errs []error

	for _, o := range in {
		if o.OutboundDeparture.IsZero() {
			errs = append(errs, &MalformedOfferError{OfferID: o.ID, Reason: "missing outbound departure"})
			continue
		}
		perPerson, err := o.PricePerPerson()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !outbound.Contains(o.OutboundDeparture) {
			continue
		}
		if o.HasInbound() && !inbound.Contains(o.InboundDeparture) {
			continue
		}

		c := Candidate{Offer: o, PricePerPerson: perPerson}
		if links != nil {
			c.GoogleFlightsURL, c.SkyscannerURL = links(o)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].PricePerPerson.Cmp(out[j].PricePerPerson); cmp != 0 {
			return cmp < 0
		}
		return out[i].OutboundDeparture.Before(out[j].OutboundDeparture)
	})

	return out, errors.Join(errs...)
}
