package fetcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"flight-price-alerts/internal/offers"
)

const amadeusTimeLayout = "2006-01-02T15:04:05"

// ParseOptions tells the parser which location each leg's local timestamps belong to.
type ParseOptions struct {
	Origin           string
	Destination      string
	Adults           int
	OutboundLocation *time.Location
	InboundLocation  *time.Location
	FallbackCurrency string
}

// ParseOffers converts a flight-offers response body into offers. Records that cannot be
// normalised are skipped; the returned error joins one *offers.MalformedOfferError per record.
func ParseOffers(body []byte, opts ParseOptions) ([]offers.Offer, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("flight offers response is not valid JSON")
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return nil, nil
	}

	result := make([]offers.Offer, 0, len(data.Array()))
	var errs []error
	data.ForEach(func(_, value gjson.Result) bool {
		offer, err := parseOffer(value, opts)
		if err != nil {
			errs = append(errs, err)
			return true
		}
		result = append(result, offer)
		return true
	})
	return result, errors.Join(errs...)
}

func parseOffer(raw gjson.Result, opts ParseOptions) (offers.Offer, error) {
	id := raw.Get("id").String()
	malformed := func(format string, args ...any) error {
		return &offers.MalformedOfferError{OfferID: id, Reason: fmt.Sprintf(format, args...)}
	}

	outLoc := locationOr(opts.OutboundLocation)
	inLoc := locationOr(opts.InboundLocation)

	itineraries := raw.Get("itineraries").Array()
	if len(itineraries) == 0 {
		return offers.Offer{}, malformed("no itineraries")
	}

	outDep, outArr, err := legTimes(itineraries[0], outLoc, inLoc)
	if err != nil {
		return offers.Offer{}, malformed("outbound: %v", err)
	}

	var inDep, inArr time.Time
	if len(itineraries) > 1 {
		inDep, inArr, err = legTimes(itineraries[1], inLoc, outLoc)
		if err != nil {
			return offers.Offer{}, malformed("inbound: %v", err)
		}
	}

	amount := raw.Get("price.grandTotal").String()
	if amount == "" {
		amount = raw.Get("price.total").String()
	}
	total, err := decimal.NewFromString(amount)
	if err != nil {
		return offers.Offer{}, malformed("price %q: %v", amount, err)
	}

	currency := raw.Get("price.currency").String()
	if currency == "" {
		currency = opts.FallbackCurrency
	}

	adults := opts.Adults
	if travellers := raw.Get("travelerPricings.#").Int(); travellers > 0 {
		adults = int(travellers)
	}

	origin := itineraries[0].Get("segments.0.departure.iataCode").String()
	if origin == "" {
		origin = opts.Origin
	}
	destination := opts.Destination
	if segs := itineraries[0].Get("segments").Array(); len(segs) > 0 {
		if code := segs[len(segs)-1].Get("arrival.iataCode").String(); code != "" {
			destination = code
		}
	}

	var carriers []string
	for _, code := range raw.Get("validatingAirlineCodes").Array() {
		carriers = append(carriers, code.String())
	}

	return offers.Offer{
		ID:                id,
		Origin:            origin,
		Destination:       destination,
		Carriers:          carriers,
		OutboundDeparture: outDep,
		OutboundArrival:   outArr,
		InboundDeparture:  inDep,
		InboundArrival:    inArr,
		TotalPrice:        total,
		Currency:          currency,
		Adults:            adults,
	}, nil
}

// legTimes returns the first segment's departure and the last segment's arrival.
func legTimes(itinerary gjson.Result, depLoc, arrLoc *time.Location) (time.Time, time.Time, error) {
	segments := itinerary.Get("segments").Array()
	if len(segments) == 0 {
		return time.Time{}, time.Time{}, errors.New("no segments")
	}
	dep, err := time.ParseInLocation(amadeusTimeLayout, segments[0].Get("departure.at").String(), depLoc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("departure time: %w", err)
	}
	arr, err := time.ParseInLocation(amadeusTimeLayout, segments[len(segments)-1].Get("arrival.at").String(), arrLoc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("arrival time: %w", err)
	}
	return dep, arr, nil
}

func locationOr(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
