// Package offers normalises flight offers and narrows them to alertable candidates.
package offers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one priced round-trip itinerary as returned by the search provider.
// Leg timestamps carry the location of the airport they depart from or arrive at.
// InboundDeparture and InboundArrival are zero for one-way offers.
type Offer struct {
	ID                string
	Origin            string
	Destination       string
	Carriers          []string
	OutboundDeparture time.Time
	OutboundArrival   time.Time
	InboundDeparture  time.Time
	InboundArrival    time.Time
	TotalPrice        decimal.Decimal
	Currency          string
	Adults            int
}

// HasInbound reports whether the offer includes a return leg.
func (o Offer) HasInbound() bool {
	return !o.InboundDeparture.IsZero()
}

// PricePerPerson divides the total price by the passenger count, rounded to cents.
func (o Offer) PricePerPerson() (decimal.Decimal, error) {
	if o.Adults <= 0 {
		return decimal.Decimal{}, &MalformedOfferError{OfferID: o.ID, Reason: fmt.Sprintf("passenger count %d", o.Adults)}
	}
	if !o.TotalPrice.IsPositive() {
		return decimal.Decimal{}, &MalformedOfferError{OfferID: o.ID, Reason: fmt.Sprintf("non-positive price %s", o.TotalPrice.String())}
	}
	return o.TotalPrice.Div(decimal.NewFromInt(int64(o.Adults))).Round(2), nil
}

// Candidate is an offer that passed the time-window filter.
type Candidate struct {
	Offer
	PricePerPerson   decimal.Decimal
	GoogleFlightsURL string
	SkyscannerURL    string
}

// MalformedOfferError reports an offer that cannot be normalised.
type MalformedOfferError struct {
	OfferID string
	Reason  string
}

func (e *MalformedOfferError) Error() string {
	if e.OfferID == "" {
		return "malformed offer: " + e.Reason
	}
	return fmt.Sprintf("malformed offer %s: %s", e.OfferID, e.Reason)
}
