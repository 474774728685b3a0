package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/offers"
)

// RecordID identifies a persisted history row.
type RecordID int64

// HistoryRecord is one append-only observation of a day's best candidate.
// Leg times are zero when absent.
type HistoryRecord struct {
	ID                RecordID
	ObservedAt        time.Time
	PricePerPerson    decimal.Decimal
	TotalPrice        decimal.Decimal
	Currency          string
	Adults            int
	Origin            string
	Destination       string
	OutboundDeparture time.Time
	OutboundArrival   time.Time
	InboundDeparture  time.Time
	InboundArrival    time.Time
	GoogleFlightsURL  string
	SkyscannerURL     string
}

// RecordFromCandidate captures a candidate observed at the given instant.
func RecordFromCandidate(c offers.Candidate, observedAt time.Time) HistoryRecord {
	return HistoryRecord{
		ObservedAt:        observedAt,
		PricePerPerson:    c.PricePerPerson,
		TotalPrice:        c.TotalPrice,
		Currency:          c.Currency,
		Adults:            c.Adults,
		Origin:            c.Origin,
		Destination:       c.Destination,
		OutboundDeparture: c.OutboundDeparture,
		OutboundArrival:   c.OutboundArrival,
		InboundDeparture:  c.InboundDeparture,
		InboundArrival:    c.InboundArrival,
		GoogleFlightsURL:  c.GoogleFlightsURL,
		SkyscannerURL:     c.SkyscannerURL,
	}
}

// less orders records by price per person, then observation time, then id.
func less(a, b HistoryRecord) bool {
	if cmp := a.PricePerPerson.Cmp(b.PricePerPerson); cmp != 0 {
		return cmp < 0
	}
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.Before(b.ObservedAt)
	}
	return a.ID < b.ID
}
