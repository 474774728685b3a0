// Package decider turns each cycle's candidates into alerts and day-best updates.
package decider

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/offers"
)

// State is the day-scoped best price carried across search cycles.
type State struct {
	Day     calendar.Day
	Best    decimal.Decimal
	HasBest bool
}

// Result is the outcome of one evaluation.
type Result struct {
	// Alerts holds every candidate at or below the threshold, cheapest first.
	Alerts []offers.Candidate
	// DayBest is set when the cycle's cheapest candidate beats the day's best so far.
	DayBest *offers.Candidate
	// Rollover reports that this evaluation started a new calendar day.
	Rollover bool
}

// Decider owns the guarded day-best state. It performs no I/O.
type Decider struct {
	threshold decimal.Decimal
	loc       *time.Location

	mu    sync.Mutex
	state State
}

// New creates a decider with the given per-person threshold. Days roll over at midnight in loc.
func New(threshold decimal.Decimal, loc *time.Location) *Decider {
	if loc == nil {
		loc = time.UTC
	}
	return &Decider{threshold: threshold, loc: loc}
}

// Threshold returns the configured alert ceiling.
func (d *Decider) Threshold() decimal.Decimal {
	return d.threshold
}

// Seed primes the state for day, typically from the store's best of today at startup.
func (d *Decider) Seed(day calendar.Day, best decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = State{Day: day, Best: best, HasBest: true}
}

// Snapshot returns a copy of the current state.
func (d *Decider) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Evaluate decides alerts and the day-best update for one cycle observed at now.
// Candidates need not be sorted. Concurrent calls are serialised.
func (d *Decider) Evaluate(now time.Time, candidates []offers.Candidate) Result {
	today := calendar.DayOf(now, d.loc)

	d.mu.Lock()
	defer d.mu.Unlock()

	var res Result
	if d.state.Day != today {
		res.Rollover = !d.state.Day.IsZero()
		d.state = State{Day: today}
	}

	var cheapest *offers.Candidate
	for i := range candidates {
		c := candidates[i]
		if c.PricePerPerson.LessThanOrEqual(d.threshold) {
			res.Alerts = append(res.Alerts, c)
		}
		if cheapest == nil || lessCandidate(c, *cheapest) {
			cheapest = &candidates[i]
		}
	}
	sortCandidates(res.Alerts)

	if cheapest != nil && (!d.state.HasBest || cheapest.PricePerPerson.LessThan(d.state.Best)) {
		best := *cheapest
		res.DayBest = &best
		d.state.Best = best.PricePerPerson
		d.state.HasBest = true
	}
	return res
}

func lessCandidate(a, b offers.Candidate) bool {
	if cmp := a.PricePerPerson.Cmp(b.PricePerPerson); cmp != 0 {
		return cmp < 0
	}
	return a.OutboundDeparture.Before(b.OutboundDeparture)
}

func sortCandidates(cs []offers.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return lessCandidate(cs[i], cs[j]) })
}
