// Package metrics holds the Prometheus collectors of the search pipeline.
//
// Labels are kept to bounded sets: cycle outcome is one of ok, empty, failed, skipped
// and history append result is ok or error.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Cycle outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	candidates     prometheus.Gauge
	alertsSent     prometheus.Counter
	notifyFailures prometheus.Counter
	dayBest        prometheus.Gauge
	appends        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightwatch_search_cycles_total",
			Help: "Search cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flightwatch_search_cycle_duration_seconds",
			Help:    "Wall time of a search cycle.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flightwatch_candidates",
			Help: "Candidates that passed the time windows in the last cycle.",
		}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flightwatch_alerts_sent_total",
			Help: "Threshold alerts delivered.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flightwatch_notifications_failed_total",
			Help: "Messages that could not be delivered.",
		}),
		dayBest: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flightwatch_day_best_price_per_person",
			Help: "Lowest price per person seen today.",
		}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flightwatch_history_appends_total",
			Help: "History appends by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.candidates, m.alertsSent, m.notifyFailures, m.dayBest, m.appends)
	}
	return m
}

// Cycle records a finished search cycle.
func (m *Metrics) Cycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.cycleDuration.Observe(took.Seconds())
	}
}

// Candidates records the candidate count of the last cycle.
func (m *Metrics) Candidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Set(float64(n))
}

// AlertSent counts a delivered alert.
func (m *Metrics) AlertSent() {
	if m == nil {
		return
	}
	m.alertsSent.Inc()
}

// NotifyFailed counts an undelivered message.
func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// DayBest publishes the day's best price per person.
func (m *Metrics) DayBest(price decimal.Decimal) {
	if m == nil {
		return
	}
	m.dayBest.Set(price.InexactFloat64())
}

// Append counts a history append.
func (m *Metrics) Append(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.appends.WithLabelValues(result).Inc()
}
