package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Cycle(OutcomeOK, 2*time.Second)
	m.Cycle(OutcomeOK, time.Second)
	m.Cycle(OutcomeFailed, time.Second)
	m.Candidates(7)
	m.AlertSent()
	m.NotifyFailed()
	m.DayBest(decimal.RequireFromString("189.99"))
	m.Append(nil)
	m.Append(errors.New("disk full"))

	if got := testutil.ToFloat64(m.cycles.WithLabelValues(OutcomeOK)); got != 2 {
		t.Fatalf("ok cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues(OutcomeFailed)); got != 1 {
		t.Fatalf("failed cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.candidates); got != 7 {
		t.Fatalf("candidates = %v", got)
	}
	if got := testutil.ToFloat64(m.dayBest); got != 189.99 {
		t.Fatalf("day best = %v", got)
	}
	if got := testutil.ToFloat64(m.appends.WithLabelValues("error")); got != 1 {
		t.Fatalf("append errors = %v", got)
	}
	if n := testutil.CollectAndCount(m.cycleDuration); n != 1 {
		t.Fatalf("expected one histogram, got %d", n)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 7 {
		t.Fatalf("expected 7 metric families, got %d", len(families))
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Cycle(OutcomeOK, time.Second)
	m.Candidates(1)
	m.AlertSent()
	m.NotifyFailed()
	m.DayBest(decimal.NewFromInt(1))
	m.Append(nil)
}
