package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"flight-price-alerts/internal/calendar"
)

// Memory keeps history in process memory. Used when no database is configured and in tests.
type Memory struct {
	mu      sync.RWMutex
	loc     *time.Location
	records []HistoryRecord
	nextID  RecordID
}

// NewMemory creates an empty in-memory store.
func NewMemory(loc *time.Location) *Memory {
	if loc == nil {
		loc = time.UTC
	}
	return &Memory{loc: loc}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Append(ctx context.Context, rec HistoryRecord) (RecordID, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrap("append", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *Memory) BestOfDay(ctx context.Context, day calendar.Day) (*HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("best of day", err)
	}
	start, end := day.Bounds(m.loc)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *HistoryRecord
	for i := range m.records {
		rec := m.records[i]
		if rec.ObservedAt.Before(start) || !rec.ObservedAt.Before(end) {
			continue
		}
		if best == nil || less(rec, *best) {
			cp := rec
			best = &cp
		}
	}
	return best, nil
}

func (m *Memory) TopN(ctx context.Context, n int) ([]HistoryRecord, error) {
	if n <= 0 {
		return nil, wrap("top n", ErrInvalidLimit)
	}
	if err := ctx.Err(); err != nil {
		return nil, wrap("top n", err)
	}
	m.mu.RLock()
	sorted := make([]HistoryRecord, len(m.records))
	copy(sorted, m.records)
	m.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted, nil
}

func (m *Memory) ListBetween(ctx context.Context, from, to time.Time) ([]HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("list between", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HistoryRecord, 0)
	for _, rec := range m.records {
		if rec.ObservedAt.Before(from) || !rec.ObservedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

var _ Backend = (*Memory)(nil)
