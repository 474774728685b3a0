// Package dedup decides whether an alert for the same offer was already sent recently.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"flight-price-alerts/internal/offers"
)

// Policy gates repeated alerts across search cycles.
type Policy interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// Key identifies an alert by route, leg departures and price per person.
func Key(c offers.Candidate) string {
	var b strings.Builder
	b.WriteString(c.Origin)
	b.WriteByte('-')
	b.WriteString(c.Destination)
	b.WriteByte('|')
	b.WriteString(c.OutboundDeparture.UTC().Format(time.RFC3339))
	b.WriteByte('|')
	if c.HasInbound() {
		b.WriteString(c.InboundDeparture.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	b.WriteString(c.PricePerPerson.StringFixed(2))
	b.WriteByte('|')
	b.WriteString(c.Currency)
	return b.String()
}

// None lets every alert through.
type None struct{}

func (None) Allow(context.Context, string, time.Time) (bool, error) { return true, nil }

// Memory suppresses a key for window after it was first allowed. State is per process.
type Memory struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemory creates an in-process policy.
func NewMemory(window time.Duration) *Memory {
	return &Memory{window: window, seen: make(map[string]time.Time)}
}

func (m *Memory) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, at := range m.seen {
		if now.Sub(at) >= m.window {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Redis shares suppression state across replicas with SET NX PX.
type Redis struct {
	client setNXer
	prefix string
	window time.Duration
}

// NewRedis wraps a go-redis client.
func NewRedis(client *redis.Client, prefix string, window time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, window: window}
}

func (r *Redis) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, now.UTC().Format(time.RFC3339), r.window).Result()
	if err != nil {
		return true, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
