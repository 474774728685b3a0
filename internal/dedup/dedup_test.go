package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/offers"
)

func sample(price string) offers.Candidate {
	return offers.Candidate{
		Offer: offers.Offer{
			Origin:            "ATH",
			Destination:       "BCN",
			OutboundDeparture: time.Date(2026, 4, 28, 7, 0, 0, 0, time.UTC),
			InboundDeparture:  time.Date(2026, 5, 5, 18, 0, 0, 0, time.UTC),
			Currency:          "EUR",
		},
		PricePerPerson: decimal.RequireFromString(price),
	}
}

func TestKeyDistinguishesPrice(t *testing.T) {
	if Key(sample("150")) != Key(sample("150.00")) {
		t.Fatal("equal prices must map to the same key")
	}
	if Key(sample("150.00")) == Key(sample("149.99")) {
		t.Fatal("different prices must map to different keys")
	}
}

func TestNoneAllowsEverything(t *testing.T) {
	for i := 0; i < 3; i++ {
		ok, err := None{}.Allow(context.Background(), "k", time.Now())
		if !ok || err != nil {
			t.Fatalf("none must allow, got %v %v", ok, err)
		}
	}
}

func TestMemorySuppressesWithinWindow(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if ok, _ := m.Allow(ctx, "a", start); !ok {
		t.Fatal("first alert must pass")
	}
	if ok, _ := m.Allow(ctx, "a", start.Add(30*time.Minute)); ok {
		t.Fatal("repeat within window must be suppressed")
	}
	if ok, _ := m.Allow(ctx, "b", start.Add(30*time.Minute)); !ok {
		t.Fatal("other keys are independent")
	}
	if ok, _ := m.Allow(ctx, "a", start.Add(time.Hour)); !ok {
		t.Fatal("alert must pass again once the window elapsed")
	}
}

type fakeRedis struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisUsesPrefixAndWindow(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	r := &Redis{client: fake, prefix: "fw:", window: 6 * time.Hour}
	ctx := context.Background()

	if ok, err := r.Allow(ctx, "k", time.Now()); !ok || err != nil {
		t.Fatalf("first alert: %v %v", ok, err)
	}
	if ok, _ := r.Allow(ctx, "k", time.Now()); ok {
		t.Fatal("second alert must be suppressed")
	}
	if fake.keys["fw:k"] != 6*time.Hour {
		t.Fatalf("expected prefixed key with 6h expiry, got %v", fake.keys)
	}
}

func TestRedisFailsOpen(t *testing.T) {
	r := &Redis{client: &fakeRedis{err: errors.New("connection refused")}, prefix: "fw:", window: time.Hour}
	ok, err := r.Allow(context.Background(), "k", time.Now())
	if !ok {
		t.Fatal("redis errors must let the alert through")
	}
	if err == nil {
		t.Fatal("expected the error to be reported")
	}
}
