package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/decider"
	"flight-price-alerts/internal/dedup"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/offers"
	"flight-price-alerts/internal/storage"
	"flight-price-alerts/internal/transport"
)

var athens = time.FixedZone("EET", 2*3600)

type fakeSearcher struct {
	offers []offers.Offer
	err    error
	calls  int
}

func (f *fakeSearcher) SearchOffers(ctx context.Context, req fetcher.SearchRequest) ([]offers.Offer, error) {
	f.calls++
	return f.offers, f.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) count(prefix string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.texts {
		if strings.HasPrefix(t, prefix) {
			c++
		}
	}
	return c
}

type failingStore struct {
	*storage.Memory
}

func (failingStore) Append(context.Context, storage.HistoryRecord) (storage.RecordID, error) {
	return 0, &storage.Error{Op: "append", Err: errors.New("disk full")}
}

type fakeLocker struct {
	*storage.Memory
	acquired bool
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, f.acquired, nil
}

func offer(id, total string, depHour int) offers.Offer {
	return offers.Offer{
		ID:                id,
		Origin:            "ATH",
		Destination:       "BCN",
		OutboundDeparture: time.Date(2026, 4, 28, depHour, 0, 0, 0, athens),
		InboundDeparture:  time.Date(2026, 5, 5, 18, 0, 0, 0, athens),
		TotalPrice:        decimal.RequireFromString(total),
		Currency:          "EUR",
		Adults:            2,
	}
}

type fixture struct {
	svc      *Service
	searcher *fakeSearcher
	notifier *recordingNotifier
	store    storage.HistoryStore
	clock    *time.Time
}

func newFixture(t *testing.T, store storage.HistoryStore, mutate func(*Deps)) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, athens)
	f := &fixture{
		searcher: &fakeSearcher{},
		notifier: &recordingNotifier{},
		store:    store,
		clock:    &now,
	}
	deps := Deps{
		Searcher:      f.searcher,
		Decider:       decider.New(decimal.NewFromInt(200), athens),
		Store:         store,
		Notifier:      f.notifier,
		Location:      athens,
		NotifyDayBest: true,
		Now:           func() time.Time { return *f.clock },
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc = New(deps, zerolog.Nop())
	return f
}

func TestZeroCandidatesIsQuiet(t *testing.T) {
	store := storage.NewMemory(athens)
	f := newFixture(t, store, func(d *Deps) {
		w, _ := offers.ParseWindow("06:00", "07:00", athens)
		d.Outbound = w
	})
	f.searcher.offers = []offers.Offer{offer("late", "300", 20)}

	report, err := f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("run search: %v", err)
	}
	if len(report.Candidates) != 0 || report.DayBest != nil {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if len(f.notifier.texts) != 0 {
		t.Fatalf("expected no notifications, got %v", f.notifier.texts)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatalf("expected no history, got %d", n)
	}
}

func TestAlertsAndDayBest(t *testing.T) {
	store := storage.NewMemory(athens)
	f := newFixture(t, store, nil)
	f.searcher.offers = []offers.Offer{
		offer("a", "399.98", 8), // 199.99
		offer("b", "400.00", 9), // 200.00
		offer("c", "400.02", 7), // 200.01
		{ID: "bad", Origin: "ATH", Destination: "BCN", OutboundDeparture: time.Now(), TotalPrice: decimal.NewFromInt(100), Adults: 0},
	}

	report, err := f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("run search: %v", err)
	}
	if report.Malformed != 1 {
		t.Fatalf("expected 1 malformed offer, got %d", report.Malformed)
	}
	if len(report.Alerts) != 2 || f.notifier.count("🔥") != 2 {
		t.Fatalf("expected 2 alerts, got %d (%v)", len(report.Alerts), f.notifier.texts)
	}
	if report.DayBest == nil || report.DayBest.ID != "a" {
		t.Fatalf("expected offer a as day best, got %+v", report.DayBest)
	}
	if report.RecordID == 0 || f.notifier.count("✈️") != 1 {
		t.Fatalf("day best must be recorded and announced: %+v", report)
	}

	best, err := store.BestOfDay(context.Background(), calendar.DayOf(*f.clock, athens))
	if err != nil || best == nil {
		t.Fatalf("best of day: %v %v", best, err)
	}
	if !best.PricePerPerson.Equal(decimal.RequireFromString("199.99")) || !best.ObservedAt.Equal(*f.clock) {
		t.Fatalf("unexpected stored record %+v", best)
	}
	if best.GoogleFlightsURL == "" || best.SkyscannerURL == "" {
		t.Fatal("deep links must be persisted")
	}

	// same prices an hour later: alerts repeat, day best does not
	*f.clock = f.clock.Add(time.Hour)
	report, err = f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.DayBest != nil {
		t.Fatal("unchanged price must not update day best")
	}
	if len(report.Alerts) != 2 {
		t.Fatalf("without dedup every qualifying candidate alerts, got %d", len(report.Alerts))
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Fatalf("expected one history row, got %d", n)
	}
}

func TestDedupPolicySuppressesRepeats(t *testing.T) {
	f := newFixture(t, storage.NewMemory(athens), func(d *Deps) {
		d.Dedup = dedup.NewMemory(6 * time.Hour)
	})
	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}

	if r, _ := f.svc.RunSearch(context.Background()); len(r.Alerts) != 1 {
		t.Fatalf("first alert must pass, got %d", len(r.Alerts))
	}
	*f.clock = f.clock.Add(time.Hour)
	r, _ := f.svc.RunSearch(context.Background())
	if len(r.Alerts) != 0 || r.Suppressed != 1 {
		t.Fatalf("expected suppressed repeat, got %+v", r)
	}
}

func TestStorageErrorStillNotifies(t *testing.T) {
	f := newFixture(t, failingStore{storage.NewMemory(athens)}, nil)
	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}

	report, err := f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("storage failure must not fail the cycle: %v", err)
	}
	var sErr *storage.Error
	if !errors.As(report.StorageErr, &sErr) {
		t.Fatalf("expected storage error in report, got %v", report.StorageErr)
	}
	if f.notifier.count("🔥") != 1 || f.notifier.count("✈️") != 1 {
		t.Fatalf("notifications must still go out: %v", f.notifier.texts)
	}
}

func TestTransportErrorAbortsCycle(t *testing.T) {
	store := storage.NewMemory(athens)
	f := newFixture(t, store, func(d *Deps) { d.NotifyErrors = true })
	f.searcher.err = transport.Status("amadeus", "search", 503, "unavailable")

	_, err := f.svc.RunSearch(context.Background())
	if !transport.Is(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if f.notifier.count("⚠️") != 1 {
		t.Fatalf("operator must be told: %v", f.notifier.texts)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatal("aborted cycle must not write history")
	}

	f.searcher.err = nil
	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}
	if _, err := f.svc.RunSearch(context.Background()); err != nil {
		t.Fatalf("next cycle must run normally: %v", err)
	}
}

func TestNotificationFailureDoesNotFailCycle(t *testing.T) {
	f := newFixture(t, storage.NewMemory(athens), nil)
	f.notifier.err = transport.Status("telegram", "sendMessage", 500, "")
	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}

	report, err := f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("run search: %v", err)
	}
	if len(report.Alerts) != 0 {
		t.Fatal("undelivered alerts must not be reported as sent")
	}
	if report.RecordID == 0 {
		t.Fatal("day best must still be recorded")
	}
}

func TestPrimeSeedsDecider(t *testing.T) {
	store := storage.NewMemory(athens)
	f := newFixture(t, store, nil)
	rec := storage.HistoryRecord{ObservedAt: f.clock.Add(-2 * time.Hour), PricePerPerson: decimal.NewFromInt(100), Currency: "EUR"}
	if _, err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.svc.Prime(context.Background()); err != nil {
		t.Fatalf("prime: %v", err)
	}

	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}
	report, err := f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("run search: %v", err)
	}
	if report.DayBest != nil {
		t.Fatal("price above the restored best must not update the day best")
	}
}

func TestDailyReport(t *testing.T) {
	store := storage.NewMemory(athens)
	f := newFixture(t, store, nil)

	if err := f.svc.RunDailyReport(context.Background()); err != nil {
		t.Fatalf("daily report: %v", err)
	}
	if !strings.Contains(f.notifier.texts[0], "no offers found") {
		t.Fatalf("unexpected empty summary %q", f.notifier.texts[0])
	}

	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}
	if _, err := f.svc.RunSearch(context.Background()); err != nil {
		t.Fatalf("run search: %v", err)
	}
	if err := f.svc.RunDailyReport(context.Background()); err != nil {
		t.Fatalf("daily report: %v", err)
	}
	last := f.notifier.texts[len(f.notifier.texts)-1]
	if !strings.Contains(last, "150.00 EUR/person") {
		t.Fatalf("unexpected summary %q", last)
	}
}

func TestAdvisoryLockHeldElsewhereSkips(t *testing.T) {
	store := &fakeLocker{Memory: storage.NewMemory(athens)}
	f := newFixture(t, store, func(d *Deps) { d.LockKey = 42 })
	f.searcher.offers = []offers.Offer{offer("a", "300", 8)}

	report, err := f.svc.RunSearch(context.Background())
	if err != nil {
		t.Fatalf("run search: %v", err)
	}
	if !report.Skipped || f.searcher.calls != 0 {
		t.Fatalf("expected skipped cycle, got %+v (calls %d)", report, f.searcher.calls)
	}

	store.acquired = true
	if report, _ = f.svc.RunSearch(context.Background()); report.Skipped {
		t.Fatal("cycle must run once the lock is acquired")
	}
}

func TestTriggerOutcome(t *testing.T) {
	f := newFixture(t, storage.NewMemory(athens), nil)
	if out := f.svc.Trigger(context.Background()); out.Candidates != 0 || out.Best != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	f.searcher.offers = []offers.Offer{offer("b", "500", 9), offer("a", "300", 8)}
	out := f.svc.Trigger(context.Background())
	if out.Candidates != 2 || out.Best == nil || out.Best.ID != "a" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}
