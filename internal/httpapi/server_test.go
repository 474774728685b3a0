package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type updateRecorder struct {
	got     chan tgbotapi.Update
	release chan struct{}
}

func (u *updateRecorder) HandleUpdate(ctx context.Context, update tgbotapi.Update) bool {
	u.got <- update
	if u.release != nil {
		select {
		case <-u.release:
		case <-ctx.Done():
		}
	}
	return true
}

func newTestRouter(t *testing.T, secret string) (*gin.Engine, *updateRecorder, *prometheus.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	rec := &updateRecorder{got: make(chan tgbotapi.Update, 4)}
	r := NewRouter(Options{
		Registry: reg,
		Webhook:  NewWebhook(context.Background(), rec, secret, time.Second, 2, zerolog.Nop()),
		Status:   func() map[string]any { return map[string]any{"day_best": "150.00"} },
	}, zerolog.Nop())
	return r, rec, reg
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz -> %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["day_best"] != "150.00" {
		t.Fatalf("unexpected body %v", body)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, reg := newTestRouter(t, "")
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "flightwatch_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics -> %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"flightwatch_test_total 1", `flightwatch_http_requests_total{method="GET",path="/healthz",status="200"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func webhookRequest(body string, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	return req
}

const sampleUpdate = `{"update_id":5,"message":{"message_id":1,"date":0,"text":"/help","chat":{"id":42,"type":"private"}}}`

func TestWebhookDispatchesUpdate(t *testing.T) {
	r, rec, _ := newTestRouter(t, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(sampleUpdate, "s3cret"))
	if w.Code != http.StatusOK {
		t.Fatalf("POST webhook -> %d", w.Code)
	}
	select {
	case upd := <-rec.got:
		if upd.UpdateID != 5 || upd.Message == nil || upd.Message.Text != "/help" || upd.Message.Chat.ID != 42 {
			t.Fatalf("unexpected update %+v", upd)
		}
	case <-time.After(time.Second):
		t.Fatal("update was not dispatched")
	}
}

func TestWebhookRejectsBadSecretAndBody(t *testing.T) {
	r, rec, _ := newTestRouter(t, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(sampleUpdate, "wrong"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest("{not json", "s3cret"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	select {
	case upd := <-rec.got:
		t.Fatalf("rejected requests must not dispatch, got %+v", upd)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhookWithoutSecretRejectsEverything(t *testing.T) {
	r, rec, _ := newTestRouter(t, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(sampleUpdate, ""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	select {
	case upd := <-rec.got:
		t.Fatalf("unauthenticated update dispatched: %+v", upd)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhookBoundsInFlightAndFollowsParentContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	rec := &updateRecorder{got: make(chan tgbotapi.Update, 4), release: make(chan struct{})}
	hook := NewWebhook(ctx, rec, "s3cret", time.Minute, 1, zerolog.Nop())
	r := NewRouter(Options{Webhook: hook}, zerolog.Nop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(sampleUpdate, "s3cret"))
	if w.Code != http.StatusOK {
		t.Fatalf("first update -> %d", w.Code)
	}
	<-rec.got

	w = httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(sampleUpdate, "s3cret"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second update while busy -> %d, want 503", w.Code)
	}

	cancel()
	waited := make(chan struct{})
	go func() {
		hook.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("handler did not stop with its parent context")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(sampleUpdate, "s3cret"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("update after shutdown -> %d, want 503", w.Code)
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", http.NewServeMux(), time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
