// Package httpapi serves health, metrics and the Telegram webhook over Gin.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBody  = 1 << 20
)

// UpdateHandler consumes a Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) bool
}

// StatusFunc reports service state for /healthz.
type StatusFunc func() map[string]any

// Options wires the router.
type Options struct {
	Registry *prometheus.Registry
	Webhook  *Webhook
	Status   StatusFunc
}

// NewRouter builds the Gin engine.
func NewRouter(opts Options, logger zerolog.Logger) *gin.Engine {
	logger = logger.With().Str("component", "http").Logger()
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestID(), accessLog(logger), gin.Recovery())

	if opts.Registry != nil {
		r.Use(requestMetrics(opts.Registry))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if opts.Status != nil {
			for k, v := range opts.Status() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	if opts.Webhook != nil {
		r.POST("/telegram/webhook", opts.Webhook.Handle)
	}
	return r
}

// Webhook accepts Telegram updates and handles them in the background, so a slow
// search never makes Telegram redeliver. Handlers run under the context given to
// NewWebhook and at most maxInFlight run at once; excess updates get 503 and are
// redelivered by Telegram.
type Webhook struct {
	ctx     context.Context
	handler UpdateHandler
	secret  string
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// NewWebhook builds a Webhook. An empty secret rejects every request.
func NewWebhook(ctx context.Context, handler UpdateHandler, secret string, timeout time.Duration, maxInFlight int, logger zerolog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &Webhook{
		ctx:     ctx,
		handler: handler,
		secret:  secret,
		timeout: timeout,
		slots:   make(chan struct{}, maxInFlight),
		logger:  logger.With().Str("component", "webhook").Logger(),
	}
}

// Handle is the gin handler for POST /telegram/webhook.
func (w *Webhook) Handle(c *gin.Context) {
	if w.secret == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader(secretHeader)), []byte(w.secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}

	if w.ctx.Err() != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	select {
	case w.slots <- struct{}{}:
	default:
		w.logger.Warn().Int("update_id", update.UpdateID).Msg("webhook busy; update left for redelivery")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy"})
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
		defer cancel()
		w.handler.HandleUpdate(ctx, update)
	}()
	w.logger.Debug().Int("update_id", update.UpdateID).Msg("webhook update accepted")
	c.Status(http.StatusOK)
}

// Wait blocks until every accepted update has been handled.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("requestID", rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Debug()
		switch {
		case status >= 500:
			ev = logger.Error()
		case status >= 400:
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("requestID")).
			Msg("http request")
	}
}

func requestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flightwatch_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})
	lat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flightwatch_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
	for _, c := range []prometheus.Collector{reqs, lat} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := routePath(c)
		reqs.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		lat.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// routePath keeps label cardinality bounded by preferring the registered route.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// Server runs the router until its context is cancelled.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration, logger zerolog.Logger) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With().Str("component", "http").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
