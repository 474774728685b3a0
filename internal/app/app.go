package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/bot"
	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/decider"
	"flight-price-alerts/internal/dedup"
	"flight-price-alerts/internal/events"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/httpapi"
	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/metrics"
	"flight-price-alerts/internal/offers"
	"flight-price-alerts/internal/scheduler"
	"flight-price-alerts/internal/service"
	"flight-price-alerts/internal/storage"
	"flight-price-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// runtime holds everything a search cycle needs. close releases it in reverse order.
type runtime struct {
	svc       *service.Service
	store     storage.Backend
	notifier  alerting.Notifier
	telegram  *alerting.TelegramNotifier
	decider   *decider.Decider
	registry  *prometheus.Registry
	closers   []func()
	location  *time.Location
	threshold string
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) searchRequest() (fetcher.SearchRequest, error) {
	dates, err := a.Config.SearchDates()
	if err != nil {
		return fetcher.SearchRequest{}, err
	}
	return fetcher.SearchRequest{
		Origin:        a.Config.Search.Origin,
		Destination:   a.Config.Search.Destination,
		DepartureFrom: dates.DepartureFrom,
		DepartureTo:   dates.DepartureTo,
		ReturnFrom:    dates.ReturnFrom,
		ReturnTo:      dates.ReturnTo,
		Adults:        a.Config.Search.Adults,
		Currency:      a.Config.Search.Currency,
		Max:           a.Config.Search.MaxResults,
	}, nil
}

func (a *App) newSearcher() (*fetcher.Amadeus, error) {
	outLoc, inLoc, err := a.Config.Windows.Locations()
	if err != nil {
		return nil, err
	}
	ua := a.Config.Amadeus.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.NewAmadeus(fetcher.AmadeusOptions{
		BaseURL:          a.Config.Amadeus.BaseURL,
		ClientID:         a.Config.Amadeus.ClientID,
		ClientSecret:     a.Config.Amadeus.ClientSecret,
		Timeout:          a.Config.Search.RequestTimeout,
		UserAgent:        ua,
		MaxDatePairs:     a.Config.Search.MaxDatePairs,
		OutboundLocation: outLoc,
		InboundLocation:  inLoc,
	}, a.Logger), nil
}

func (a *App) newTelegram() *alerting.TelegramNotifier {
	cfg := a.Config.Telegram
	if !cfg.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:   cfg.BotToken,
		ChatID:     cfg.ChatID,
		BaseURL:    cfg.APIBase,
		Timeout:    10 * time.Second,
		RatePerSec: cfg.RatePerSec,
	}, a.Logger)
}

func (a *App) newDedup() (dedup.Policy, func(), error) {
	cfg := a.Config.Alerting
	switch cfg.Dedup {
	case "memory":
		return dedup.NewMemory(cfg.DedupWindow), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		closer := func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close redis client")
			}
		}
		return dedup.NewRedis(client, a.Config.Redis.KeyPrefix, cfg.DedupWindow), closer, nil
	default:
		return dedup.None{}, nil, nil
	}
}

func (a *App) newPublisher() (events.Publisher, error) {
	if !a.Config.Kafka.Enabled {
		return events.Nop{}, nil
	}
	publisher, err := events.NewKafkaPublisher(a.Config.Kafka.Brokers, a.Config.Kafka.Topic, a.Config.Kafka.ClientID, a.Logger)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	loc, err := a.Config.ReportLocation()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, a.Config.Database, loc, a.Logger)
}

// build wires the search service. Without Telegram, notifications go to the log.
func (a *App) build(ctx context.Context) (*runtime, error) {
	rt := &runtime{registry: prometheus.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			rt.close()
		}
	}()

	loc, err := a.Config.ReportLocation()
	if err != nil {
		return nil, err
	}
	rt.location = loc

	outbound, inbound, err := a.Config.Windows.Parse()
	if err != nil {
		return nil, err
	}
	req, err := a.searchRequest()
	if err != nil {
		return nil, err
	}
	searcher, err := a.newSearcher()
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close history store")
		}
	})

	policy, closeDedup, err := a.newDedup()
	if err != nil {
		return nil, err
	}
	if closeDedup != nil {
		rt.closers = append(rt.closers, closeDedup)
	}

	publisher, err := a.newPublisher()
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close event publisher")
		}
	})

	rt.telegram = a.newTelegram()
	if rt.telegram != nil {
		rt.notifier = rt.telegram
	} else {
		a.Logger.Warn().Msg("telegram disabled; notifications are logged only")
		rt.notifier = logNotifier{logger: a.Logger}
	}

	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(rt.registry)

	rt.decider = decider.New(a.Config.Alerting.ThresholdPerPerson, loc)
	rt.threshold = a.Config.Alerting.ThresholdPerPerson.StringFixed(2)

	rt.svc = service.New(service.Deps{
		Searcher:      searcher,
		Request:       req,
		Outbound:      outbound,
		Inbound:       inbound,
		Links:         offers.DeepLinks(a.Config.Telegram.LinkLocale),
		Decider:       rt.decider,
		Store:         store,
		Notifier:      rt.notifier,
		Dedup:         policy,
		Publisher:     publisher,
		Metrics:       m,
		Location:      loc,
		NotifyDayBest: a.Config.Alerting.NotifyDayBest,
		NotifyErrors:  a.Config.Alerting.NotifyErrors,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	ok = true
	return rt, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.svc.Prime(ctx); err != nil {
		// a fresh day state is still correct, just noisier
		a.Logger.Warn().Err(err).Msg("could not restore today's best price")
	}

	interval := scheduler.NewInterval(scheduler.Options{
		Interval:     a.Config.Search.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	var daily *scheduler.Daily
	if a.Config.Report.Enabled {
		tod, err := a.Config.DailyReportTime()
		if err != nil {
			return err
		}
		clock := time.Duration(tod)
		daily, err = scheduler.NewDaily(int(clock/time.Hour), int(clock%time.Hour/time.Minute), rt.location, a.Logger)
		if err != nil {
			return err
		}
	}

	var dispatcher *bot.Dispatcher
	if rt.telegram != nil && a.Config.Telegram.Mode != "off" {
		chatID, err := a.Config.Telegram.ChatIDInt()
		if err != nil {
			return err
		}
		router := bot.NewRouter(rt.svc, rt.store, a.Logger)
		dispatcher = bot.NewDispatcher(router, rt.telegram, chatID, a.Logger)
	}

	// Nothing below returns before g.Wait, so no loop outlives rt.close.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return interval.Run(gctx, rt.svc.Tick) })

	if daily != nil {
		g.Go(func() error { return daily.Run(gctx, rt.svc.RunDailyReport) })
	}

	if dispatcher != nil && a.Config.Telegram.Mode == "poll" {
		poller := bot.NewPoller(a.Config.Telegram.BotToken, a.Config.Telegram.APIBase, dispatcher, a.Config.Telegram.PollTimeout, a.Logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	if a.Config.HTTP.Enabled {
		opts := httpapi.Options{
			Registry: rt.registry,
			Status:   rt.status,
		}
		if dispatcher != nil && a.Config.Telegram.Mode == "webhook" {
			opts.Webhook = httpapi.NewWebhook(gctx, dispatcher, a.Config.Telegram.WebhookSecret, 2*a.Config.Search.RequestTimeout, 4, a.Logger)
		}
		server := httpapi.NewServer(a.Config.HTTP.Addr, httpapi.NewRouter(opts, a.Logger), a.Config.HTTP.ShutdownTimeout, a.Logger)
		g.Go(func() error {
			err := server.Run(gctx)
			if opts.Webhook != nil {
				opts.Webhook.Wait()
			}
			return err
		})
	}

	a.Logger.Info().
		Str("route", a.Config.Search.Origin+"-"+a.Config.Search.Destination).
		Dur("interval", a.Config.Search.Interval).
		Str("threshold", rt.threshold).
		Str("version", version.String()).
		Msg("starting flight price watcher")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("flight price watcher stopped")
	return nil
}

func (r *runtime) status() map[string]any {
	state := r.decider.Snapshot()
	out := map[string]any{"threshold_per_person": r.threshold, "version": version.Version}
	if !state.Day.IsZero() {
		out["day"] = state.Day.String()
	}
	if state.HasBest {
		out["day_best_per_person"] = state.Best.StringFixed(2)
	}
	return out
}

// logNotifier stands in for Telegram when it is disabled.
type logNotifier struct {
	logger zerolog.Logger
}

func (n logNotifier) Notify(_ context.Context, text string) error {
	n.logger.Info().Str("message", text).Msg("notification")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
}

// SearchOptions configure the one-shot search command.
type SearchOptions struct {
	DryRun bool
}
