package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/decider"
	"flight-price-alerts/internal/dedup"
	"flight-price-alerts/internal/events"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/metrics"
	"flight-price-alerts/internal/offers"
	"flight-price-alerts/internal/storage"
)

// Deps wires the collaborators of a Service. Optional fields may be left nil.
type Deps struct {
	Searcher  fetcher.OfferSearcher
	Request   fetcher.SearchRequest
	Outbound  offers.Window
	Inbound   offers.Window
	Links     offers.LinkFunc
	Decider   *decider.Decider
	Store     storage.HistoryStore
	Notifier  alerting.Notifier
	Dedup     dedup.Policy
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Location  *time.Location

	NotifyDayBest bool
	NotifyErrors  bool
	LockKey       int64
	Now           func() time.Time
}

// Service runs search cycles and daily reports.
type Service struct {
	deps    Deps
	locker  storage.AdvisoryLocker
	logger  zerolog.Logger
	cycleMu chan struct{}
}

// Report describes one search cycle.
type Report struct {
	CycleID    string
	StartedAt  time.Time
	Skipped    bool
	Offers     int
	Malformed  int
	Candidates []offers.Candidate
	Alerts     []offers.Candidate
	Suppressed int
	DayBest    *offers.Candidate
	RecordID   storage.RecordID
	StorageErr error
}

// Outcome converts the report for command replies.
func (r Report) Outcome(err error) alerting.SearchOutcome {
	out := alerting.SearchOutcome{Candidates: len(r.Candidates), Alerts: len(r.Alerts), Err: err}
	if len(r.Candidates) > 0 {
		best := r.Candidates[0]
		out.Best = &best
	}
	return out
}

// New constructs the search service.
func New(deps Deps, logger zerolog.Logger) *Service {
	if deps.Dedup == nil {
		deps.Dedup = dedup.None{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Links == nil {
		deps.Links = offers.DeepLinks("")
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		deps:    deps,
		locker:  locker,
		logger:  logger.With().Str("component", "service").Logger(),
		cycleMu: make(chan struct{}, 1),
	}
}

// Prime seeds the decider with the best price already stored for today.
func (s *Service) Prime(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	today := calendar.DayOf(s.deps.Now(), s.deps.Location)
	rec, err := s.deps.Store.BestOfDay(ctx, today)
	if err != nil {
		return fmt.Errorf("load best of %s: %w", today, err)
	}
	if rec == nil {
		s.logger.Info().Str("day", today.String()).Msg("no prices recorded today yet")
		return nil
	}
	s.deps.Decider.Seed(today, rec.PricePerPerson)
	s.deps.Metrics.DayBest(rec.PricePerPerson)
	s.logger.Info().Str("day", today.String()).Str("best", rec.PricePerPerson.StringFixed(2)).Msg("day best restored")
	return nil
}

// Tick adapts RunSearch to the interval scheduler.
func (s *Service) Tick(ctx context.Context, _ time.Time) error {
	_, err := s.RunSearch(ctx)
	return err
}

// Trigger runs an on-demand search and summarises it for a command reply.
func (s *Service) Trigger(ctx context.Context) alerting.SearchOutcome {
	report, err := s.RunSearch(ctx)
	return report.Outcome(err)
}

// RunSearch 执行一次完整的搜索轮询：拉取、过滤、判定、告警、落库。
// Cycles are serialised within the process; an advisory lock serialises them across replicas.
func (s *Service) RunSearch(ctx context.Context) (Report, error) {
	started := s.deps.Now()
	report := Report{CycleID: uuid.NewString(), StartedAt: started}
	logger := s.logger.With().Str("cycle_id", report.CycleID).Logger()

	select {
	case s.cycleMu <- struct{}{}:
		defer func() { <-s.cycleMu }()
	case <-ctx.Done():
		return report, ctx.Err()
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.deps.Metrics.Cycle(metrics.OutcomeFailed, time.Since(started))
		return report, err
	}
	if !proceed {
		logger.Debug().Msg("advisory lock 被其他实例持有，跳过本轮")
		report.Skipped = true
		s.deps.Metrics.Cycle(metrics.OutcomeSkipped, 0)
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	raw, err := s.deps.Searcher.SearchOffers(ctx, s.deps.Request)
	if err != nil {
		s.deps.Metrics.Cycle(metrics.OutcomeFailed, time.Since(started))
		s.reportFailure(ctx, logger, err)
		return report, fmt.Errorf("search offers: %w", err)
	}
	report.Offers = len(raw)

	candidates, ferr := offers.Filter(raw, s.deps.Outbound, s.deps.Inbound, s.deps.Links)
	report.Malformed = logMalformed(logger, ferr)
	report.Candidates = candidates
	s.deps.Metrics.Candidates(len(candidates))

	now := s.deps.Now()
	result := s.deps.Decider.Evaluate(now, candidates)
	if result.Rollover {
		logger.Info().Str("day", calendar.DayOf(now, s.deps.Location).String()).Msg("day rolled over")
	}

	if len(candidates) == 0 {
		logger.Info().Int("offers", report.Offers).Msg("no candidates matched the time windows")
		s.deps.Metrics.Cycle(metrics.OutcomeEmpty, time.Since(started))
		return report, nil
	}

	for _, c := range result.Alerts {
		allowed, err := s.deps.Dedup.Allow(ctx, dedup.Key(c), now)
		if err != nil {
			logger.Warn().Err(err).Msg("dedup policy failed; sending alert")
		}
		if !allowed {
			report.Suppressed++
			continue
		}
		text := alerting.FormatAlert(c, s.deps.Decider.Threshold())
		if !s.notify(ctx, logger, text) {
			continue
		}
		s.deps.Metrics.AlertSent()
		report.Alerts = append(report.Alerts, c)
		s.publish(ctx, logger, events.FromCandidate(events.KindAlert, report.CycleID, now, c))
	}

	if best := result.DayBest; best != nil {
		report.DayBest = best
		s.deps.Metrics.DayBest(best.PricePerPerson)
		s.recordDayBest(ctx, logger, &report, now)
		if s.deps.NotifyDayBest {
			s.notify(ctx, logger, alerting.FormatDayBest(*best))
		}
		s.publish(ctx, logger, events.FromCandidate(events.KindDayBest, report.CycleID, now, *best))
	}

	logger.Info().
		Int("offers", report.Offers).
		Int("candidates", len(candidates)).
		Int("alerts", len(report.Alerts)).
		Int("suppressed", report.Suppressed).
		Str("cheapest", candidates[0].PricePerPerson.StringFixed(2)).
		Bool("day_best", report.DayBest != nil).
		Msg("search cycle complete")
	s.deps.Metrics.Cycle(metrics.OutcomeOK, time.Since(started))
	return report, nil
}

// Preview fetches and filters without deciding, notifying or persisting.
func (s *Service) Preview(ctx context.Context) ([]offers.Candidate, error) {
	raw, err := s.deps.Searcher.SearchOffers(ctx, s.deps.Request)
	if err != nil {
		return nil, fmt.Errorf("search offers: %w", err)
	}
	candidates, ferr := offers.Filter(raw, s.deps.Outbound, s.deps.Inbound, s.deps.Links)
	logMalformed(s.logger, ferr)
	return candidates, nil
}

// RunDailyReport sends the summary of today's best price.
func (s *Service) RunDailyReport(ctx context.Context) error {
	today := calendar.DayOf(s.deps.Now(), s.deps.Location)
	rec, err := s.deps.Store.BestOfDay(ctx, today)
	if err != nil {
		s.reportFailure(ctx, s.logger, err)
		return fmt.Errorf("daily report %s: %w", today, err)
	}
	if err := s.deps.Notifier.Notify(ctx, alerting.FormatDaily(today, rec)); err != nil {
		s.deps.Metrics.NotifyFailed()
		return fmt.Errorf("send daily report: %w", err)
	}
	s.logger.Info().Str("day", today.String()).Bool("has_record", rec != nil).Msg("daily report sent")
	return nil
}

func (s *Service) recordDayBest(ctx context.Context, logger zerolog.Logger, report *Report, now time.Time) {
	if s.deps.Store == nil {
		return
	}
	id, err := s.deps.Store.Append(ctx, storage.RecordFromCandidate(*report.DayBest, now))
	s.deps.Metrics.Append(err)
	if err != nil {
		report.StorageErr = err
		logger.Error().Err(err).Msg("当日最低价写入失败")
		return
	}
	report.RecordID = id
	logger.Info().Int64("record_id", int64(id)).Str("price_per_person", report.DayBest.PricePerPerson.StringFixed(2)).Msg("day best recorded")
}

func (s *Service) notify(ctx context.Context, logger zerolog.Logger, text string) bool {
	if s.deps.Notifier == nil {
		return false
	}
	if err := s.deps.Notifier.Notify(ctx, text); err != nil {
		s.deps.Metrics.NotifyFailed()
		logger.Error().Err(err).Msg("failed to dispatch notification")
		return false
	}
	return true
}

func (s *Service) publish(ctx context.Context, logger zerolog.Logger, ev events.Event) {
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("kind", ev.Kind).Msg("failed to publish event")
	}
}

func (s *Service) reportFailure(ctx context.Context, logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("cycle failed")
	if s.deps.NotifyErrors {
		s.notify(ctx, logger, alerting.FormatCycleError(err))
	}
}

func logMalformed(logger zerolog.Logger, err error) int {
	if err == nil {
		return 0
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		var m *offers.MalformedOfferError
		if errors.As(e, &m) {
			logger.Warn().Str("offer_id", m.OfferID).Str("reason", m.Reason).Msg("skipping malformed offer")
			continue
		}
		logger.Warn().Err(e).Msg("skipping offer")
	}
	return len(errs)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.deps.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.deps.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
