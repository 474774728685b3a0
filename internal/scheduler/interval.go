package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval. at is the scheduled firing time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune the interval loop.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	RunOnStart   bool
}

// Interval fires a tick every Options.Interval. Ticks never overlap: a slow tick
// delays the next firing instead of running concurrently.
type Interval struct {
	opts   Options
	logger zerolog.Logger
}

// NewInterval constructs an Interval scheduler.
func NewInterval(opts Options, logger zerolog.Logger) *Interval {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Interval{opts: opts, logger: logger.With().Str("component", "scheduler").Str("loop", "search").Logger()}
}

// Run blocks, invoking tick at each interval until ctx is cancelled.
func (s *Interval) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, time.Now())
	}

	next := s.nextTick(time.Now())
	for {
		delay := time.Until(next)
		if delay < 0 {
			skipped := -delay / s.opts.Interval
			if skipped > 0 {
				s.logger.Warn().Int64("skipped", int64(skipped)).Msg("tick overran the interval; skipping missed firings")
			}
			next = s.nextTick(time.Now())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.fire(ctx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Interval) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

func (s *Interval) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}
