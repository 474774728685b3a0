package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is a daily job.
type JobFunc func(ctx context.Context) error

// Daily runs a job once per day at a wall-clock time in a fixed location.
type Daily struct {
	hour, minute int
	loc          *time.Location
	logger       zerolog.Logger
}

// NewDaily schedules a job at hour:minute in loc.
func NewDaily(hour, minute int, loc *time.Location, logger zerolog.Logger) (*Daily, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		logger: logger.With().Str("component", "scheduler").Str("loop", "daily").Logger(),
	}, nil
}

// Spec returns the cron expression used for the job.
func (d *Daily) Spec() string {
	return fmt.Sprintf("%d %d * * *", d.minute, d.hour)
}

// Next returns the first firing strictly after t.
func (d *Daily) Next(t time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(d.Spec())
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t.In(d.loc)), nil
}

// Run blocks until ctx is cancelled, running job at every firing. A run that is
// still in progress at the next firing causes that firing to be skipped. Panics are recovered.
func (d *Daily) Run(ctx context.Context, job JobFunc) error {
	clog := cronLogger{logger: d.logger}
	c := cron.New(
		cron.WithLocation(d.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	_, err := c.AddFunc(d.Spec(), func() {
		d.logger.Info().Msg("executing daily job")
		if err := job(ctx); err != nil {
			d.logger.Error().Err(err).Msg("daily job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	c.Start()
	if next, err := d.Next(time.Now()); err == nil {
		d.logger.Info().Str("cron", d.Spec()).Str("timezone", d.loc.String()).Time("next", next).Msg("daily job scheduled")
	}

	<-ctx.Done()
	// wait for a running job to observe cancellation
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
