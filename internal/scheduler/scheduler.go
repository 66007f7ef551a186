// Package scheduler triggers a job once a day at a wall-clock time in a
// configured time zone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	// Embedded zone database so Asia/Jakarta resolves on minimal images.
	_ "time/tzdata"

	"github.com/okian/errquotient/pkg/logger"
)

// DefaultTimezone is the zone the daily retrain runs in by default.
const DefaultTimezone = "Asia/Jakarta"

// ErrInvalidSchedule reports an out-of-range hour or minute or an unknown zone.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Job is the work run on every tick.
type Job func(ctx context.Context) error

// Daily runs a job every day at hour:minute in loc.
type Daily struct {
	hour, minute int
	loc          *time.Location
	job          Job
	name         string
	log          logger.Logger
	now          func() time.Time
	after        func(time.Duration) <-chan time.Time
}

// NewDaily validates the schedule and returns a scheduler for job.
func NewDaily(hour, minute int, timezone string, job Job, opts ...Option) (*Daily, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: %02d:%02d", ErrInvalidSchedule, hour, minute)
	}
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	d := &Daily{
		hour: hour, minute: minute, loc: loc, job: job,
		name:  "daily",
		log:   logger.Nop(),
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Next returns the first run time strictly after now.
func (d *Daily) Next(now time.Time) time.Time {
	local := now.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Run blocks until ctx ends, running the job at every scheduled time. Job
// errors are logged; the schedule continues.
func (d *Daily) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := d.Next(d.now())
		d.log.Info(ctx, "next run scheduled", logger.String("job", d.name), logger.String("at", next.Format(time.RFC3339)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.after(next.Sub(d.now())):
		}

		start := time.Now()
		if err := d.job(ctx); err != nil {
			d.log.Error(ctx, "scheduled job failed", logger.String("job", d.name), logger.Error(err))
			continue
		}
		d.log.Info(ctx, "scheduled job finished", logger.String("job", d.name), logger.Duration("took", time.Since(start)))
	}
}
