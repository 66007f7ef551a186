package scheduler

import (
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

// Option configures a Daily scheduler.
type Option func(*Daily)

// WithName labels the job in logs.
func WithName(name string) Option {
	return func(d *Daily) {
		if name != "" {
			d.name = name
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Daily) {
		if l != nil {
			d.log = l
		}
	}
}

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(d *Daily) {
		if now != nil {
			d.now = now
		}
	}
}
