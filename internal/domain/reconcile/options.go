package reconcile

import (
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithPageSize sets how many session records are read per page.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithBatchSize sets how many label updates are written per call.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source for last_calculated_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithUserLock makes the engine hold lock(userID) while it rewrites a user's
// profile and history, so a concurrent recompute of that user cannot
// interleave with it.
func WithUserLock(lock func(userID string) (unlock func())) Option {
	return func(e *Engine) {
		if lock != nil {
			e.lockUser = lock
		}
	}
}
