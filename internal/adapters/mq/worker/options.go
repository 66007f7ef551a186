package worker

import (
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithLogger sets the pool logger; workers log under their own names.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPending sets the set cleared when a job leaves the queue.
func WithPending(pending Pending) Option {
	return func(p *Pool) {
		if pending != nil {
			p.pending = pending
		}
	}
}

// WithJobTimeout bounds a single recompute.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}
