package session

import (
	"time"

	"github.com/okian/errquotient/pkg/logger"
)

// DefaultMaxGap is the inactivity gap that closes a session.
const DefaultMaxGap = 30 * time.Minute

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxGap sets the gap threshold; non-positive values are ignored.
func WithMaxGap(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.maxGap = d
		}
	}
}

// WithLogger sets the logger used for dropped events.
func WithLogger(l logger.Logger) Option {
	return func(s *Segmenter) {
		if l != nil {
			s.log = l
		}
	}
}
