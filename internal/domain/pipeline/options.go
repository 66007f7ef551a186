package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/errquotient/internal/domain/scoring"
	"github.com/okian/errquotient/internal/domain/session"
	"github.com/okian/errquotient/pkg/logger"
)

const (
	defaultEventsPageSize = 1000
	defaultWriteBatchSize = 500
	defaultConcurrency    = 4
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSegmenter replaces the default 30 minute segmenter.
func WithSegmenter(s *session.Segmenter) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.segmenter = s
		}
	}
}

// WithScorer replaces the EQ scorer.
func WithScorer(s scoring.Scorer) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.scorer = s
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithEventsPageSize sets how many events are fetched per page.
func WithEventsPageSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.eventsPage = n
		}
	}
}

// WithWriteBatchSize caps the records written per insert.
func WithWriteBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.writeBatch = n
		}
	}
}

// WithConcurrency bounds ProcessAll parallelism.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClock overrides the time used for recorded_at and last_calculated_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator overrides session record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(p *Pipeline) {
		if gen != nil {
			p.newID = gen
		}
	}
}

func defaults(p *Pipeline) {
	p.segmenter = session.New()
	p.scorer = scoring.NewEQScorer()
	p.log = logger.Nop()
	p.eventsPage = defaultEventsPageSize
	p.writeBatch = defaultWriteBatchSize
	p.concurrency = defaultConcurrency
	p.now = time.Now
	p.newID = uuid.NewString
}
