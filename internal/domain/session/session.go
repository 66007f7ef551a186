// Package session groups a user's error events into work sessions.
package session

import (
	"context"
	"slices"
	"time"

	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/metrics"
)

// TimedEvent is an event with its parsed timestamp.
type TimedEvent struct {
	Event model.ErrorEvent
	At    time.Time
}

// Session is a non-empty, time-ordered run of events.
type Session struct {
	Events []TimedEvent
}

// Start is the time of the first event.
func (s Session) Start() time.Time { return s.Events[0].At }

// End is the time of the last event.
func (s Session) End() time.Time { return s.Events[len(s.Events)-1].At }

// Len is the number of events.
func (s Session) Len() int { return len(s.Events) }

// Messages returns the raw messages in order.
func (s Session) Messages() []string {
	out := make([]string, len(s.Events))
	for i, e := range s.Events {
		out[i] = e.Event.RawMessage
	}
	return out
}

// Segmenter splits event streams on inactivity gaps.
type Segmenter struct {
	maxGap time.Duration
	log    logger.Logger
}

// New returns a segmenter with a 30 minute gap unless overridden.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{maxGap: DefaultMaxGap, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxGap returns the configured threshold.
func (s *Segmenter) MaxGap() time.Duration { return s.maxGap }

// Segment drops events with unparseable timestamps, sorts the rest
// ascending (stable for equal times) and starts a new session whenever the
// gap to the previous event is strictly greater than the threshold.
func (s *Segmenter) Segment(ctx context.Context, events []model.ErrorEvent) []Session {
	timed := make([]TimedEvent, 0, len(events))
	for _, e := range events {
		at, err := ParseTimestamp(e.OccurredAt)
		if err != nil {
			s.log.Warn(ctx, "skipping event with unparseable timestamp",
				logger.UserID(e.UserID), logger.String("event_id", e.ID), logger.String("occurred_at", e.OccurredAt))
			metrics.RecordEventDropped("unparseable_timestamp")
			continue
		}
		timed = append(timed, TimedEvent{Event: e, At: at})
	}
	if len(timed) == 0 {
		return nil
	}

	slices.SortStableFunc(timed, func(a, b TimedEvent) int { return a.At.Compare(b.At) })

	var sessions []Session
	start := 0
	for i := 1; i < len(timed); i++ {
		if timed[i].At.Sub(timed[i-1].At) > s.maxGap {
			sessions = append(sessions, Session{Events: timed[start:i:i]})
			start = i
		}
	}
	return append(sessions, Session{Events: timed[start:]})
}
