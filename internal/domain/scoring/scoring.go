// Package scoring computes the Error Quotient of a session.
package scoring

import (
	"context"

	"github.com/okian/errquotient/internal/domain/errparse"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/session"
)

// Pair penalties. Scores are normalised by MaxPenalty so a pair is worth
// 0, 8/11 or 1.
const (
	SameTypePenalty      = 11
	DifferentTypePenalty = 8
	MaxPenalty           = SameTypePenalty
)

// ClassifyFunc maps a raw message to its scoring type.
type ClassifyFunc func(msg string) (model.ErrorType, bool)

// CountFunc maps a raw message to its counted-type columns.
type CountFunc func(msg string) model.ErrorCounts

// Option applies a configuration option to the EQScorer.
type Option func(*EQScorer)

// WithClassifier replaces the scoring classifier.
func WithClassifier(f ClassifyFunc) Option {
	return func(s *EQScorer) {
		if f != nil {
			s.classify = f
		}
	}
}

// WithCounter replaces the counted-type extractor.
func WithCounter(f CountFunc) Option {
	return func(s *EQScorer) {
		if f != nil {
			s.count = f
		}
	}
}

// Result is the score of one session.
type Result struct {
	EQ       float64
	Pairs    int // consecutive pairs that contributed
	Excluded int // pairs skipped because both messages were identical
	Counts   model.ErrorCounts
}

// Scorer scores a session.
type Scorer interface {
	Score(ctx context.Context, s session.Session) (Result, error)
}

// EQScorer implements Scorer with the pairwise penalty algorithm.
type EQScorer struct {
	classify ClassifyFunc
	count    CountFunc
}

// NewEQScorer returns a scorer backed by the errparse tables.
func NewEQScorer(opts ...Option) *EQScorer {
	s := &EQScorer{classify: errparse.Classify, count: errparse.Counted}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score honours ctx cancellation and scores the session messages.
func (s *EQScorer) Score(ctx context.Context, sess session.Session) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.ScoreMessages(sess.Messages()), nil
}

// ScoreMessages scores an ordered list of raw messages.
//
// Counts are taken once per message. With fewer than two messages the score
// is 0. A pair with byte-identical messages is skipped: nothing was changed
// between the two compiles. Otherwise a pair scores 0 if either side is
// unclassified, SameTypePenalty if both share a type, DifferentTypePenalty
// if not. The session score is the mean normalised pair score, or 0 when
// every pair was skipped.
func (s *EQScorer) ScoreMessages(msgs []string) Result {
	var res Result
	types := make([]model.ErrorType, len(msgs))
	known := make([]bool, len(msgs))
	for i, m := range msgs {
		res.Counts = res.Counts.Add(s.count(m))
		types[i], known[i] = s.classify(m)
	}
	if len(msgs) < 2 {
		return res
	}

	var sum float64
	for i := 1; i < len(msgs); i++ {
		if msgs[i] == msgs[i-1] {
			res.Excluded++
			continue
		}
		res.Pairs++
		sum += float64(pairPenalty(types[i-1], known[i-1], types[i], known[i])) / MaxPenalty
	}
	if res.Pairs > 0 {
		res.EQ = sum / float64(res.Pairs)
	}
	return res
}

func pairPenalty(prev model.ErrorType, prevOK bool, curr model.ErrorType, currOK bool) int {
	switch {
	case !prevOK || !currOK:
		return 0
	case prev == curr:
		return SameTypePenalty
	default:
		return DifferentTypePenalty
	}
}
