// Package pipeline recomputes a user's session history and profile from the
// raw error events: segment, score, aggregate, predict and persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/okian/errquotient/internal/domain/features"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/scoring"
	"github.com/okian/errquotient/internal/domain/session"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/metrics"
	"github.com/okian/errquotient/pkg/tracing"
)

// Store is the part of the record store the pipeline reads and writes.
type Store interface {
	FetchEvents(ctx context.Context, userID string, offset, limit int) ([]model.ErrorEvent, error)
	ListUsers(ctx context.Context, offset, limit int) ([]string, error)
	DeleteSessionRecords(ctx context.Context, userID string) (int, error)
	InsertSessionRecords(ctx context.Context, records []model.SessionEQRecord) error
	UpsertProfile(ctx context.Context, p model.UserProfile) error
}

// HistoryReplacer is implemented by stores that replace a user's history and
// profile in one transaction.
type HistoryReplacer interface {
	ReplaceHistory(ctx context.Context, userID string, records []model.SessionEQRecord, p model.UserProfile) error
}

// Predictor labels a feature vector. *classifier.Handle satisfies it.
type Predictor interface {
	Predict(features []float64) (model.Performance, int, error)
}

// Outcome is the result of recomputing one user.
type Outcome struct {
	UserID         string                  `json:"user_id"`
	AverageEQScore float64                 `json:"average_eq_score"`
	TotalSessions  int                     `json:"total_sessions"`
	Cluster        int                     `json:"cluster"`
	Performance    model.Performance       `json:"performance"`
	Features       features.EQFeatures     `json:"features"`
	Sessions       []model.SessionEQRecord `json:"sessions"`
}

// Summary counts the users of one ProcessAll pass.
type Summary struct {
	Users     int `json:"users"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Pipeline recomputes users. A user is never processed by two goroutines at
// once; different users run in parallel.
type Pipeline struct {
	store       Store
	model       Predictor
	segmenter   *session.Segmenter
	scorer      scoring.Scorer
	log         logger.Logger
	locks       *userLocks
	eventsPage  int
	writeBatch  int
	concurrency int
	now         func() time.Time
	newID       func() string
}

// New returns a pipeline over store that labels users with predictor.
func New(store Store, predictor Predictor, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, model: predictor, locks: newUserLocks()}
	defaults(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LockUser blocks until no recompute of userID is running and holds off new
// ones until the returned func is called.
func (p *Pipeline) LockUser(userID string) func() {
	return p.locks.lock(userID)
}

// ProcessUser recomputes userID. It reports false when the user has no
// usable events, in which case nothing already stored is touched.
func (p *Pipeline) ProcessUser(ctx context.Context, userID string) (out Outcome, ok bool, err error) {
	if userID == "" {
		return Outcome{}, false, ErrEmptyUserID
	}
	start := time.Now()
	ctx, span := tracing.Start(ctx, "pipeline", "ProcessUser", attribute.String("user_id", userID))
	defer func() {
		span.SetAttributes(attribute.Bool("usable", ok), attribute.Int("sessions", out.TotalSessions))
		tracing.End(span, err)
		result := "ok"
		switch {
		case err != nil:
			result = "failed"
		case !ok:
			result = "skipped"
		}
		metrics.RecordUserProcessed(result, time.Since(start))
	}()

	unlock := p.locks.lock(userID)
	defer unlock()

	events, err := p.fetchEvents(ctx, userID)
	if err != nil {
		p.storeFault(ctx, userID, "fetch_events", err)
		return Outcome{}, false, err
	}
	sessions := p.segmenter.Segment(ctx, events)
	if len(sessions) == 0 {
		p.log.Debug(ctx, "no usable events", logger.UserID(userID), logger.Int("events", len(events)))
		return Outcome{}, false, nil
	}

	results := make([]scoring.Result, len(sessions))
	for i, s := range sessions {
		if results[i], err = p.scorer.Score(ctx, s); err != nil {
			return Outcome{}, false, fmt.Errorf("score session %d of %s: %w", i, userID, err)
		}
		metrics.RecordSessionScored(results[i].EQ)
	}
	agg := features.Aggregate(results)

	perf, cluster, err := p.model.Predict(agg.Vector())
	if err != nil {
		return Outcome{}, false, fmt.Errorf("predict %s: %w", userID, err)
	}
	metrics.RecordPrediction(string(perf))

	now := p.now().UTC()
	records := make([]model.SessionEQRecord, len(sessions))
	for i, s := range sessions {
		records[i] = model.SessionEQRecord{
			ID:             p.newID(),
			UserID:         userID,
			SessionEQScore: results[i].EQ,
			SessionStart:   s.Start(),
			SessionEnd:     s.End(),
			EventCount:     s.Len(),
			ErrorCounts:    results[i].Counts,
			Cluster:        model.IntPtr(cluster),
			Performance:    perf.Ptr(),
			RecordedAt:     now,
		}
	}
	profile := model.UserProfile{
		UserID:           userID,
		AverageEQScore:   agg.AverageEQScore,
		TotalSessions:    agg.TotalSessions,
		ErrorCounts:      agg.Counts,
		Cluster:          model.IntPtr(cluster),
		Performance:      perf.Ptr(),
		LastCalculatedAt: now,
	}

	if err := p.persist(ctx, userID, records, profile); err != nil {
		return Outcome{}, false, err
	}

	p.log.Info(ctx, "user recomputed",
		logger.UserID(userID),
		logger.Int("sessions", agg.TotalSessions),
		logger.Float64("average_eq_score", agg.AverageEQScore),
		logger.String("performance", string(perf)))
	return Outcome{
		UserID:         userID,
		AverageEQScore: agg.AverageEQScore,
		TotalSessions:  agg.TotalSessions,
		Cluster:        cluster,
		Performance:    perf,
		Features:       agg,
		Sessions:       records,
	}, true, nil
}

func (p *Pipeline) fetchEvents(ctx context.Context, userID string) ([]model.ErrorEvent, error) {
	var all []model.ErrorEvent
	for offset := 0; ; offset += p.eventsPage {
		page, err := p.store.FetchEvents(ctx, userID, offset, p.eventsPage)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < p.eventsPage {
			return all, nil
		}
	}
}

// persist replaces the user's history and profile. Stores without
// transactions get three ordered steps; a crash between them leaves the
// user without history until the next recompute.
func (p *Pipeline) persist(ctx context.Context, userID string, records []model.SessionEQRecord, profile model.UserProfile) error {
	if tx, ok := p.store.(HistoryReplacer); ok {
		if err := tx.ReplaceHistory(ctx, userID, records, profile); err != nil {
			p.storeFault(ctx, userID, "replace_history", err)
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	}

	deleted, err := p.store.DeleteSessionRecords(ctx, userID)
	if err != nil {
		p.storeFault(ctx, userID, "delete_session_records", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	p.log.Debug(ctx, "history deleted", logger.UserID(userID), logger.Int("records", deleted))

	for lo := 0; lo < len(records); lo += p.writeBatch {
		hi := min(lo+p.writeBatch, len(records))
		if err := p.store.InsertSessionRecords(ctx, records[lo:hi]); err != nil {
			p.storeFault(ctx, userID, "insert_session_records", err)
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}
	p.log.Debug(ctx, "history inserted", logger.UserID(userID), logger.Int("records", len(records)))

	if err := p.store.UpsertProfile(ctx, profile); err != nil {
		p.storeFault(ctx, userID, "upsert_profile", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (p *Pipeline) storeFault(ctx context.Context, userID, op string, err error) {
	metrics.RecordErrorByComponent("pipeline", op)
	p.log.Error(ctx, "store operation failed", logger.UserID(userID), logger.Op(op), logger.Error(err))
}

// ProcessAll recomputes every user that has events. Failures of single
// users are logged and counted; the error is non-nil only when users could
// not be listed or ctx ended.
func (p *Pipeline) ProcessAll(ctx context.Context) (Summary, error) {
	var processed, skipped, failed atomic.Int64
	users := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var listErr error
	for offset := 0; ; offset += p.eventsPage {
		if gctx.Err() != nil {
			break
		}
		page, err := p.store.ListUsers(gctx, offset, p.eventsPage)
		if err != nil {
			listErr = fmt.Errorf("list users: %w", err)
			break
		}
		for _, u := range page {
			users++
			g.Go(func() error {
				_, ok, err := p.ProcessUser(gctx, u)
				switch {
				case err != nil:
					failed.Add(1)
					if !errors.Is(err, ErrPersist) {
						p.log.Warn(gctx, "user recompute failed", logger.UserID(u), logger.Error(err))
					}
				case !ok:
					skipped.Add(1)
				default:
					processed.Add(1)
				}
				return nil
			})
		}
		if len(page) < p.eventsPage {
			break
		}
	}
	_ = g.Wait()

	sum := Summary{Users: users, Processed: int(processed.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	p.log.Info(ctx, "batch recompute finished",
		logger.Int("users", sum.Users), logger.Int("processed", sum.Processed),
		logger.Int("skipped", sum.Skipped), logger.Int("failed", sum.Failed))
	if listErr != nil {
		return sum, listErr
	}
	return sum, ctx.Err()
}
