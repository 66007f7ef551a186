// Package reconcile rewrites stored labels so that every session record of a
// user agrees with the user's profile after a retrain.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/metrics"
	"github.com/okian/errquotient/pkg/tracing"
)

const (
	defaultPageSize  = 2000
	defaultBatchSize = 500
)

// Store is the slice of the record store reconciliation needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (model.UserProfile, error)
	UpsertProfile(ctx context.Context, p model.UserProfile) error
	UpdateProfileLabels(ctx context.Context, userID string, cluster *int, perf *model.Performance, at time.Time) error
	FetchSessionRecords(ctx context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error)
	UpdateSessionLabels(ctx context.Context, updates []model.LabelUpdate) (int, error)
	ListProfileUsers(ctx context.Context, offset, limit int) ([]string, error)
	ListSessionUsers(ctx context.Context, offset, limit int) ([]string, error)
}

// Report summarises one reconciliation pass.
type Report struct {
	UsersUpdated   int `json:"users_updated"`
	UsersFailed    int `json:"users_failed"`
	UsersCleared   int `json:"users_cleared"`
	RecordsUpdated int `json:"records_updated"`
	RecordsSkipped int `json:"records_skipped"`
	RecordsCleared int `json:"records_cleared"`
}

// Engine applies assignments to profiles and session history.
type Engine struct {
	store     Store
	log       logger.Logger
	pageSize  int
	batchSize int
	now       func() time.Time
	lockUser  func(userID string) func()
}

// New returns an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		log:       logger.Nop(),
		pageSize:  defaultPageSize,
		batchSize: defaultBatchSize,
		now:       time.Now,
		lockUser:  func(string) func() { return func() {} },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run applies a refit batch. Each assigned user gets its profile upserted
// with the new labels and the feature value behind them, then every session
// record whose labels differ is rewritten. Users that are not in the batch
// have their labels cleared. A store fault fails only the affected user.
// The returned error is non-nil only when the pass could not enumerate users
// or ctx was cancelled.
func (e *Engine) Run(ctx context.Context, assignments []classifier.Assignment) (rep Report, err error) {
	ctx, span := tracing.Start(ctx, "reconcile", "Run", attribute.Int("assignments", len(assignments)))
	defer func() {
		span.SetAttributes(
			attribute.Int("users.updated", rep.UsersUpdated),
			attribute.Int("users.failed", rep.UsersFailed),
			attribute.Int("records.updated", rep.RecordsUpdated),
		)
		tracing.End(span, err)
	}()

	at := e.now().UTC()
	present := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		present[a.UserID] = struct{}{}
		e.apply(ctx, a, at, &rep)
	}

	if err := e.clearAbsent(ctx, present, at, &rep); err != nil {
		return rep, err
	}

	metrics.RecordReconcileRecords("updated", rep.RecordsUpdated)
	metrics.RecordReconcileRecords("skipped", rep.RecordsSkipped)
	metrics.RecordReconcileRecords("cleared", rep.RecordsCleared)
	e.log.Info(ctx, "reconciliation finished",
		logger.Int("users_updated", rep.UsersUpdated),
		logger.Int("users_failed", rep.UsersFailed),
		logger.Int("users_cleared", rep.UsersCleared),
		logger.Int("records_updated", rep.RecordsUpdated),
		logger.Int("records_skipped", rep.RecordsSkipped),
		logger.Int("records_cleared", rep.RecordsCleared))
	return rep, nil
}

// AlignHistory makes session records match the labels already stored on
// each profile, without a refit. Profiles without labels clear their history.
func (e *Engine) AlignHistory(ctx context.Context) (Report, error) {
	var rep Report
	err := e.eachUser(ctx, e.store.ListProfileUsers, func(userID string) {
		unlock := e.lockUser(userID)
		defer unlock()
		p, err := e.store.GetProfile(ctx, userID)
		if err != nil {
			e.fail(ctx, &rep, userID, "get_profile", err)
			return
		}
		updated, skipped, err := e.relabel(ctx, userID, p.Cluster, p.Performance)
		if p.Cluster == nil {
			rep.RecordsCleared += updated
		} else {
			rep.RecordsUpdated += updated
		}
		rep.RecordsSkipped += skipped
		if err != nil {
			e.fail(ctx, &rep, userID, "update_session_labels", err)
			return
		}
		rep.UsersUpdated++
	})
	return rep, err
}

// apply writes one assignment while holding the user's lock.
func (e *Engine) apply(ctx context.Context, a classifier.Assignment, at time.Time, rep *Report) {
	unlock := e.lockUser(a.UserID)
	defer unlock()

	if err := e.upsertProfile(ctx, a, at); err != nil {
		e.fail(ctx, rep, a.UserID, "upsert_profile", err)
		return
	}
	updated, skipped, err := e.relabel(ctx, a.UserID, model.IntPtr(a.Cluster), a.Performance.Ptr())
	rep.RecordsUpdated += updated
	rep.RecordsSkipped += skipped
	if err != nil {
		e.fail(ctx, rep, a.UserID, "update_session_labels", err)
		return
	}
	rep.UsersUpdated++
}

func (e *Engine) upsertProfile(ctx context.Context, a classifier.Assignment, at time.Time) error {
	p, err := e.store.GetProfile(ctx, a.UserID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		p = model.UserProfile{UserID: a.UserID}
	case err != nil:
		return err
	}
	if len(a.Features) > 0 {
		p.AverageEQScore = a.Features[0]
	}
	p.Cluster = model.IntPtr(a.Cluster)
	p.Performance = a.Performance.Ptr()
	p.LastCalculatedAt = at
	return e.store.UpsertProfile(ctx, p)
}

// relabel pages through a user's session records and rewrites those whose
// labels differ from (cluster, perf). Offsets stay valid because label
// updates never reorder records.
func (e *Engine) relabel(ctx context.Context, userID string, cluster *int, perf *model.Performance) (updated, skipped int, err error) {
	pending := make([]model.LabelUpdate, 0, e.batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := e.store.UpdateSessionLabels(ctx, pending)
		updated += n
		pending = pending[:0]
		return err
	}

	for offset := 0; ; offset += e.pageSize {
		page, err := e.store.FetchSessionRecords(ctx, userID, offset, e.pageSize)
		if err != nil {
			return updated, skipped, fmt.Errorf("fetch session records: %w", err)
		}
		for _, r := range page {
			if model.SameLabels(r.Cluster, r.Performance, cluster, perf) {
				skipped++
				continue
			}
			pending = append(pending, model.LabelUpdate{RecordID: r.ID, Cluster: cluster, Performance: perf})
			if len(pending) >= e.batchSize {
				if err := flush(); err != nil {
					return updated, skipped, err
				}
			}
		}
		if len(page) < e.pageSize {
			break
		}
	}
	return updated, skipped, flush()
}

// clearAbsent nulls the labels of every user with a profile or history who
// was not part of the refit batch, so no record keeps a label from an older
// model.
func (e *Engine) clearAbsent(ctx context.Context, present map[string]struct{}, at time.Time, rep *Report) error {
	visited := make(map[string]struct{})
	visit := func(userID string) {
		if _, ok := present[userID]; ok {
			return
		}
		if _, ok := visited[userID]; ok {
			return
		}
		visited[userID] = struct{}{}
		unlock := e.lockUser(userID)
		defer unlock()

		if err := e.clearProfile(ctx, userID, at); err != nil {
			e.fail(ctx, rep, userID, "clear_profile_labels", err)
			return
		}
		cleared, _, err := e.relabel(ctx, userID, nil, nil)
		rep.RecordsCleared += cleared
		if err != nil {
			e.fail(ctx, rep, userID, "clear_session_labels", err)
			return
		}
		rep.UsersCleared++
	}

	if err := e.eachUser(ctx, e.store.ListProfileUsers, visit); err != nil {
		return err
	}
	return e.eachUser(ctx, e.store.ListSessionUsers, visit)
}

func (e *Engine) clearProfile(ctx context.Context, userID string, at time.Time) error {
	p, err := e.store.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil
	case err != nil:
		return err
	case p.Cluster == nil && p.Performance == nil:
		return nil
	}
	return e.store.UpdateProfileLabels(ctx, userID, nil, nil, at)
}

type lister func(ctx context.Context, offset, limit int) ([]string, error)

func (e *Engine) eachUser(ctx context.Context, list lister, fn func(string)) error {
	for offset := 0; ; offset += e.pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		users, err := list(ctx, offset, e.pageSize)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for _, u := range users {
			fn(u)
		}
		if len(users) < e.pageSize {
			return nil
		}
	}
}

func (e *Engine) fail(ctx context.Context, rep *Report, userID, op string, err error) {
	rep.UsersFailed++
	metrics.RecordReconcileFailure()
	metrics.RecordErrorByComponent("reconcile", op)
	e.log.Error(ctx, "reconciliation failed for user", logger.UserID(userID), logger.Op(op), logger.Error(err))
}
