package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/errquotient/internal/adapters/repository"
	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/reconcile"
	"github.com/okian/errquotient/internal/domain/types"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/metrics"
	"github.com/okian/errquotient/pkg/tracing"
)

const retrainKey = "retrain"

// RetrainAll refits the model over every profile and reconciles stored
// labels with it. Concurrent callers share one run. Too little data leaves
// the current model in place and reports OutcomeSkipped without an error.
// The run is detached from ctx cancellation: once started it always
// finishes reconciling, whichever caller triggered it.
func (s *Service) RetrainAll(ctx context.Context) (types.RetrainResult, error) {
	v, err, shared := s.retrains.Do(retrainKey, func() (any, error) {
		return s.retrain(context.WithoutCancel(ctx))
	})
	if shared {
		s.logger.Debug(ctx, "joined running retrain")
	}
	res, _ := v.(types.RetrainResult)
	return res, err
}

func (s *Service) scheduledRetrain(ctx context.Context) error {
	_, err := s.RetrainAll(ctx)
	return err
}

func (s *Service) retrain(ctx context.Context) (res types.RetrainResult, err error) {
	s.mu.RLock()
	started, store, reconciler := s.started, s.store, s.reconciler
	s.mu.RUnlock()
	if !started {
		return types.RetrainResult{Outcome: types.OutcomeFailed}, ErrNotStarted
	}

	start := time.Now()
	ctx, span := tracing.Start(ctx, "service", "RetrainAll")
	defer func() {
		res.Took = time.Since(start)
		if err != nil && res.Outcome == "" {
			res.Outcome = types.OutcomeFailed
		}
		span.SetAttributes(
			attribute.String("outcome", res.Outcome),
			attribute.Int("rows", res.Rows),
			attribute.Int("version", res.Version),
		)
		tracing.End(span, err)
		metrics.RecordRetrain(res.Outcome, res.Took)
	}()

	rows, err := s.featureRows(ctx, store)
	if err != nil {
		s.logger.Error(ctx, "store fault", logger.Op("fetch_feature_rows"), logger.Error(err))
		return res, fmt.Errorf("fetch feature rows: %w", err)
	}
	res.Rows = len(rows)

	version := 1
	if cur, err := s.model.Load(); err == nil {
		version = cur.Version + 1
	}
	snap, assignments, err := classifier.Fit(ctx, rows,
		classifier.WithNInit(s.nInit),
		classifier.WithSeed(s.seed),
		classifier.WithVersion(version),
		classifier.WithClock(s.now),
	)
	if errors.Is(err, classifier.ErrInsufficientData) || errors.Is(err, classifier.ErrDegenerateFit) {
		s.logger.Warn(ctx, "retrain skipped, keeping current model",
			logger.Int("rows", len(rows)), logger.Error(err))
		res.Outcome = types.OutcomeSkipped
		res.Reason = err.Error()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("fit model: %w", err)
	}

	if s.artifacts != nil {
		if err := s.artifacts.Save(ctx, snap); err != nil {
			s.logger.Error(ctx, "model artifact not saved, keeping current model", logger.Error(err))
			return res, fmt.Errorf("save model: %w", err)
		}
	}
	s.model.Swap(snap)
	metrics.SetModel(stateGauge(classifier.StateFitted), snap.TrainedAt)
	res.Outcome = types.OutcomeFitted
	res.Version = snap.Version

	meta := model.ModelMetadata{OptimalK: snap.K, LastRetrainedAt: snap.TrainedAt, Rows: len(assignments)}
	if err := store.UpsertModelMetadata(ctx, meta); err != nil {
		s.logger.Error(ctx, "store fault", logger.Op("upsert_model_metadata"), logger.Error(err))
		metrics.RecordErrorByComponent("service", "model_metadata")
	}

	rep, err := reconciler.Run(ctx, assignments)
	res.Reconcile = &rep
	if err != nil {
		return res, fmt.Errorf("reconcile after retrain: %w", err)
	}
	s.logger.Info(ctx, "model retrained",
		logger.Int("version", snap.Version),
		logger.Int("rows", len(assignments)),
		logger.Float64("inertia", snap.Inertia),
		logger.Int("usersUpdated", rep.UsersUpdated),
		logger.Int("usersCleared", rep.UsersCleared),
		logger.Int("usersFailed", rep.UsersFailed),
	)
	return res, nil
}

func (s *Service) featureRows(ctx context.Context, store repository.Store) ([]model.FeatureRow, error) {
	var rows []model.FeatureRow
	for offset := 0; ; offset += s.rowsPage {
		page, err := store.FetchFeatureRows(ctx, offset, s.rowsPage)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		if len(page) < s.rowsPage {
			return rows, nil
		}
	}
}

// Reconcile realigns every stored session record with its user's current
// profile labels, without refitting.
func (s *Service) Reconcile(ctx context.Context) (reconcile.Report, error) {
	s.mu.RLock()
	started, reconciler := s.started, s.reconciler
	s.mu.RUnlock()
	if !started {
		return reconcile.Report{}, ErrNotStarted
	}
	return reconciler.AlignHistory(ctx)
}
