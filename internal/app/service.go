// Package service wires the EQ pipeline, the classification model and the
// recompute workers into the operations exposed by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/errquotient/internal/adapters/artifact"
	eventqueue "github.com/okian/errquotient/internal/adapters/mq/queue"
	workerpool "github.com/okian/errquotient/internal/adapters/mq/worker"
	"github.com/okian/errquotient/internal/adapters/repository"
	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/dedupe"
	"github.com/okian/errquotient/internal/domain/features"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/pipeline"
	"github.com/okian/errquotient/internal/domain/reconcile"
	"github.com/okian/errquotient/internal/domain/session"
	"github.com/okian/errquotient/internal/domain/types"
	"github.com/okian/errquotient/internal/scheduler"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/metrics"
)

// ArtifactStore persists model snapshots. *artifact.FileStore implements it.
type ArtifactStore interface {
	Load(ctx context.Context) (*classifier.Snapshot, error)
	Save(ctx context.Context, snap *classifier.Snapshot) error
}

// recomputeAdapter adapts the pipeline to worker.Recomputer.
type recomputeAdapter struct {
	pipeline *pipeline.Pipeline
}

func (a *recomputeAdapter) Recompute(ctx context.Context, userID string) error {
	_, _, err := a.pipeline.ProcessUser(ctx, userID)
	return err
}

// Service implements the API dependencies of the EQ classifier.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	artifacts  ArtifactStore
	model      *classifier.Handle
	pipeline   *pipeline.Pipeline
	reconciler *reconcile.Engine
	pending    dedupe.Pending
	queue      eventqueue.Queue
	workerPool *workerpool.Pool
	retrains   singleflight.Group

	// Configuration
	sqliteDSN      string
	workerCount    int
	queueSize      int
	dedupeSize     int
	sessionGap     time.Duration
	eventsPage     int
	historyPage    int
	rowsPage       int
	writeBatch     int
	concurrency    int
	nInit          int
	seed           int64
	retrainEnabled bool
	retrainHour    int
	retrainMinute  int
	retrainTZ      string

	// State
	started      bool
	startedAt    time.Time
	stopSchedule context.CancelFunc
	background   sync.WaitGroup

	logger logger.Logger
	now    func() time.Time
}

// New constructs a Service with default configuration. The model handle is
// empty until Start loads a snapshot.
func New(opts ...Option) *Service {
	s := &Service{
		ownsStore:   true,
		model:       classifier.NewHandle(nil),
		workerCount: runtime.NumCPU() * 2,
		queueSize:   10_000,
		dedupeSize:  50_000,
		sessionGap:  session.DefaultMaxGap,
		eventsPage:  1000,
		historyPage: 2000,
		rowsPage:    1000,
		writeBatch:  500,
		concurrency: 4,
		nInit:       10,
		seed:        42,
		retrainTZ:   scheduler.DefaultTimezone,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, loads the model and starts the workers and the
// daily retrain. Background work outlives ctx and ends with Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting errquotient service...")

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}

	s.loadModel(ctx)

	segmenter := session.New(session.WithMaxGap(s.sessionGap), session.WithLogger(s.logger.Named("session")))
	s.pipeline = pipeline.New(s.store, s.model,
		pipeline.WithSegmenter(segmenter),
		pipeline.WithLogger(s.logger.Named("pipeline")),
		pipeline.WithEventsPageSize(s.eventsPage),
		pipeline.WithWriteBatchSize(s.writeBatch),
		pipeline.WithConcurrency(s.concurrency),
		pipeline.WithClock(s.now),
	)
	s.reconciler = reconcile.New(s.store,
		reconcile.WithPageSize(s.historyPage),
		reconcile.WithBatchSize(s.writeBatch),
		reconcile.WithLogger(s.logger.Named("reconcile")),
		reconcile.WithClock(s.now),
		reconcile.WithUserLock(s.pipeline.LockUser),
	)

	var daily *scheduler.Daily
	if s.retrainEnabled {
		var err error
		daily, err = scheduler.NewDaily(s.retrainHour, s.retrainMinute, s.retrainTZ, s.scheduledRetrain,
			scheduler.WithName("retrain"),
			scheduler.WithLogger(s.logger.Named("scheduler")),
		)
		if err != nil {
			s.closeOwnedStore(ctx)
			return fmt.Errorf("schedule retrain: %w", err)
		}
	}

	s.pending = dedupe.NewInMemoryPending(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, &recomputeAdapter{pipeline: s.pipeline},
		workerpool.WithLogger(s.logger.Named("worker")),
		workerpool.WithPending(s.pending),
	)
	bg := context.WithoutCancel(ctx)
	s.workerPool.Start(bg)

	if daily != nil {
		var schedCtx context.Context
		schedCtx, s.stopSchedule = context.WithCancel(bg)
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			_ = daily.Run(schedCtx)
		}()
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "errquotient service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("model", string(s.model.State())),
		logger.Bool("dailyRetrain", s.retrainEnabled),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	if s.sqliteDSN == "" {
		s.logger.Info(ctx, "using in-memory store")
		return repository.NewMemoryStore(), nil
	}
	store, err := repository.OpenSQLite(ctx, s.sqliteDSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s.logger.Info(ctx, "using sqlite store", logger.String("dsn", s.sqliteDSN))
	return store, nil
}

// loadModel installs the stored artifact, or the default model when there
// is none or it is unusable.
func (s *Service) loadModel(ctx context.Context) {
	snap := classifier.Default()
	if s.artifacts != nil {
		loaded, err := s.artifacts.Load(ctx)
		switch {
		case err == nil:
			snap = loaded
		case errors.Is(err, artifact.ErrNotExist):
			s.logger.Warn(ctx, "no model artifact, using default model")
		default:
			s.logger.Warn(ctx, "model artifact unusable, using default model", logger.Error(err))
			metrics.RecordErrorByComponent("service", "model_load")
		}
	}
	s.model.Swap(snap)
	metrics.SetModel(stateGauge(s.model.State()), snap.TrainedAt)
	s.logger.Info(ctx, "model loaded", logger.String("state", string(s.model.State())), logger.Int("version", snap.Version))
}

// Stop stops the scheduler, drains the recompute queue and closes a store
// the service opened itself. When ctx ends first in-flight jobs are
// cancelled and the context error is returned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info(ctx, "stopping errquotient service...")
	s.started = false
	stopSchedule, pool, q := s.stopSchedule, s.workerPool, s.queue
	s.stopSchedule = nil
	s.mu.Unlock()

	if stopSchedule != nil {
		stopSchedule()
	}
	s.background.Wait()

	err := pool.Shutdown(ctx)
	_ = q.Close()

	s.mu.Lock()
	s.closeOwnedStore(ctx)
	s.mu.Unlock()

	s.logger.Info(ctx, "errquotient service stopped")
	return err
}

func (s *Service) closeOwnedStore(ctx context.Context) {
	if s.store == nil || !s.ownsStore {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}
	s.store = nil
}

// running returns the components of a started service.
func (s *Service) running() (repository.Store, *pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.pipeline, nil
}

// RecordEvent validates and stores one raw error event.
func (s *Service) RecordEvent(ctx context.Context, e model.ErrorEvent) (model.ErrorEvent, error) {
	store, _, err := s.running()
	if err != nil {
		return model.ErrorEvent{}, err
	}
	stored, err := store.AppendEvent(ctx, e)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidEvent) {
			return model.ErrorEvent{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		s.logger.Error(ctx, "store fault", logger.UserID(e.UserID), logger.Op("append_event"), logger.Error(err))
		return model.ErrorEvent{}, err
	}
	metrics.RecordEventRecorded()
	return stored, nil
}

// Enqueue schedules an asynchronous recompute of userID. Requests for a user
// whose job is still queued are folded into it.
func (s *Service) Enqueue(ctx context.Context, userID string) error {
	if _, _, err := s.running(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: %w", ErrBadRequest, pipeline.ErrEmptyUserID)
	}
	if s.pending.MarkPending(ctx, userID) {
		metrics.RecordRecomputeCoalesced()
		s.logger.Debug(ctx, "recompute already pending", logger.UserID(userID))
		return nil
	}
	if err := s.queue.Enqueue(ctx, eventqueue.Job{UserID: userID, EnqueuedAt: s.now()}); err != nil {
		s.pending.Clear(ctx, userID)
		if errors.Is(err, eventqueue.ErrFull) {
			return fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return err
	}
	return nil
}

// Ingest records e and schedules its user for recompute. A backpressure
// error still returns the stored event.
func (s *Service) Ingest(ctx context.Context, e model.ErrorEvent) (model.ErrorEvent, error) {
	stored, err := s.RecordEvent(ctx, e)
	if err != nil {
		return model.ErrorEvent{}, err
	}
	return stored, s.Enqueue(ctx, stored.UserID)
}

// Classify records e, recomputes its user synchronously and returns the
// resulting classification. A user without a usable session yet gets the
// neutral class.
func (s *Service) Classify(ctx context.Context, e model.ErrorEvent) (types.Classification, error) {
	stored, err := s.RecordEvent(ctx, e)
	if err != nil {
		return types.Classification{}, err
	}
	_, p, err := s.running()
	if err != nil {
		return types.Classification{}, err
	}
	out, ok, err := p.ProcessUser(ctx, stored.UserID)
	if err != nil {
		return types.Classification{}, err
	}
	if !ok {
		if _, err := s.model.Load(); err != nil {
			return types.Classification{}, err
		}
		return types.Classification{
			UserID:      stored.UserID,
			Performance: model.PerformanceMedium,
			Cluster:     model.LabelMedium,
		}, nil
	}
	return types.Classification{
		UserID:         out.UserID,
		Performance:    out.Performance,
		Cluster:        out.Cluster,
		AverageEQScore: out.AverageEQScore,
		TotalSessions:  out.TotalSessions,
	}, nil
}

// ProcessUser recomputes one user; false means no usable data.
func (s *Service) ProcessUser(ctx context.Context, userID string) (pipeline.Outcome, bool, error) {
	_, p, err := s.running()
	if err != nil {
		return pipeline.Outcome{}, false, err
	}
	return p.ProcessUser(ctx, userID)
}

// ProcessAll recomputes every user that has events.
func (s *Service) ProcessAll(ctx context.Context) (pipeline.Summary, error) {
	_, p, err := s.running()
	if err != nil {
		return pipeline.Summary{}, err
	}
	return p.ProcessAll(ctx)
}

// Predict classifies an average EQ score with the live model.
func (s *Service) Predict(_ context.Context, averageEQ float64) (types.Classification, error) {
	perf, cluster, err := s.model.Predict([]float64{averageEQ})
	if err != nil {
		return types.Classification{}, err
	}
	metrics.RecordPrediction(string(perf))
	return types.Classification{Performance: perf, Cluster: cluster, AverageEQScore: averageEQ}, nil
}

// Profile returns a user's profile or repository.ErrNotFound.
func (s *Service) Profile(ctx context.Context, userID string) (model.UserProfile, error) {
	store, _, err := s.running()
	if err != nil {
		return model.UserProfile{}, err
	}
	return store.GetProfile(ctx, userID)
}

// Sessions returns a page of a user's session records.
func (s *Service) Sessions(ctx context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error) {
	store, _, err := s.running()
	if err != nil {
		return nil, err
	}
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d limit %d", ErrBadRequest, offset, limit)
	}
	return store.FetchSessionRecords(ctx, userID, offset, limit)
}

// Features returns a user's feature view in schema: the stored EQ aggregate
// or the weighted error-count layout computed from raw events.
func (s *Service) Features(ctx context.Context, userID string, schema features.Schema) (any, error) {
	store, _, err := s.running()
	if err != nil {
		return nil, err
	}
	switch schema {
	case features.SchemaEQ:
		p, err := store.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		return features.FromProfile(p), nil
	case features.SchemaWeighted:
		var messages []string
		for offset := 0; ; offset += s.eventsPage {
			page, err := store.FetchEvents(ctx, userID, offset, s.eventsPage)
			if err != nil {
				return nil, err
			}
			for _, e := range page {
				messages = append(messages, e.RawMessage)
			}
			if len(page) < s.eventsPage {
				break
			}
		}
		if len(messages) == 0 {
			return nil, repository.ErrNotFound
		}
		return features.AggregateWeighted(messages, len(messages)), nil
	}
	return nil, fmt.Errorf("%w: unknown feature schema %q", ErrBadRequest, schema)
}

// ModelInfo describes the live model and the last retrain.
func (s *Service) ModelInfo(ctx context.Context) types.ModelInfo {
	snap, _ := s.model.Load()
	var meta *model.ModelMetadata
	if store, _, err := s.running(); err == nil {
		m, err := store.GetModelMetadata(ctx)
		switch {
		case err == nil:
			meta = &m
		case !errors.Is(err, repository.ErrNotFound):
			s.logger.Warn(ctx, "read model metadata", logger.Error(err))
		}
	}
	return types.NewModelInfo(s.model.State(), snap, meta)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.Stats{
		Started:    s.started,
		ModelState: s.model.State(),
		Workers:    s.workerCount,
		Goroutines: runtime.NumGoroutine(),
	}
	if snap, err := s.model.Load(); err == nil {
		stats.ModelVersion = snap.Version
	}
	if !s.started {
		return stats
	}

	stats.Uptime = s.now().Sub(s.startedAt).Round(time.Second).String()
	stats.QueueSize = s.queue.Len()
	stats.QueueCapacity = s.queue.Cap()
	// pending before in-flight: a job is counted in flight before its
	// pending mark is cleared, so both zero means the queue is drained.
	stats.PendingUsers = s.pending.Size()
	stats.JobsInFlight = s.workerPool.InFlight()
	stats.JobsProcessed, stats.JobsFailed = s.workerPool.Stats()
	if counts, err := s.store.Count(ctx); err == nil {
		stats.Events = counts.Events
		stats.Sessions = counts.Sessions
		stats.Profiles = counts.Profiles
	} else {
		s.logger.Warn(ctx, "count store records", logger.Error(err))
	}
	return stats
}

func stateGauge(st classifier.State) int {
	switch st {
	case classifier.StateFitted:
		return 2
	case classifier.StateDefault:
		return 1
	default:
		return 0
	}
}
