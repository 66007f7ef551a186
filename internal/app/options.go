package service

import (
	"time"

	"github.com/okian/errquotient/internal/adapters/artifact"
	"github.com/okian/errquotient/internal/adapters/repository"
	"github.com/okian/errquotient/internal/config"
	"github.com/okian/errquotient/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the recompute queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize caps the pending-user set.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore uses an already opened store. The caller keeps ownership and
// closes it after Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.ownsStore = false
		}
	}
}

// WithSQLite makes Start open a SQLite store at dsn instead of the
// in-memory one.
func WithSQLite(dsn string) Option {
	return func(s *Service) { s.sqliteDSN = dsn }
}

// WithModelPath keeps the model artifact in a JSON file at path.
func WithModelPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.artifacts = artifact.NewFileStore(path)
		}
	}
}

// WithArtifactStore overrides where the model artifact lives.
func WithArtifactStore(a ArtifactStore) Option {
	return func(s *Service) { s.artifacts = a }
}

// WithSessionGap sets the inactivity gap that closes a session.
func WithSessionGap(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionGap = d
		}
	}
}

// WithPageSizes sets the read page sizes for events, session history and
// feature rows. Non-positive values keep the defaults.
func WithPageSizes(events, history, rows int) Option {
	return func(s *Service) {
		if events > 0 {
			s.eventsPage = events
		}
		if history > 0 {
			s.historyPage = history
		}
		if rows > 0 {
			s.rowsPage = rows
		}
	}
}

// WithWriteBatchSize sets the chunk size of bulk writes.
func WithWriteBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.writeBatch = n
		}
	}
}

// WithRecomputeConcurrency bounds ProcessAll.
func WithRecomputeConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithKMeans sets the restart count and seed used by RetrainAll.
func WithKMeans(nInit int, seed int64) Option {
	return func(s *Service) {
		if nInit > 0 {
			s.nInit = nInit
		}
		s.seed = seed
	}
}

// WithDailyRetrain schedules RetrainAll at hour:minute in timezone.
func WithDailyRetrain(hour, minute int, timezone string) Option {
	return func(s *Service) {
		s.retrainEnabled = true
		s.retrainHour = hour
		s.retrainMinute = minute
		s.retrainTZ = timezone
	}
}

// WithoutDailyRetrain disables the scheduled retrain.
func WithoutDailyRetrain() Option {
	return func(s *Service) { s.retrainEnabled = false }
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// OptionsFromConfig translates a loaded configuration.
func OptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithModelPath(cfg.ModelPath),
		WithSessionGap(cfg.SessionGap()),
		WithPageSizes(cfg.EventsPageSize, cfg.HistoryPageSize, cfg.RowsPageSize),
		WithWriteBatchSize(cfg.WriteBatchSize),
		WithRecomputeConcurrency(cfg.RecomputeConcurrency),
		WithKMeans(cfg.KMeansNInit, cfg.KMeansSeed),
	}
	if cfg.StoreDriver == config.DriverSQLite {
		opts = append(opts, WithSQLite(cfg.SQLiteDSN))
	}
	if cfg.RetrainEnabled {
		opts = append(opts, WithDailyRetrain(cfg.RetrainHour, cfg.RetrainMinute, cfg.RetrainTimezone))
	} else {
		opts = append(opts, WithoutDailyRetrain())
	}
	return opts
}
