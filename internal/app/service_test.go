package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/errquotient/internal/adapters/repository"
	service "github.com/okian/errquotient/internal/app"
	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/features"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/types"
	"github.com/okian/errquotient/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
	if err := logger.SetLevelString("error"); err != nil {
		panic(err)
	}
}

// blockingStore parks the recompute of one user until release is closed.
type blockingStore struct {
	*repository.MemoryStore
	user    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore(user string) *blockingStore {
	return &blockingStore{
		MemoryStore: repository.NewMemoryStore(),
		user:        user,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *blockingStore) FetchEvents(ctx context.Context, userID string, offset, limit int) ([]model.ErrorEvent, error) {
	if userID == s.user {
		s.once.Do(func() { close(s.entered) })
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.MemoryStore.FetchEvents(ctx, userID, offset, limit)
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it is not started and has no model yet", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats(context.Background())
			So(stats.Started, ShouldBeFalse)
			So(stats.ModelState, ShouldEqual, classifier.StateUninitialized)
		})

		Convey("Then prediction reports the model as unavailable", func() {
			_, err := svc.Predict(context.Background(), 0.5)
			So(errors.Is(err, classifier.ErrModelUnavailable), ShouldBeTrue)
		})

		Convey("Then store operations need Start", func() {
			ctx := context.Background()
			_, err := svc.RecordEvent(ctx, model.ErrorEvent{UserID: "u1", RawMessage: "x"})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(errors.Is(svc.Enqueue(ctx, "u1"), service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.RetrainAll(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Reconcile(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithQueueSize(50_000),
			service.WithDedupeSize(25_000),
			service.WithPageSizes(10, 20, 30),
			service.WithKMeans(3, 7),
			service.WithoutDailyRetrain(),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats(context.Background()).Workers, ShouldEqual, 8)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a service without a model artifact", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithoutDailyRetrain())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then it runs the default model", func() {
				stats := svc.GetStats(ctx)
				So(stats.Started, ShouldBeTrue)
				So(stats.ModelState, ShouldEqual, classifier.StateDefault)
				So(stats.QueueCapacity, ShouldEqual, 10_000)

				c, err := svc.Predict(ctx, 0.9)
				So(err, ShouldBeNil)
				So(c.Performance, ShouldEqual, model.PerformanceMedium)
				So(c.Cluster, ShouldEqual, model.LabelMedium)
			})

			Convey("Then a second Start is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})

		Convey("When stopping the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it is marked as stopped and Stop is idempotent", func() {
				So(svc.GetStats(ctx).Started, ShouldBeFalse)
				So(svc.Stop(ctx), ShouldBeNil)
				_, err := svc.Profile(ctx, "u1")
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})

	Convey("Given a corrupt model artifact", t, func() {
		path := filepath.Join(t.TempDir(), "eq_model.json")
		So(os.WriteFile(path, []byte(`{"k": 5}`), 0o600), ShouldBeNil)
		svc := service.New(service.WithModelPath(path), service.WithoutDailyRetrain())
		ctx := context.Background()

		Convey("Then Start falls back to the default model", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()
			So(svc.ModelInfo(ctx).State, ShouldEqual, classifier.StateDefault)
		})
	})

	Convey("Given an invalid retrain schedule", t, func() {
		svc := service.New(service.WithDailyRetrain(25, 0, "Asia/Jakarta"))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(err, ShouldNotBeNil)
			So(svc.GetStats(context.Background()).Started, ShouldBeFalse)
		})
	})

	Convey("Given a daily retrain in the default zone", t, func() {
		svc := service.New(service.WithDailyRetrain(0, 0, ""), service.WithWorkerCount(1))
		ctx := context.Background()

		Convey("Then the scheduler stops with the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestService_Events(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(1), service.WithoutDailyRetrain())
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When an event has no user", func() {
			_, err := svc.RecordEvent(ctx, model.ErrorEvent{RawMessage: "error: ';' expected"})

			Convey("Then it is a bad request", func() {
				So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
				So(errors.Is(svc.Enqueue(ctx, ""), service.ErrBadRequest), ShouldBeTrue)
			})
		})

		Convey("When an event is recorded", func() {
			e, err := svc.RecordEvent(ctx, model.ErrorEvent{UserID: "u1", RawMessage: "error: ';' expected"})

			Convey("Then it gets an id and a timestamp", func() {
				So(err, ShouldBeNil)
				So(e.ID, ShouldNotBeEmpty)
				So(e.OccurredAt, ShouldNotBeEmpty)
				So(svc.GetStats(ctx).Events, ShouldEqual, 1)
			})
		})

		Convey("When classifying an event with an unreadable timestamp", func() {
			c, err := svc.Classify(ctx, model.ErrorEvent{UserID: "u2", RawMessage: "error: x", OccurredAt: "last tuesday"})

			Convey("Then the user gets the neutral class and no profile", func() {
				So(err, ShouldBeNil)
				So(c.Performance, ShouldEqual, model.PerformanceMedium)
				So(c.TotalSessions, ShouldEqual, 0)
				_, err := svc.Profile(ctx, "u2")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When classifying events with empty messages", func() {
			var (
				c   types.Classification
				err error
			)
			for i, at := range []string{"2024-03-01T09:00:00Z", "2024-03-01T09:01:00Z"} {
				c, err = svc.Classify(ctx, model.ErrorEvent{UserID: "u5", RawMessage: []string{"", "   "}[i], OccurredAt: at})
				So(err, ShouldBeNil)
			}

			Convey("Then they are stored and scored as unclassified", func() {
				So(c.UserID, ShouldEqual, "u5")
				So(c.Performance, ShouldEqual, model.PerformanceMedium)
				So(c.TotalSessions, ShouldEqual, 1)
				So(c.AverageEQScore, ShouldEqual, 0)

				recs, err := svc.Sessions(ctx, "u5", 0, 10)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				So(recs[0].EventCount, ShouldEqual, 2)
				So(recs[0].SessionEQScore, ShouldEqual, 0)
			})
		})

		Convey("When asking for features", func() {
			_, err := svc.Classify(ctx, model.ErrorEvent{UserID: "u3", RawMessage: "A.java:3: error: cannot find symbol", OccurredAt: "2024-03-01T09:00:00Z"})
			So(err, ShouldBeNil)

			Convey("Then both schemas are served", func() {
				eq, err := svc.Features(ctx, "u3", features.SchemaEQ)
				So(err, ShouldBeNil)
				So(eq.(features.EQFeatures).TotalSessions, ShouldEqual, 1)

				w, err := svc.Features(ctx, "u3", features.SchemaWeighted)
				So(err, ShouldBeNil)
				So(w.(features.WeightedFeatures).Counts[model.CannotFindSymbol], ShouldEqual, 1)

				_, err = svc.Features(ctx, "nobody", features.SchemaWeighted)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = svc.Features(ctx, "u3", features.Schema("legacy"))
				So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
			})
		})

		Convey("When paging sessions with a bad limit", func() {
			_, err := svc.Sessions(ctx, "u1", 0, 0)

			Convey("Then it is a bad request", func() {
				So(errors.Is(err, service.ErrBadRequest), ShouldBeTrue)
			})
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given one worker stuck on a user and a queue of one", t, func() {
		ctx := context.Background()
		store := newBlockingStore("stuck")
		svc := service.New(
			service.WithStore(store),
			service.WithWorkerCount(1),
			service.WithQueueSize(1),
			service.WithoutDailyRetrain(),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		So(svc.Enqueue(ctx, "stuck"), ShouldBeNil)
		select {
		case <-store.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("worker never picked up the job")
		}

		Convey("When more users are scheduled", func() {
			first := svc.Enqueue(ctx, "u1")
			again := svc.Enqueue(ctx, "u1")
			overflow := svc.Enqueue(ctx, "u2")
			close(store.release)

			Convey("Then a pending user is coalesced and a full queue pushes back", func() {
				So(first, ShouldBeNil)
				So(again, ShouldBeNil)
				So(errors.Is(overflow, service.ErrBackpressure), ShouldBeTrue)
			})
		})
	})
}
