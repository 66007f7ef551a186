package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func familyNames(t *testing.T, g prometheus.Gatherer) map[string]bool {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a private registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("eq"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.eventsRecorded.Inc()
				names := familyNames(t, registry)
				So(names["test_eq_events_recorded_total"], ShouldBeTrue)
			})
		})

		Convey("When empty option values are passed", func() {
			manager := NewManager(WithNamespace(""), WithHistogramBuckets(nil), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "errquotient")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording pipeline and model metrics", func() {
			So(func() {
				RecordEventRecorded()
				RecordEventDropped("unparseable_timestamp")
				RecordUserProcessed("ok", 3*time.Millisecond)
				RecordSessionScored(0.727)
				RecordPrediction("HIGH")
				RecordRetrain("fitted", time.Second)
				SetModel(2, time.Now())
				RecordReconcileRecords("updated", 4)
				RecordReconcileRecords("cleared", 0)
				RecordReconcileFailure()
				RecordStoreLatency("fetch_events", 1500*time.Microsecond)
			}, ShouldNotPanic)

			Convey("Then they are exposed on the registry", func() {
				names := familyNames(t, GetRegistry())
				So(names["errquotient_events_recorded_total"], ShouldBeTrue)
				So(names["errquotient_events_dropped_total"], ShouldBeTrue)
				So(names["errquotient_session_eq_score"], ShouldBeTrue)
				So(names["errquotient_retrain_runs_total"], ShouldBeTrue)
				So(names["errquotient_model_state"], ShouldBeTrue)
				So(names["errquotient_reconcile_records_total"], ShouldBeTrue)
			})
		})

		Convey("When recording queue, worker and http metrics", func() {
			So(func() {
				UpdateQueueSize(10)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueEnqueueError()
				RecordRecomputeCoalesced()
				UpdateWorkerCount(4)
				AddWorkerActive(1)
				AddWorkerActive(-1)
				RecordWorkerProcessingLatency(2 * time.Millisecond)
				RecordWorkerError()
				RecordHTTPRequest("/classify", "POST", "200", 12.5)
				RecordErrorByComponent("pipeline", "store")
				UpdateSystemStats()
			}, ShouldNotPanic)

			Convey("Then the http family is present", func() {
				names := familyNames(t, GetRegistry())
				So(names["errquotient_http_requests_total"], ShouldBeTrue)
				So(names["errquotient_system_goroutines"], ShouldBeTrue)
			})
		})
	})
}
