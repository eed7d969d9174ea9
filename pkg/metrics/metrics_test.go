package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register the domain collectors", func() {
				So(manager, ShouldNotBeNil)
				manager.transitions.WithLabelValues("CREATED", "IN_DIAGNOSIS").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("shop"),
				WithSubsystem("floor"),
				WithMetricPrefix("test"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then runtime settings should be applied", func() {
				So(manager.Enabled(), ShouldBeTrue)
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)
			})

			Convey("Then names should carry namespace, subsystem and prefix", func() {
				manager.jobsCreated.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "shop_floor_test_jobs_created_total")
			})
		})

		Convey("When options receive empty values", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(-time.Second),
				WithCustomLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "repairflow")
				So(manager.subsystem, ShouldEqual, "core")
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
				So(manager.Enabled(), ShouldBeTrue)
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording lifecycle metrics", func() {
			before := testutil.ToFloat64(globalManager.transitions.WithLabelValues("TESTING", "QUALITY_CHECK"))
			RecordTransition("TESTING", "QUALITY_CHECK")
			RecordJobCreated()
			RecordTransitionRejected("parts_not_ready")
			RecordRework()
			RecordJobEscalatedToHuman()

			Convey("Then the transition counter should increase", func() {
				after := testutil.ToFloat64(globalManager.transitions.WithLabelValues("TESTING", "QUALITY_CHECK"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording assignment and escalation metrics", func() {
			So(func() {
				RecordAssignment("initial", "GOOD", 0.4)
				RecordAssignmentFailure("no_eligible")
				RecordScoringLatency(1.5)
				RecordCandidatesConsidered(3)
				RecordCandidateExcluded("missing_skill")
				RecordEscalation("1", "EMAIL_REMINDER")
				RecordNotificationFailure()
				RecordOutcomeApplied()
				RecordOutcomeDuplicate()
			}, ShouldNotPanic)
		})

		Convey("When recording store, queue and http metrics", func() {
			So(func() {
				RecordStoreLatency("save_job", 0.3)
				RecordStoreTimeout("load_job")
				UpdateQueueSize(4)
				UpdateQueueCapacity(128)
				UpdateQueueUtilization(4.0 / 128)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError("queue_full")
				UpdateWorkerCount(8)
				RecordCommandLatency("advance", 0.8)
				RecordCommandSkipped()
				UpdateOpenJobs(3)
				UpdateTechnicianCount(5)
				RecordHTTPRequest("advance", "POST", "200")
				RecordHTTPRequestDuration("advance", "POST", "200", 2)
				RecordHTTPRetry()
				RecordErrorByComponent("app", "store_timeout")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 128)
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Reset(func() {
			Configure(WithMetricsEnabled(true), WithRefreshInterval(defaultRefreshInterval))
		})

		Convey("When collection is disabled", func() {
			Configure(WithMetricsEnabled(false))
			before := testutil.ToFloat64(globalManager.reworks)
			RecordRework()
			UpdateOpenJobs(7)

			Convey("Then the registry is left untouched", func() {
				So(Enabled(), ShouldBeFalse)
				So(testutil.ToFloat64(globalManager.reworks), ShouldEqual, before)
				So(testutil.ToFloat64(globalManager.openJobs), ShouldNotEqual, 7)
			})

			Convey("Then enabling it again resumes recording", func() {
				Configure(WithMetricsEnabled(true))
				RecordRework()
				So(testutil.ToFloat64(globalManager.reworks)-before, ShouldEqual, 1)
			})
		})

		Convey("When the refresh interval changes", func() {
			Configure(WithRefreshInterval(250 * time.Millisecond))

			Convey("Then it is exposed without touching collection", func() {
				So(RefreshInterval(), ShouldEqual, 250*time.Millisecond)
				So(Enabled(), ShouldBeTrue)
			})
		})

		Convey("When an invalid interval is given", func() {
			Configure(WithRefreshInterval(0))

			Convey("Then the previous interval is kept", func() {
				So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		before := testutil.ToFloat64(globalManager.reworks)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					RecordRework()
				}
			}()
		}
		wg.Wait()

		Convey("Then every increment should be counted", func() {
			So(testutil.ToFloat64(globalManager.reworks)-before, ShouldEqual, 1000)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		So(GetRegistry(), ShouldNotBeNil)
		So(GetRegistry(), ShouldEqual, customRegistry)
	})
}
