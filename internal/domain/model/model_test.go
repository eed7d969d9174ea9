package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestState(t *testing.T) {
	convey.Convey("Given the lifecycle states", t, func() {
		states := model.LifecycleStates()

		convey.Convey("Then there are exactly eleven in order", func() {
			convey.So(len(states), convey.ShouldEqual, 11)
			convey.So(states[0], convey.ShouldEqual, model.StateCreated)
			convey.So(states[10], convey.ShouldEqual, model.StateDelivered)
			for i, s := range states {
				convey.So(s.Ordinal(), convey.ShouldEqual, i)
			}
		})

		convey.Convey("Then Next walks the forward path", func() {
			next, ok := model.StatePartsOrdered.Next()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(next, convey.ShouldEqual, model.StateTesting)

			_, ok = model.StateDelivered.Next()
			convey.So(ok, convey.ShouldBeFalse)
			_, ok = model.StateEscalated.Next()
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("Then ESCALATED is valid but has no ordinal", func() {
			convey.So(model.StateEscalated.Valid(), convey.ShouldBeTrue)
			convey.So(model.StateEscalated.Ordinal(), convey.ShouldEqual, -1)
			convey.So(model.StateEscalated.IsOutOfBand(), convey.ShouldBeTrue)
			convey.So(model.State("Completed and Delivered").Valid(), convey.ShouldBeFalse)
		})

		convey.Convey("Then technicians are required from IN_PROGRESS on", func() {
			convey.So(model.StateApproved.RequiresTechnician(), convey.ShouldBeFalse)
			convey.So(model.StateInProgress.RequiresTechnician(), convey.ShouldBeTrue)
			convey.So(model.StateDelivered.RequiresTechnician(), convey.ShouldBeTrue)
		})

		convey.Convey("When parsing loose input", func() {
			s, err := model.ParseState("quality-check")
			convey.So(err, convey.ShouldBeNil)
			convey.So(s, convey.ShouldEqual, model.StateQualityCheck)

			_, err = model.ParseState("shipped")
			convey.So(errors.Is(err, model.ErrInvalidState), convey.ShouldBeTrue)
		})
	})
}

func TestJobSpecValidate(t *testing.T) {
	convey.Convey("Given a job spec", t, func() {
		spec := model.JobSpec{
			Priority:       "urgent",
			RequiredSkills: []string{" Screen_Repair", "battery", "screen_repair", ""},
			Location:       model.Location{Lat: 52.37, Lng: 4.89},
			Parts:          []model.Part{{SKU: "LCD-1"}},
		}

		convey.Convey("When validating", func() {
			err := spec.Validate()

			convey.Convey("Then enums, skills and parts are normalized", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(spec.Priority, convey.ShouldEqual, model.PriorityUrgent)
				convey.So(spec.CustomerTier, convey.ShouldEqual, model.TierStandard)
				convey.So(spec.RequiredSkills, convey.ShouldResemble, []string{"battery", "screen_repair"})
				convey.So(spec.Parts[0].Quantity, convey.ShouldEqual, 1)
				convey.So(spec.Parts[0].Availability, convey.ShouldEqual, model.PartOrderRequired)
			})
		})

		convey.Convey("When the priority is unknown", func() {
			spec.Priority = "whenever"
			err := spec.Validate()
			convey.So(errors.Is(err, model.ErrInvalidSpec), convey.ShouldBeTrue)
			convey.So(errors.Is(err, model.ErrInvalidPriority), convey.ShouldBeTrue)
		})

		convey.Convey("When a part sku repeats", func() {
			spec.Parts = append(spec.Parts, model.Part{SKU: "LCD-1"})
			convey.So(errors.Is(spec.Validate(), model.ErrInvalidSpec), convey.ShouldBeTrue)
		})

		convey.Convey("When the location is out of range", func() {
			spec.Location.Lat = 123
			convey.So(errors.Is(spec.Validate(), model.ErrInvalidSpec), convey.ShouldBeTrue)
		})
	})
}

func TestJobHelpers(t *testing.T) {
	convey.Convey("Given a job with history, parts and escalations", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		job := &model.Job{
			ID:             "job-1",
			State:          model.StatePartsOrdered,
			StateEnteredAt: now.Add(-90 * time.Minute),
			RequiredSkills: []string{"screen_repair"},
			Parts: []model.Part{
				{SKU: "LCD-1", Availability: model.PartInStock},
				{SKU: "BAT-2", Availability: model.PartOrderRequired},
			},
			History:          []model.HistoryEntry{{To: model.StateCreated, At: now.Add(-3 * time.Hour)}},
			EscalationsFired: []model.EscalationRecord{{Level: 1}, {Level: 2}},
		}

		convey.Convey("Then derived values are computed", func() {
			convey.So(job.TimeInState(now), convey.ShouldEqual, 90*time.Minute)
			convey.So(job.TimeInState(now.Add(-2*time.Hour)), convey.ShouldEqual, 0)
			convey.So(job.PartsNotInStock(), convey.ShouldResemble, []string{"BAT-2"})
			convey.So(job.HasFiredLevel(2), convey.ShouldBeTrue)
			convey.So(job.HasFiredLevel(3), convey.ShouldBeFalse)
			convey.So(job.EscalationLevel(), convey.ShouldEqual, 2)
		})

		convey.Convey("When cloning", func() {
			c := job.Clone()
			c.Parts[0].Availability = model.PartBackordered
			c.History = append(c.History, model.HistoryEntry{To: model.StateInDiagnosis})
			c.RequiredSkills[0] = "soldering"

			convey.Convey("Then the original is untouched", func() {
				convey.So(job.Parts[0].Availability, convey.ShouldEqual, model.PartInStock)
				convey.So(len(job.History), convey.ShouldEqual, 1)
				convey.So(job.RequiredSkills[0], convey.ShouldEqual, "screen_repair")
			})
		})
	})
}

func TestNewJob(t *testing.T) {
	convey.Convey("Given a job spec", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		spec := model.JobSpec{
			ID:             "  job-9 ",
			CustomerID:     "cust-3",
			Priority:       model.PriorityUrgent,
			CustomerTier:   model.TierPremium,
			RequiredSkills: []string{"battery"},
			Parts:          []model.Part{{SKU: "BAT-2", Availability: model.PartBackordered}},
		}

		convey.Convey("When no estimate is given", func() {
			job := model.NewJob(spec, now, 2.5)

			convey.Convey("Then the job starts in CREATED with the default estimate", func() {
				convey.So(job.ID, convey.ShouldEqual, "job-9")
				convey.So(job.State, convey.ShouldEqual, model.StateCreated)
				convey.So(job.EstimatedHours, convey.ShouldEqual, 2.5)
				convey.So(job.Priority, convey.ShouldEqual, model.PriorityUrgent)
				convey.So(job.PartsNotInStock(), convey.ShouldResemble, []string{"BAT-2"})
				convey.So(job.StateEnteredAt, convey.ShouldEqual, now)
				convey.So(job.History, convey.ShouldBeEmpty)
				convey.So(job.SLAResponseDeadline.IsZero(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the spec carries an estimate and no id", func() {
			spec.ID = ""
			spec.EstimatedHours = 4
			job := model.NewJob(spec, now, 2.5)

			convey.Convey("Then the estimate is kept and the id left to the caller", func() {
				convey.So(job.ID, convey.ShouldBeEmpty)
				convey.So(job.EstimatedHours, convey.ShouldEqual, 4)
			})
		})
	})
}

func TestTechnician(t *testing.T) {
	convey.Convey("Given a technician", t, func() {
		base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		tech := &model.Technician{
			ID:               " tech-1 ",
			Skills:           []string{"Soldering", "screen_repair"},
			PerformanceScore: 80,
			Commitments: []model.Commitment{
				{JobID: "a", Window: model.TimeWindow{Start: base, End: base.Add(time.Hour)}},
				{JobID: "b", Window: model.TimeWindow{Start: base, End: base.Add(time.Hour)}},
			},
		}

		convey.Convey("When validating", func() {
			convey.So(tech.Validate(), convey.ShouldBeNil)
			convey.So(tech.ID, convey.ShouldEqual, "tech-1")
			convey.So(tech.HasSkill("soldering"), convey.ShouldBeTrue)
			convey.So(tech.HasSkill("battery"), convey.ShouldBeFalse)
		})

		convey.Convey("When the performance score is out of range", func() {
			tech.PerformanceScore = 120
			convey.So(errors.Is(tech.Validate(), model.ErrInvalidTechnician), convey.ShouldBeTrue)
		})

		convey.Convey("When releasing a commitment", func() {
			tech.ReleaseCommitment("a")
			convey.So(len(tech.Commitments), convey.ShouldEqual, 1)
			convey.So(tech.Commitments[0].JobID, convey.ShouldEqual, "b")
		})

		convey.Convey("Then windows overlap correctly", func() {
			w := model.TimeWindow{Start: base, End: base.Add(4 * time.Hour)}
			o := model.TimeWindow{Start: base.Add(3 * time.Hour), End: base.Add(6 * time.Hour)}
			convey.So(w.Overlap(o), convey.ShouldEqual, time.Hour)
			convey.So(o.Overlap(w), convey.ShouldEqual, time.Hour)
			convey.So(w.Overlap(model.TimeWindow{Start: base.Add(5 * time.Hour), End: base.Add(6 * time.Hour)}), convey.ShouldEqual, 0)
			convey.So(model.TimeWindow{Start: base.Add(time.Hour), End: base}.Duration(), convey.ShouldEqual, 0)
		})
	})
}
