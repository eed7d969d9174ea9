package scoring_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// Amsterdam centre and a point roughly 10 km east of it.
var (
	shop   = model.Location{Lat: 52.3676, Lng: 4.9041}
	nearby = model.Location{Lat: 52.3676, Lng: 5.0510}
	far    = model.Location{Lat: 51.9244, Lng: 4.4777} // Rotterdam, ~57 km
)

func testJob() *model.Job {
	return &model.Job{
		ID:                    "job-1",
		State:                 model.StateCreated,
		Priority:              model.PriorityMedium,
		RequiredSkills:        []string{"screen_repair"},
		Location:              shop,
		SLAResponseDeadline:   now.Add(4 * time.Hour),
		SLACompletionDeadline: now.Add(10 * time.Hour),
	}
}

func testTech(id string) *model.Technician {
	return &model.Technician{
		ID:               id,
		Skills:           []string{"battery", "screen_repair"},
		Location:         shop,
		PerformanceScore: 80,
	}
}

func newScorer() *scoring.Scorer {
	s, err := scoring.NewScorer()
	So(err, ShouldBeNil)
	return s
}

func TestWeights(t *testing.T) {
	Convey("Given scoring weights", t, func() {
		Convey("Then the defaults sum to one", func() {
			So(scoring.DefaultWeights().Validate(), ShouldBeNil)
		})

		Convey("When they do not sum to one", func() {
			w := scoring.DefaultWeights()
			w.Skill = 0.5
			So(errors.Is(w.Validate(), scoring.ErrInvalidWeights), ShouldBeTrue)

			_, err := scoring.NewScorer(scoring.WithWeights(w))
			So(errors.Is(err, scoring.ErrInvalidWeights), ShouldBeTrue)
		})

		Convey("When one is negative", func() {
			w := scoring.Weights{Skill: 1.2, Availability: -0.2}
			So(errors.Is(w.Validate(), scoring.ErrInvalidWeights), ShouldBeTrue)
		})
	})
}

func TestScore(t *testing.T) {
	Convey("Given a job and a technician at the shop", t, func() {
		s := newScorer()
		job := testJob()
		tech := testTech("tech-1")

		Convey("When the technician is idle with no commitments", func() {
			sc, excl := s.Score(job, tech, now)

			Convey("Then every factor but performance is perfect", func() {
				So(excl, ShouldEqual, scoring.ExclusionNone)
				So(sc.SkillMatch, ShouldEqual, 100)
				So(sc.Availability, ShouldEqual, 100)
				So(sc.Location, ShouldAlmostEqual, 100, 1e-9)
				So(sc.Workload, ShouldEqual, 100)
				So(sc.Performance, ShouldEqual, 80)
				So(sc.Overall, ShouldAlmostEqual, 97, 1e-9)
				So(sc.Recommendation, ShouldEqual, model.RecommendationExcellent)
			})
		})

		Convey("When a required skill is missing", func() {
			job.RequiredSkills = []string{"micro_soldering", "screen_repair"}
			_, excl := s.Score(job, tech, now)
			So(excl, ShouldEqual, scoring.ExclusionMissingSkill)
		})

		Convey("When the technician is beyond the travel radius", func() {
			tech.Location = far
			_, excl := s.Score(job, tech, now)
			So(excl, ShouldEqual, scoring.ExclusionOutOfRange)

			Convey("Then an urgent job still considers them with a zero location score", func() {
				job.Priority = model.PriorityUrgent
				sc, excl := s.Score(job, tech, now)
				So(excl, ShouldEqual, scoring.ExclusionNone)
				So(sc.Location, ShouldEqual, 0)
				So(sc.DistanceKm, ShouldBeGreaterThan, 50)
			})
		})

		Convey("When the technician is about 10 km away", func() {
			tech.Location = nearby
			sc, _ := s.Score(job, tech, now)
			So(sc.DistanceKm, ShouldAlmostEqual, 10, 0.2)
			So(sc.Location, ShouldAlmostEqual, 80, 0.5)
		})

		Convey("When half the SLA window is already committed", func() {
			tech.Commitments = []model.Commitment{{
				JobID:  "other",
				Window: model.TimeWindow{Start: now.Add(5 * time.Hour), End: now.Add(10 * time.Hour)},
			}}
			sc, excl := s.Score(job, tech, now)
			So(excl, ShouldEqual, scoring.ExclusionNone)
			So(sc.Availability, ShouldAlmostEqual, 50, 1e-9)
		})

		Convey("When everything before the response deadline is committed", func() {
			tech.Commitments = []model.Commitment{{
				JobID:  "other",
				Window: model.TimeWindow{Start: now, End: now.Add(4 * time.Hour)},
			}}
			_, excl := s.Score(job, tech, now)
			So(excl, ShouldEqual, scoring.ExclusionNoCapacity)
		})

		Convey("When the technician only works after the response deadline", func() {
			tech.AvailabilityWindows = []model.TimeWindow{{Start: now.Add(6 * time.Hour), End: now.Add(12 * time.Hour)}}
			_, excl := s.Score(job, tech, now)
			So(excl, ShouldEqual, scoring.ExclusionNoCapacity)
		})

		Convey("When the workload grows", func() {
			var prev, prevDrop float64 = 100, 0
			for n := 1; n <= 8; n++ {
				tech.ActiveJobCount = n
				sc, _ := s.Score(job, tech, now)
				drop := prev - sc.Workload
				So(drop, ShouldBeGreaterThanOrEqualTo, prevDrop)
				prev, prevDrop = sc.Workload, drop
			}
			So(prev, ShouldEqual, 0)
		})
	})
}

func TestTiers(t *testing.T) {
	Convey("Given the default tiers", t, func() {
		tiers := scoring.DefaultTiers()
		So(tiers.Recommend(85), ShouldEqual, model.RecommendationExcellent)
		So(tiers.Recommend(84.99), ShouldEqual, model.RecommendationGood)
		So(tiers.Recommend(70), ShouldEqual, model.RecommendationGood)
		So(tiers.Recommend(50), ShouldEqual, model.RecommendationFair)
		So(tiers.Recommend(49.9), ShouldEqual, model.RecommendationPoor)
	})
}

func TestScorePool(t *testing.T) {
	Convey("Given a pool of technicians", t, func() {
		s := newScorer()
		job := testJob()
		pool := make([]*model.Technician, 0, 20)
		for i := 0; i < 20; i++ {
			tech := testTech(fmt.Sprintf("tech-%02d", i))
			if i%4 == 0 {
				tech.Skills = []string{"battery"}
			}
			tech.ActiveJobCount = i % 5
			pool = append(pool, tech)
		}

		Convey("When scoring the whole pool", func() {
			res, err := s.ScorePool(context.Background(), job, pool, now)

			Convey("Then eligible scores keep pool order and exclusions are tallied", func() {
				So(err, ShouldBeNil)
				So(len(res.Scores), ShouldEqual, 15)
				So(res.ExclusionCounts()[scoring.ExclusionMissingSkill], ShouldEqual, 5)
				So(res.Scores[0].TechnicianID, ShouldEqual, "tech-01")
				for _, sc := range res.Scores {
					So(math.IsNaN(sc.Overall), ShouldBeFalse)
				}
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := s.ScorePool(ctx, job, pool, now)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}
