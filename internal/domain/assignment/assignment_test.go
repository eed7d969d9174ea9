package assignment_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

var shop = model.Location{Lat: 40.4168, Lng: -3.7038}

func urgentJob() *model.Job {
	return &model.Job{
		ID:                    "job-urgent",
		State:                 model.StateCreated,
		Priority:              model.PriorityUrgent,
		CustomerTier:          model.TierStandard,
		RequiredSkills:        []string{"screen_repair"},
		Location:              shop,
		SLAResponseDeadline:   now.Add(time.Hour),
		SLACompletionDeadline: now.Add(24 * time.Hour),
	}
}

func tech(id string, skills []string, active int, perf float64) *model.Technician {
	return &model.Technician{
		ID:               id,
		Skills:           skills,
		Location:         shop,
		ActiveJobCount:   active,
		PerformanceScore: perf,
	}
}

func newEngine(opts ...assignment.Option) *assignment.Engine {
	s, err := scoring.NewScorer()
	So(err, ShouldBeNil)
	return assignment.NewEngine(s, opts...)
}

func TestRankUrgentScenario(t *testing.T) {
	Convey("Given an urgent screen repair and three technicians", t, func() {
		e := newEngine()
		job := urgentJob()
		pool := []*model.Technician{
			tech("alice", []string{"screen_repair"}, 2, 70),
			tech("bob", []string{"screen_repair", "battery"}, 0, 90),
			// carol would win on every factor but lacks the skill.
			tech("carol", []string{"battery"}, 0, 100),
		}

		Convey("When ranking", func() {
			res, err := e.Rank(context.Background(), job, pool, now)

			Convey("Then carol is excluded and the higher weighted score wins", func() {
				So(err, ShouldBeNil)
				So(res.Winner.TechnicianID, ShouldEqual, "bob")
				So(len(res.Alternatives), ShouldEqual, 1)
				So(res.Alternatives[0].TechnicianID, ShouldEqual, "alice")
				So(res.Excluded[scoring.ExclusionMissingSkill], ShouldEqual, 1)
				So(res.Considered, ShouldEqual, 3)
				So(res.Winner.Overall, ShouldBeGreaterThanOrEqualTo, res.Alternatives[0].Overall)
				So(res.Reason, ShouldContainSubstring, "bob")
				So(res.Reason, ShouldContainSubstring, "missing_skill=1")
			})

			Convey("Then confidence reflects the lead over alice", func() {
				gap := res.Winner.Overall - res.Alternatives[0].Overall
				So(res.Winner.Confidence, ShouldAlmostEqual, min(gap/25, 1), 1e-9)
			})
		})
	})
}

func TestRankDeterminism(t *testing.T) {
	Convey("Given a pool with exact ties", t, func() {
		e := newEngine(assignment.WithMaxAlternatives(10))
		job := urgentJob()
		job.RequiredSkills = nil

		var pool []*model.Technician
		for i := 0; i < 12; i++ {
			// four groups of identical score inputs
			pool = append(pool, tech(fmt.Sprintf("t%02d", i), nil, i%4, 80))
		}
		// identical to t00, t04 and t08; only the id separates them
		pool = append(pool, tech("a-first", nil, 0, 80))

		Convey("When ranking the same pool in many shuffled orders", func() {
			base, err := e.Rank(context.Background(), job, pool, now)
			So(err, ShouldBeNil)

			rng := rand.New(rand.NewSource(7))
			for round := 0; round < 25; round++ {
				shuffled := append([]*model.Technician(nil), pool...)
				rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
				got, err := e.Rank(context.Background(), job, shuffled, now)
				So(err, ShouldBeNil)
				So(got.Winner.TechnicianID, ShouldEqual, base.Winner.TechnicianID)
				So(len(got.Alternatives), ShouldEqual, len(base.Alternatives))
				for i := range got.Alternatives {
					So(got.Alternatives[i].TechnicianID, ShouldEqual, base.Alternatives[i].TechnicianID)
				}
			}

			Convey("Then ties go to the smallest id within the best group", func() {
				So(base.Winner.TechnicianID, ShouldEqual, "a-first")
				So(base.Alternatives[0].TechnicianID, ShouldEqual, "t00")
			})
		})
	})
}

func TestTieBreakOrder(t *testing.T) {
	Convey("Given equal overall scores", t, func() {
		a := scoring.Score{TechnicianID: "b", Overall: 80, ActiveJobCount: 1, Performance: 70}
		b := scoring.Score{TechnicianID: "a", Overall: 80, ActiveJobCount: 2, Performance: 90}

		Convey("Then fewer active jobs wins first", func() {
			So(assignment.Less(a, b), ShouldBeTrue)
		})

		Convey("Then higher performance wins next", func() {
			b.ActiveJobCount = 1
			So(assignment.Less(b, a), ShouldBeTrue)
		})

		Convey("Then the smaller id wins last", func() {
			b.ActiveJobCount, b.Performance = 1, 70
			So(assignment.Less(b, a), ShouldBeTrue)
			So(assignment.Less(a, b), ShouldBeFalse)
		})
	})
}

func TestRankNoEligible(t *testing.T) {
	Convey("Given a pool where nobody qualifies", t, func() {
		e := newEngine()
		job := urgentJob()
		job.Priority = model.PriorityMedium
		farAway := tech("dave", []string{"screen_repair"}, 0, 90)
		farAway.Location = model.Location{Lat: 41.3874, Lng: 2.1686} // Barcelona
		pool := []*model.Technician{
			tech("erin", []string{"battery"}, 0, 90),
			farAway,
		}

		Convey("When ranking", func() {
			_, err := e.Rank(context.Background(), job, pool, now)

			Convey("Then the error carries the exclusion counts", func() {
				var ne *assignment.NoEligibleTechnicianError
				So(errors.As(err, &ne), ShouldBeTrue)
				So(errors.Is(err, assignment.ErrNoEligibleTechnician), ShouldBeTrue)
				So(ne.PoolSize, ShouldEqual, 2)
				So(ne.Excluded[scoring.ExclusionMissingSkill], ShouldEqual, 1)
				So(ne.Excluded[scoring.ExclusionOutOfRange], ShouldEqual, 1)
			})
		})

		Convey("When the pool is empty", func() {
			_, err := e.Rank(context.Background(), job, nil, now)
			So(errors.Is(err, assignment.ErrNoEligibleTechnician), ShouldBeTrue)
		})
	})
}

func TestMissingSkillNeverRanked(t *testing.T) {
	Convey("Given random pools", t, func() {
		e := newEngine(assignment.WithMaxAlternatives(50))
		job := urgentJob()
		job.RequiredSkills = []string{"battery", "screen_repair"}
		rng := rand.New(rand.NewSource(42))
		skillSets := [][]string{
			{"battery"},
			{"screen_repair"},
			{"battery", "screen_repair"},
			{"battery", "screen_repair", "water_damage"},
		}

		for round := 0; round < 20; round++ {
			var pool []*model.Technician
			for i := 0; i < 15; i++ {
				pool = append(pool, tech(fmt.Sprintf("r%d-%d", round, i), skillSets[rng.Intn(len(skillSets))], rng.Intn(6), float64(rng.Intn(101))))
			}
			res, err := e.Rank(context.Background(), job, pool, now)
			if err != nil {
				So(errors.Is(err, assignment.ErrNoEligibleTechnician), ShouldBeTrue)
				continue
			}
			all := append([]scoring.Score{res.Winner}, res.Alternatives...)
			for _, sc := range all {
				for _, p := range pool {
					if p.ID == sc.TechnicianID {
						So(p.HasSkill("battery") && p.HasSkill("screen_repair"), ShouldBeTrue)
					}
				}
				So(res.Winner.Overall, ShouldBeGreaterThanOrEqualTo, sc.Overall)
			}
		}
	})
}

func TestCheckFresh(t *testing.T) {
	Convey("Given a job that was ranked while CREATED and unassigned", t, func() {
		job := urgentJob()

		Convey("When nothing changed", func() {
			So(assignment.CheckFresh(job, model.StateCreated, ""), ShouldBeNil)
		})

		Convey("When the job moved on", func() {
			job.State = model.StateInDiagnosis
			err := assignment.CheckFresh(job, model.StateCreated, "")
			var se *assignment.StaleAssignmentError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.ActualState, ShouldEqual, model.StateInDiagnosis)
		})

		Convey("When someone else assigned it", func() {
			job.AssignedTechnicianID = "zoe"
			So(errors.Is(assignment.CheckFresh(job, model.StateCreated, ""), assignment.ErrStaleAssignment), ShouldBeTrue)
		})
	})
}

func TestSingleCandidateConfidence(t *testing.T) {
	Convey("Given a single eligible technician", t, func() {
		e := newEngine()
		res, err := e.Rank(context.Background(), urgentJob(), []*model.Technician{tech("solo", []string{"screen_repair"}, 0, 60)}, now)
		So(err, ShouldBeNil)
		So(res.Alternatives, ShouldBeEmpty)
		So(res.Winner.Confidence, ShouldAlmostEqual, res.Winner.Overall/100, 1e-9)
	})
}
