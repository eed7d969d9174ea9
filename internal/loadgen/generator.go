package loadgen

import (
	"fmt"
	"math/rand/v2"

	"github.com/okian/repairflow/internal/domain/model"
)

// maxQCFailures bounds planned rework loops per job. It is above the
// default rework cap so some jobs escalate.
const maxQCFailures = 5

var skillPool = []string{
	"screen_repair",
	"battery",
	"water_damage",
	"board_repair",
	"camera",
	"charging_port",
}

var partPool = []model.Part{
	{SKU: "LCD-6.1", Name: "display assembly", Quantity: 1},
	{SKU: "BAT-3200", Name: "battery cell", Quantity: 1},
	{SKU: "CAM-R12", Name: "rear camera", Quantity: 1},
	{SKU: "USBC-FLEX", Name: "charging flex", Quantity: 1},
}

// shopCenter anchors generated locations.
var shopCenter = model.Location{Lat: 52.5200, Lng: 13.4050}

// jobPlan is everything the walker decides about a job before it starts.
type jobPlan struct {
	Spec       model.JobSpec
	QCFailures int
	Reassign   bool
	Score      float64
}

// generator builds a deterministic plan from a seed.
type generator struct {
	r     *rand.Rand
	runID string
}

func newGenerator(seed uint64, runID string) *generator {
	return &generator{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), runID: runID}
}

// technicians creates a roster that covers every skill at least once.
func (g *generator) technicians(n int) []*model.Technician {
	out := make([]*model.Technician, n)
	for i := range out {
		skills := []string{skillPool[i%len(skillPool)]}
		for _, s := range skillPool {
			if g.r.Float64() < 0.35 {
				skills = append(skills, s)
			}
		}
		out[i] = &model.Technician{
			ID:               fmt.Sprintf("%s-tech-%03d", g.runID, i),
			Name:             fmt.Sprintf("Technician %d", i),
			Skills:           model.NormalizeSkills(skills),
			Location:         g.near(0.15),
			PerformanceScore: 40 + g.r.Float64()*55,
		}
	}
	return out
}

// jobs creates n job plans.
func (g *generator) jobs(n int, reworkRate, reassignRate float64) []jobPlan {
	out := make([]jobPlan, n)
	for i := range out {
		spec := model.JobSpec{
			ID:             fmt.Sprintf("%s-job-%05d", g.runID, i),
			CustomerID:     fmt.Sprintf("cust-%04d", g.r.IntN(1000)),
			Description:    "simulated repair",
			Priority:       g.priority(),
			CustomerTier:   g.tier(),
			RequiredSkills: []string{skillPool[g.r.IntN(len(skillPool))]},
			Location:       g.near(0.1),
			EstimatedHours: float64(1 + g.r.IntN(3)),
			AutoAssign:     true,
			Actor:          "loadgen",
		}
		if g.r.Float64() < 0.2 {
			spec.RequiredSkills = append(spec.RequiredSkills, skillPool[g.r.IntN(len(skillPool))])
		}
		if g.r.Float64() < 0.4 {
			p := partPool[g.r.IntN(len(partPool))]
			p.Availability = model.PartOrderRequired
			if g.r.Float64() < 0.25 {
				p.Availability = model.PartBackordered
			}
			spec.Parts = []model.Part{p}
		}

		plan := jobPlan{Spec: spec, Score: 50 + g.r.Float64()*50}
		for plan.QCFailures < maxQCFailures && g.r.Float64() < reworkRate {
			plan.QCFailures++
		}
		plan.Reassign = g.r.Float64() < reassignRate
		out[i] = plan
	}
	return out
}

func (g *generator) priority() model.Priority {
	switch v := g.r.Float64(); {
	case v < 0.30:
		return model.PriorityLow
	case v < 0.75:
		return model.PriorityMedium
	case v < 0.95:
		return model.PriorityHigh
	default:
		return model.PriorityUrgent
	}
}

func (g *generator) tier() model.CustomerTier {
	switch v := g.r.Float64(); {
	case v < 0.7:
		return model.TierStandard
	case v < 0.9:
		return model.TierPremium
	default:
		return model.TierEnterprise
	}
}

// near returns a point within spread degrees of the shop.
func (g *generator) near(spread float64) model.Location {
	return model.Location{
		Lat: shopCenter.Lat + (g.r.Float64()*2-1)*spread,
		Lng: shopCenter.Lng + (g.r.Float64()*2-1)*spread,
	}
}
