// Package scoring computes the weighted fit of a technician for a job.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Default scoring configuration constants.
const (
	defaultMaxTravelKm      = 50
	defaultWorkloadCapacity = 8
	defaultWorkloadExponent = 2
	defaultResponseGrace    = time.Hour
	defaultConcurrency      = 8
	maxScoreValue           = 100
	weightTolerance         = 1e-6
	earthRadiusKm           = 6371.0
)

// ErrInvalidWeights is returned when weights are negative or do not sum to 1.
var ErrInvalidWeights = errors.New("invalid scoring weights")

// Weights are the factors of the overall score.
type Weights struct {
	Skill        float64 `koanf:"skill" json:"skill"`
	Availability float64 `koanf:"availability" json:"availability"`
	Location     float64 `koanf:"location" json:"location"`
	Performance  float64 `koanf:"performance" json:"performance"`
	Workload     float64 `koanf:"workload" json:"workload"`
}

// DefaultWeights returns skill .30, availability .25, location .20,
// performance .15, workload .10.
func DefaultWeights() Weights {
	return Weights{Skill: 0.30, Availability: 0.25, Location: 0.20, Performance: 0.15, Workload: 0.10}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	parts := []float64{w.Skill, w.Availability, w.Location, w.Performance, w.Workload}
	sum := 0.0
	for _, p := range parts {
		if p < 0 || math.IsNaN(p) {
			return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
		}
		sum += p
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// Tiers are the lower bounds of the recommendation buckets.
type Tiers struct {
	Excellent float64 `koanf:"excellent" json:"excellent"`
	Good      float64 `koanf:"good" json:"good"`
	Fair      float64 `koanf:"fair" json:"fair"`
}

// DefaultTiers returns 85/70/50.
func DefaultTiers() Tiers { return Tiers{Excellent: 85, Good: 70, Fair: 50} }

// Recommend buckets an overall score.
func (t Tiers) Recommend(overall float64) model.Recommendation {
	switch {
	case overall >= t.Excellent:
		return model.RecommendationExcellent
	case overall >= t.Good:
		return model.RecommendationGood
	case overall >= t.Fair:
		return model.RecommendationFair
	default:
		return model.RecommendationPoor
	}
}

// Exclusion names the hard filter that removed a candidate.
type Exclusion string

// Exclusion kinds.
const (
	ExclusionNone         Exclusion = ""
	ExclusionMissingSkill Exclusion = "missing_skill"
	ExclusionNoCapacity   Exclusion = "no_capacity"
	ExclusionOutOfRange   Exclusion = "out_of_range"
)

// Score is the breakdown for one (job, technician) pair. It is never persisted.
type Score struct {
	TechnicianID   string               `json:"technician_id"`
	SkillMatch     float64              `json:"skill_match_score"`
	Availability   float64              `json:"availability_score"`
	Location       float64              `json:"location_score"`
	Performance    float64              `json:"performance_score"`
	Workload       float64              `json:"workload_score"`
	Overall        float64              `json:"overall_score"`
	Confidence     float64              `json:"confidence"`
	Recommendation model.Recommendation `json:"recommendation"`
	DistanceKm     float64              `json:"distance_km"`
	ActiveJobCount int                  `json:"active_job_count"`
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWeights sets the factor weights. NewScorer rejects invalid weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) { s.weights = w }
}

// WithTiers sets the recommendation thresholds.
func WithTiers(t Tiers) Option {
	return func(s *Scorer) {
		if t.Excellent >= t.Good && t.Good >= t.Fair && t.Fair > 0 {
			s.tiers = t
		}
	}
}

// WithMaxTravelKm sets the travel radius.
func WithMaxTravelKm(km float64) Option {
	return func(s *Scorer) {
		if km > 0 {
			s.maxTravelKm = km
		}
	}
}

// WithWorkloadCurve sets the job count at which the workload score reaches
// zero and the exponent of the decay.
func WithWorkloadCurve(capacity int, exponent float64) Option {
	return func(s *Scorer) {
		if capacity > 0 {
			s.workloadCapacity = capacity
		}
		if exponent >= 1 {
			s.workloadExponent = exponent
		}
	}
}

// WithResponseGrace sets the window used for the capacity check once the
// response deadline has already passed.
func WithResponseGrace(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.responseGrace = d
		}
	}
}

// WithConcurrency bounds the goroutines used by ScorePool.
func WithConcurrency(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Scorer computes per-technician scores. It holds no mutable state and is
// safe for concurrent use.
type Scorer struct {
	weights          Weights
	tiers            Tiers
	maxTravelKm      float64
	workloadCapacity int
	workloadExponent float64
	responseGrace    time.Duration
	concurrency      int
}

// NewScorer creates a scorer with configuration options.
func NewScorer(opts ...Option) (*Scorer, error) {
	s := &Scorer{
		weights:          DefaultWeights(),
		tiers:            DefaultTiers(),
		maxTravelKm:      defaultMaxTravelKm,
		workloadCapacity: defaultWorkloadCapacity,
		workloadExponent: defaultWorkloadExponent,
		responseGrace:    defaultResponseGrace,
		concurrency:      defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.weights.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Tiers returns the recommendation thresholds in use.
func (s *Scorer) Tiers() Tiers { return s.tiers }

// Score computes the breakdown for one technician. A non-empty Exclusion
// means the technician is not a candidate; the returned Score is then partial.
func (s *Scorer) Score(job *model.Job, tech *model.Technician, now time.Time) (Score, Exclusion) {
	sc := Score{TechnicianID: tech.ID, ActiveJobCount: tech.ActiveJobCount}

	skill, ok := skillMatch(job.RequiredSkills, tech)
	if !ok {
		return sc, ExclusionMissingSkill
	}
	sc.SkillMatch = skill

	sc.DistanceKm = Haversine(job.Location, tech.Location)
	if sc.DistanceKm > s.maxTravelKm && job.Priority != model.PriorityUrgent {
		return sc, ExclusionOutOfRange
	}
	sc.Location = clamp(maxScoreValue * (1 - sc.DistanceKm/s.maxTravelKm))

	avail, ok := s.availability(job, tech, now)
	if !ok {
		return sc, ExclusionNoCapacity
	}
	sc.Availability = avail

	sc.Performance = clamp(tech.PerformanceScore)
	sc.Workload = s.workload(tech.ActiveJobCount)

	w := s.weights
	sc.Overall = w.Skill*sc.SkillMatch +
		w.Availability*sc.Availability +
		w.Location*sc.Location +
		w.Performance*sc.Performance +
		w.Workload*sc.Workload
	sc.Recommendation = s.tiers.Recommend(sc.Overall)
	return sc, ExclusionNone
}

// PoolResult holds the eligible scores and the exclusions of a pool.
type PoolResult struct {
	Scores   []Score
	Excluded map[string]Exclusion
}

// ExclusionCounts tallies exclusions by kind.
func (r PoolResult) ExclusionCounts() map[Exclusion]int {
	out := make(map[Exclusion]int, len(r.Excluded))
	for _, e := range r.Excluded {
		out[e]++
	}
	return out
}

// ScorePool scores every technician concurrently. Result order follows pool
// order; callers rank.
func (s *Scorer) ScorePool(ctx context.Context, job *model.Job, pool []*model.Technician, now time.Time) (PoolResult, error) {
	type slot struct {
		score Score
		excl  Exclusion
	}
	slots := make([]slot, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, tech := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("scoring cancelled: %w", err)
			}
			sc, excl := s.Score(job, tech, now)
			slots[i] = slot{score: sc, excl: excl}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PoolResult{}, err
	}

	res := PoolResult{Excluded: make(map[string]Exclusion)}
	for _, sl := range slots {
		if sl.excl != ExclusionNone {
			res.Excluded[sl.score.TechnicianID] = sl.excl
			continue
		}
		res.Scores = append(res.Scores, sl.score)
	}
	return res, nil
}

func skillMatch(required []string, tech *model.Technician) (float64, bool) {
	if len(required) == 0 {
		return maxScoreValue, true
	}
	have := 0
	for _, r := range required {
		if tech.HasSkill(r) {
			have++
		}
	}
	if have < len(required) {
		return float64(have) / float64(len(required)) * maxScoreValue, false
	}
	return maxScoreValue, true
}

// availability scores committed hours against capacity inside the SLA
// window and reports false when nothing is free before the response deadline.
func (s *Scorer) availability(job *model.Job, tech *model.Technician, now time.Time) (float64, bool) {
	respEnd := job.SLAResponseDeadline
	if !respEnd.After(now) {
		respEnd = now.Add(s.responseGrace)
	}
	if free(tech, model.TimeWindow{Start: now, End: respEnd}) <= 0 {
		return 0, false
	}

	slaEnd := job.SLACompletionDeadline
	if slaEnd.Before(respEnd) {
		slaEnd = respEnd
	}
	window := model.TimeWindow{Start: now, End: slaEnd}
	capacity := capacityIn(tech, window)
	if capacity <= 0 {
		return 0, false
	}
	committed := committedIn(tech, window)
	return clamp(maxScoreValue * (1 - float64(committed)/float64(capacity))), true
}

func free(tech *model.Technician, w model.TimeWindow) time.Duration {
	return capacityIn(tech, w) - committedIn(tech, w)
}

// capacityIn treats a technician with no declared windows as always available.
func capacityIn(tech *model.Technician, w model.TimeWindow) time.Duration {
	if len(tech.AvailabilityWindows) == 0 {
		return w.Duration()
	}
	var total time.Duration
	for _, aw := range tech.AvailabilityWindows {
		total += aw.Overlap(w)
	}
	return total
}

func committedIn(tech *model.Technician, w model.TimeWindow) time.Duration {
	var total time.Duration
	for _, c := range tech.Commitments {
		total += c.Window.Overlap(w)
	}
	return total
}

func (s *Scorer) workload(n int) float64 {
	if n <= 0 {
		return maxScoreValue
	}
	ratio := float64(n) / float64(s.workloadCapacity)
	return clamp(maxScoreValue * (1 - math.Pow(ratio, s.workloadExponent)))
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b model.Location) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(maxScoreValue, v))
}
