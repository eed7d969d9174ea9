// Package assignment ranks eligible technicians for a job and checks that a
// ranking is still valid when it is committed.
package assignment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
	"github.com/okian/repairflow/pkg/metrics"
)

const (
	defaultMaxAlternatives  = 3
	defaultConfidenceSpread = 25.0
)

// Result is the outcome of ranking a candidate pool.
type Result struct {
	JobID        string                    `json:"job_id"`
	Kind         model.AssignmentKind      `json:"kind,omitempty"`
	Winner       scoring.Score             `json:"winner"`
	Alternatives []scoring.Score           `json:"alternatives"`
	Reason       string                    `json:"reason"`
	Considered   int                       `json:"considered"`
	Excluded     map[scoring.Exclusion]int `json:"excluded,omitempty"`
	Previous     string                    `json:"previous_technician_id,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAlternatives sets how many runners-up are returned.
func WithMaxAlternatives(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxAlternatives = n
		}
	}
}

// WithConfidenceSpread sets the score gap that maps to full confidence.
func WithConfidenceSpread(points float64) Option {
	return func(e *Engine) {
		if points > 0 {
			e.confidenceSpread = points
		}
	}
}

// Engine ranks candidates using a Scorer.
type Engine struct {
	scorer           *scoring.Scorer
	maxAlternatives  int
	confidenceSpread float64
}

// NewEngine creates an engine over scorer.
func NewEngine(scorer *scoring.Scorer, opts ...Option) *Engine {
	e := &Engine{
		scorer:           scorer,
		maxAlternatives:  defaultMaxAlternatives,
		confidenceSpread: defaultConfidenceSpread,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank filters and scores pool for job and returns the winner with up to
// maxAlternatives runners-up. It never commits anything.
func (e *Engine) Rank(ctx context.Context, job *model.Job, pool []*model.Technician, now time.Time) (Result, error) {
	start := time.Now()
	res, err := e.scorer.ScorePool(ctx, job, pool, now)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordCandidatesConsidered(len(pool))
	counts := res.ExclusionCounts()
	for kind, n := range counts {
		for range n {
			metrics.RecordCandidateExcluded(string(kind))
		}
	}

	if len(res.Scores) == 0 {
		return Result{}, &NoEligibleTechnicianError{JobID: job.ID, PoolSize: len(pool), Excluded: counts}
	}

	ranked := res.Scores
	sort.SliceStable(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
	for i := range ranked {
		ranked[i].Confidence = e.confidence(ranked, i)
	}

	n := min(len(ranked)-1, e.maxAlternatives)
	out := Result{
		JobID:        job.ID,
		Winner:       ranked[0],
		Alternatives: append([]scoring.Score{}, ranked[1:1+n]...),
		Considered:   len(pool),
		Excluded:     counts,
	}
	out.Reason = reason(out, len(ranked))
	return out, nil
}

// Less orders scores best first: higher overall, then fewer active jobs,
// then higher performance, then smaller technician id.
func Less(a, b scoring.Score) bool {
	if a.Overall != b.Overall {
		return a.Overall > b.Overall
	}
	if a.ActiveJobCount != b.ActiveJobCount {
		return a.ActiveJobCount < b.ActiveJobCount
	}
	if a.Performance != b.Performance {
		return a.Performance > b.Performance
	}
	return a.TechnicianID < b.TechnicianID
}

// confidence is the lead over the next-ranked candidate scaled by the
// configured spread. The last candidate compares against nothing and falls
// back to its own overall score.
func (e *Engine) confidence(ranked []scoring.Score, i int) float64 {
	if i == len(ranked)-1 {
		if len(ranked) == 1 {
			return clamp01(ranked[i].Overall / 100)
		}
		return 0
	}
	return clamp01((ranked[i].Overall - ranked[i+1].Overall) / e.confidenceSpread)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func reason(r Result, eligible int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %.1f (%s) among %d eligible of %d",
		r.Winner.TechnicianID, r.Winner.Overall, r.Winner.Recommendation, eligible, r.Considered)
	if len(r.Excluded) > 0 {
		kinds := make([]string, 0, len(r.Excluded))
		for k, n := range r.Excluded {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		fmt.Fprintf(&b, "; excluded %s", strings.Join(kinds, ", "))
	}
	return b.String()
}

// CheckFresh verifies that job is still in the state and held by the
// assignee the ranking was computed against. Commit paths call it under the
// job's serialization.
func CheckFresh(job *model.Job, expectedState model.State, expectedAssignee string) error {
	if job.State == expectedState && job.AssignedTechnicianID == expectedAssignee {
		return nil
	}
	return &StaleAssignmentError{
		JobID:            job.ID,
		ExpectedState:    expectedState,
		ActualState:      job.State,
		ExpectedAssignee: expectedAssignee,
		ActualAssignee:   job.AssignedTechnicianID,
	}
}

// Without returns pool minus the technician with id.
func Without(pool []*model.Technician, id string) []*model.Technician {
	out := make([]*model.Technician, 0, len(pool))
	for _, t := range pool {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
