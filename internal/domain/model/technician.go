package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Duration returns the window length, zero when inverted.
func (w TimeWindow) Duration() time.Duration {
	if !w.End.After(w.Start) {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Overlap returns the length of the intersection of w and o.
func (w TimeWindow) Overlap(o TimeWindow) time.Duration {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// Commitment is time a technician has already promised to a job.
type Commitment struct {
	JobID  string     `json:"job_id" yaml:"job_id"`
	Window TimeWindow `json:"window" yaml:"window"`
}

// Technician is a candidate for assignments.
type Technician struct {
	ID                  string       `json:"id" yaml:"id"`
	Name                string       `json:"name,omitempty" yaml:"name"`
	Skills              []string     `json:"skills" yaml:"skills"`
	Location            Location     `json:"location" yaml:"location"`
	ActiveJobCount      int          `json:"active_job_count" yaml:"active_job_count"`
	PerformanceScore    float64      `json:"performance_score" yaml:"performance_score"`
	CompletedJobs       int          `json:"completed_jobs" yaml:"completed_jobs"`
	AvailabilityWindows []TimeWindow `json:"availability_windows,omitempty" yaml:"availability_windows"`
	Commitments         []Commitment `json:"commitments,omitempty" yaml:"commitments"`
}

// Clone returns a deep copy.
func (t *Technician) Clone() *Technician {
	if t == nil {
		return nil
	}
	c := *t
	c.Skills = slices.Clone(t.Skills)
	c.AvailabilityWindows = slices.Clone(t.AvailabilityWindows)
	c.Commitments = slices.Clone(t.Commitments)
	return &c
}

// HasSkill reports whether skill (normalized) is in the technician's set.
func (t *Technician) HasSkill(skill string) bool {
	_, found := slices.BinarySearch(t.Skills, skill)
	return found
}

// Validate checks identity and ranges, and normalizes skills.
func (t *Technician) Validate() error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTechnician)
	}
	if t.PerformanceScore < 0 || t.PerformanceScore > 100 {
		return fmt.Errorf("%w: performance_score %.2f outside [0,100]", ErrInvalidTechnician, t.PerformanceScore)
	}
	if t.ActiveJobCount < 0 {
		return fmt.Errorf("%w: negative active_job_count", ErrInvalidTechnician)
	}
	if !t.Location.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidTechnician)
	}
	t.Skills = NormalizeSkills(t.Skills)
	return nil
}

// ReleaseCommitment drops the commitment held for jobID.
func (t *Technician) ReleaseCommitment(jobID string) {
	t.Commitments = slices.DeleteFunc(t.Commitments, func(c Commitment) bool { return c.JobID == jobID })
}
