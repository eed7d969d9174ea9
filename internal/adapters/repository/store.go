// Package repository defines the job and technician stores and errors.
package repository

import (
	"context"

	"github.com/okian/repairflow/internal/domain/model"
)

// JobFilter narrows ListJobs.
type JobFilter struct {
	// OpenOnly drops delivered and escalated jobs.
	OpenOnly bool
	// Unassigned keeps only jobs with no technician.
	Unassigned bool
}

// Match reports whether job passes the filter.
func (f JobFilter) Match(job *model.Job) bool {
	if f.OpenOnly && (job.State.IsTerminal() || job.State.IsOutOfBand()) {
		return false
	}
	if f.Unassigned && job.AssignedTechnicianID != "" {
		return false
	}
	return true
}

// TechnicianFilter narrows ListTechnicians. Empty fields match everything.
type TechnicianFilter struct {
	IDs    []string
	Skills []string
}

// Match reports whether tech passes the filter.
func (f TechnicianFilter) Match(tech *model.Technician) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == tech.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, s := range f.Skills {
		if !tech.HasSkill(s) {
			return false
		}
	}
	return true
}

// Adjustment changes one technician's workload. Delta is applied to
// ActiveJobCount and floored at zero.
type Adjustment struct {
	TechnicianID string
	Delta        int
	// Commit, when set, is added to the technician's commitments.
	Commit *model.Commitment
	// ReleaseJobID, when set, removes that job's commitment.
	ReleaseJobID string
}

// JobStore persists job records. Every returned job is a copy owned by the caller.
type JobStore interface {
	// CreateJob inserts a new job with Version 1. Returns ErrDuplicate if the id exists.
	CreateJob(ctx context.Context, job *model.Job) error
	// GetJob returns the job or ErrNotFound.
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// SaveJob replaces the job if the stored version equals job.Version,
	// then increments job.Version. Returns ErrConflict otherwise.
	SaveJob(ctx context.Context, job *model.Job) error
	// ListJobs returns jobs matching filter ordered by id.
	ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error)
}

// TechnicianStore persists technicians.
type TechnicianStore interface {
	// UpsertTechnician inserts or replaces the profile. Workload fields of an
	// existing technician are kept; they change only through AdjustActiveJobs
	// and RecordOutcome.
	UpsertTechnician(ctx context.Context, tech *model.Technician) error
	// GetTechnician returns the technician or ErrNotFound.
	GetTechnician(ctx context.Context, id string) (*model.Technician, error)
	// ListTechnicians returns technicians matching filter ordered by id.
	ListTechnicians(ctx context.Context, filter TechnicianFilter) ([]*model.Technician, error)
	// AdjustActiveJobs applies all adjustments atomically. If any technician
	// is unknown nothing is applied and ErrNotFound is returned.
	AdjustActiveJobs(ctx context.Context, adjustments ...Adjustment) error
	// RecordOutcome decrements the active job count, folds score into the
	// rolling performance average and releases the job's commitment.
	RecordOutcome(ctx context.Context, technicianID, jobID string, score float64) (*model.Technician, error)
}

// Store combines both stores.
type Store interface {
	JobStore
	TechnicianStore
	Close() error
}

// FoldPerformance returns the rolling average after adding score as the
// (completed+1)-th outcome.
func FoldPerformance(current float64, completed int, score float64) float64 {
	if completed <= 0 {
		return score
	}
	return (current*float64(completed) + score) / float64(completed+1)
}
