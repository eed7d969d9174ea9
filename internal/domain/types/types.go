// Package types contains response shapes shared by the service and its adapters.
package types

import (
	"github.com/okian/repairflow/internal/domain/model"
)

// CreatedJob is returned when a job is created.
type CreatedJob struct {
	ID string `json:"id"`
	// Assignment is set when the job was created with auto_assign and a
	// technician was committed.
	Assignment *AssignmentSummary `json:"assignment,omitempty"`
	// AssignmentError explains why auto assignment did not happen.
	AssignmentError string `json:"assignment_error,omitempty"`
}

// AssignmentSummary is the short form of a committed assignment.
type AssignmentSummary struct {
	TechnicianID   string               `json:"technician_id"`
	Overall        float64              `json:"overall"`
	Confidence     float64              `json:"confidence"`
	Recommendation model.Recommendation `json:"recommendation"`
}

// Outcome is the result of recording a technician outcome.
type Outcome struct {
	Technician *model.Technician `json:"technician"`
	// Duplicate is true when the outcome had already been applied.
	Duplicate bool `json:"duplicate"`
}

// Stats summarizes the service for monitoring.
type Stats struct {
	Started        bool           `json:"started"`
	Shards         int            `json:"shards"`
	QueueLength    int            `json:"queue_length"`
	Jobs           int            `json:"jobs"`
	OpenJobs       int            `json:"open_jobs"`
	UnassignedJobs int            `json:"unassigned_jobs"`
	JobsByState    map[string]int `json:"jobs_by_state"`
	Technicians    int            `json:"technicians"`
	LedgerSize     int64          `json:"ledger_size"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}
