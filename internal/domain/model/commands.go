package model

import "time"

// Command is a mutation addressed to exactly one job. Commands for the same
// job are executed one at a time, in submission order.
type Command interface {
	// TargetJob returns the id of the job the command mutates.
	TargetJob() string
	// Name is a short label used in logs and metrics.
	Name() string
}

// AssignmentKind distinguishes first assignments from reassignments.
type AssignmentKind string

// Assignment kinds.
const (
	AssignmentInitial  AssignmentKind = "initial"
	AssignmentReassign AssignmentKind = "reassign"
)

// CreateJobCommand persists a freshly built job.
type CreateJobCommand struct {
	Job *Job
}

// AdvanceJobCommand requests a state change.
type AdvanceJobCommand struct {
	JobID  string
	Target State
	Reason string
	Actor  string
}

// CommitAssignmentCommand writes a scored winner onto a job. The Expected*
// fields capture the job when scoring started; the commit aborts as stale if
// either changed.
type CommitAssignmentCommand struct {
	JobID            string
	Kind             AssignmentKind
	TechnicianID     string
	ExpectedState    State
	ExpectedAssignee string
	Reason           string
	Actor            string
	EstimatedHours   float64
}

// ReassignCommand is a CommitAssignmentCommand that replaces the current assignee.
type ReassignCommand struct {
	CommitAssignmentCommand
}

// CheckEscalationCommand evaluates escalation thresholds for a job at Now.
type CheckEscalationCommand struct {
	JobID string
	Now   time.Time
}

// UpdatePartCommand changes the availability of one bill-of-materials line.
type UpdatePartCommand struct {
	JobID        string
	SKU          string
	Availability PartAvailability
}

// RecordOutcomeCommand applies a finished-job outcome to a technician.
type RecordOutcomeCommand struct {
	JobID        string
	TechnicianID string
	Score        float64
}

func (c CreateJobCommand) TargetJob() string        { return c.Job.ID }
func (c AdvanceJobCommand) TargetJob() string       { return c.JobID }
func (c CommitAssignmentCommand) TargetJob() string { return c.JobID }
func (c CheckEscalationCommand) TargetJob() string  { return c.JobID }
func (c UpdatePartCommand) TargetJob() string       { return c.JobID }
func (c RecordOutcomeCommand) TargetJob() string    { return c.JobID }

func (CreateJobCommand) Name() string        { return "create_job" }
func (AdvanceJobCommand) Name() string       { return "advance_job" }
func (CommitAssignmentCommand) Name() string { return "commit_assignment" }
func (ReassignCommand) Name() string         { return "reassign" }
func (CheckEscalationCommand) Name() string  { return "check_escalation" }
func (UpdatePartCommand) Name() string       { return "update_part" }
func (RecordOutcomeCommand) Name() string    { return "record_outcome" }
