package assignment

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
)

// Sentinel kinds for assignment failures.
var (
	ErrNoEligibleTechnician = errors.New("no eligible technician")
	ErrStaleAssignment      = errors.New("stale assignment")
)

// NoEligibleTechnicianError is returned when every candidate was filtered
// out. It is terminal for the attempt and needs a human.
type NoEligibleTechnicianError struct {
	JobID    string
	PoolSize int
	Excluded map[scoring.Exclusion]int
}

func (e *NoEligibleTechnicianError) Error() string {
	kinds := make([]string, 0, len(e.Excluded))
	for k, n := range e.Excluded {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	return fmt.Sprintf("%s: job %s, pool of %d (%s)", ErrNoEligibleTechnician, e.JobID, e.PoolSize, strings.Join(kinds, ", "))
}

func (e *NoEligibleTechnicianError) Unwrap() error { return ErrNoEligibleTechnician }

// StaleAssignmentError is returned when the job changed between scoring and commit.
type StaleAssignmentError struct {
	JobID            string
	ExpectedState    model.State
	ActualState      model.State
	ExpectedAssignee string
	ActualAssignee   string
}

func (e *StaleAssignmentError) Error() string {
	return fmt.Sprintf("%s: job %s expected %s with assignee %q, found %s with assignee %q",
		ErrStaleAssignment, e.JobID, e.ExpectedState, e.ExpectedAssignee, e.ActualState, e.ActualAssignee)
}

func (e *StaleAssignmentError) Unwrap() error { return ErrStaleAssignment }
