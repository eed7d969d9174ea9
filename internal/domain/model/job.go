package model

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Location is a point on the map plus a human-readable address.
type Location struct {
	Lat     float64 `json:"lat" yaml:"lat"`
	Lng     float64 `json:"lng" yaml:"lng"`
	Address string  `json:"address,omitempty" yaml:"address"`
}

// Valid reports whether the coordinates are in range.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180 &&
		!math.IsNaN(l.Lat) && !math.IsNaN(l.Lng)
}

// Part is one bill-of-materials line.
type Part struct {
	SKU          string           `json:"sku" yaml:"sku"`
	Name         string           `json:"name,omitempty" yaml:"name"`
	Quantity     int              `json:"quantity" yaml:"quantity"`
	Availability PartAvailability `json:"availability" yaml:"availability"`
}

// HistoryEntry records one committed state change. Entries are only ever appended.
type HistoryEntry struct {
	ID     string    `json:"id"`
	From   State     `json:"from,omitempty"` // empty for the creation entry
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
}

// ReassignmentEntry records a change of assignee, kept apart from state history.
type ReassignmentEntry struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

// EscalationRecord marks an escalation level as fired. A non-empty
// DispatchError means the notifier did not accept the message; the level
// still counts as fired.
type EscalationRecord struct {
	Level         int              `json:"level"`
	Action        EscalationAction `json:"action"`
	State         State            `json:"state"`
	FiredAt       time.Time        `json:"fired_at"`
	DispatchError string           `json:"dispatch_error,omitempty"`
}

// Job is a repair work order.
type Job struct {
	ID                    string              `json:"id"`
	CustomerID            string              `json:"customer_id,omitempty"`
	Description           string              `json:"description,omitempty"`
	State                 State               `json:"state"`
	Priority              Priority            `json:"priority"`
	CustomerTier          CustomerTier        `json:"customer_tier"`
	RequiredSkills        []string            `json:"required_skills"`
	Location              Location            `json:"location"`
	EstimatedHours        float64             `json:"estimated_hours"`
	Parts                 []Part              `json:"parts,omitempty"`
	SLAResponseDeadline   time.Time           `json:"sla_response_deadline"`
	SLACompletionDeadline time.Time           `json:"sla_completion_deadline"`
	AssignedTechnicianID  string              `json:"assigned_technician_id,omitempty"`
	StateEnteredAt        time.Time           `json:"state_entered_at"`
	History               []HistoryEntry      `json:"history"`
	Reassignments         []ReassignmentEntry `json:"reassignments,omitempty"`
	ReworkCount           int                 `json:"rework_count"`
	EscalationsFired      []EscalationRecord  `json:"escalation_levels_fired,omitempty"`
	Archived              bool                `json:"archived"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
	Version               int64               `json:"version"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.RequiredSkills = slices.Clone(j.RequiredSkills)
	c.Parts = slices.Clone(j.Parts)
	c.History = slices.Clone(j.History)
	c.Reassignments = slices.Clone(j.Reassignments)
	c.EscalationsFired = slices.Clone(j.EscalationsFired)
	return &c
}

// TimeInState returns how long the job has been in its current state.
func (j *Job) TimeInState(now time.Time) time.Duration {
	if j.StateEnteredAt.IsZero() || now.Before(j.StateEnteredAt) {
		return 0
	}
	return now.Sub(j.StateEnteredAt)
}

// HasFiredLevel reports whether the escalation level was already fired.
func (j *Job) HasFiredLevel(level int) bool {
	for _, e := range j.EscalationsFired {
		if e.Level == level {
			return true
		}
	}
	return false
}

// EscalationLevel returns the highest level fired so far, 0 if none.
func (j *Job) EscalationLevel() int {
	level := 0
	for _, e := range j.EscalationsFired {
		if e.Level > level {
			level = e.Level
		}
	}
	return level
}

// PartsNotInStock returns the SKUs that block testing.
func (j *Job) PartsNotInStock() []string {
	var out []string
	for _, p := range j.Parts {
		if p.Availability != PartInStock {
			out = append(out, p.SKU)
		}
	}
	return out
}

// LastTransition returns the most recent history entry.
func (j *Job) LastTransition() (HistoryEntry, bool) {
	if len(j.History) == 0 {
		return HistoryEntry{}, false
	}
	return j.History[len(j.History)-1], true
}

// NewJob builds an unsaved job in CREATED from a validated spec. The id is the
// trimmed spec id and may be empty; a zero estimate takes defaultHours.
// Deadlines and history are left to the caller.
func NewJob(spec JobSpec, now time.Time, defaultHours float64) *Job {
	hours := spec.EstimatedHours
	if hours == 0 {
		hours = defaultHours
	}
	return &Job{
		ID:             strings.TrimSpace(spec.ID),
		CustomerID:     spec.CustomerID,
		Description:    spec.Description,
		State:          StateCreated,
		Priority:       spec.Priority,
		CustomerTier:   spec.CustomerTier,
		RequiredSkills: spec.RequiredSkills,
		Location:       spec.Location,
		EstimatedHours: hours,
		Parts:          spec.Parts,
		StateEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// JobSpec is the request shape for creating a job.
type JobSpec struct {
	ID             string       `json:"id,omitempty" yaml:"id"`
	CustomerID     string       `json:"customer_id,omitempty" yaml:"customer_id"`
	Description    string       `json:"description,omitempty" yaml:"description"`
	Priority       Priority     `json:"priority" yaml:"priority"`
	CustomerTier   CustomerTier `json:"customer_tier" yaml:"customer_tier"`
	RequiredSkills []string     `json:"required_skills" yaml:"required_skills"`
	Location       Location     `json:"location" yaml:"location"`
	EstimatedHours float64      `json:"estimated_hours,omitempty" yaml:"estimated_hours"`
	Parts          []Part       `json:"parts,omitempty" yaml:"parts"`
	AutoAssign     bool         `json:"auto_assign,omitempty" yaml:"auto_assign"`
	Actor          string       `json:"actor,omitempty" yaml:"actor"`
}

// Validate checks the spec and normalizes skills and enums in place.
func (s *JobSpec) Validate() error {
	p, err := ParsePriority(string(s.Priority))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	s.Priority = p

	if s.CustomerTier == "" {
		s.CustomerTier = TierStandard
	}
	t, err := ParseCustomerTier(string(s.CustomerTier))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	s.CustomerTier = t

	if !s.Location.Valid() {
		return fmt.Errorf("%w: location out of range", ErrInvalidSpec)
	}
	if s.EstimatedHours < 0 {
		return fmt.Errorf("%w: estimated_hours must not be negative", ErrInvalidSpec)
	}
	s.RequiredSkills = NormalizeSkills(s.RequiredSkills)

	seen := make(map[string]struct{}, len(s.Parts))
	for i := range s.Parts {
		p := &s.Parts[i]
		p.SKU = strings.TrimSpace(p.SKU)
		if p.SKU == "" {
			return fmt.Errorf("%w: part %d has no sku", ErrInvalidSpec, i)
		}
		if _, dup := seen[p.SKU]; dup {
			return fmt.Errorf("%w: duplicate part sku %q", ErrInvalidSpec, p.SKU)
		}
		seen[p.SKU] = struct{}{}
		if p.Quantity <= 0 {
			p.Quantity = 1
		}
		if p.Availability == "" {
			p.Availability = PartOrderRequired
		}
		a, err := ParsePartAvailability(string(p.Availability))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
		}
		p.Availability = a
	}
	return nil
}

// NormalizeSkills lower-cases, trims, deduplicates and sorts skill tags.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
