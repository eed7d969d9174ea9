// Package escalation decides when a job has overstayed its current state
// and which escalation levels are due. Delivery of the resulting
// notifications belongs to the caller.
package escalation

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/sla"
)

// ErrInvalidLevels is returned when a level table is not strictly increasing.
var ErrInvalidLevels = errors.New("invalid escalation levels")

// Level is one rung of the escalation ladder. A level is due once the time
// in state reaches Multiplier times the state's SLA threshold.
type Level struct {
	Level      int                    `koanf:"level" json:"level"`
	Multiplier float64                `koanf:"multiplier" json:"multiplier"`
	Action     model.EscalationAction `koanf:"action" json:"action"`
}

// DefaultLevels returns the three standard levels.
func DefaultLevels() []Level {
	return []Level{
		{Level: 1, Multiplier: 1.0, Action: model.ActionEmailReminder},
		{Level: 2, Multiplier: 1.5, Action: model.ActionSMSAndEmail},
		{Level: 3, Multiplier: 2.0, Action: model.ActionManagerNotification},
	}
}

// ValidateLevels checks that levels and multipliers strictly increase.
func ValidateLevels(levels []Level) error {
	if len(levels) == 0 {
		return fmt.Errorf("%w: at least one level is required", ErrInvalidLevels)
	}
	for i, l := range levels {
		if l.Multiplier <= 0 {
			return fmt.Errorf("%w: level %d multiplier must be positive", ErrInvalidLevels, l.Level)
		}
		if l.Action == "" {
			return fmt.Errorf("%w: level %d has no action", ErrInvalidLevels, l.Level)
		}
		if i > 0 && (l.Level <= levels[i-1].Level || l.Multiplier <= levels[i-1].Multiplier) {
			return fmt.Errorf("%w: level %d does not increase over level %d", ErrInvalidLevels, l.Level, levels[i-1].Level)
		}
	}
	return nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLevels replaces the level table. Invalid tables are ignored.
func WithLevels(levels []Level) Option {
	return func(s *Scheduler) {
		if ValidateLevels(levels) == nil {
			s.levels = append([]Level(nil), levels...)
		}
	}
}

// Scheduler evaluates escalation thresholds.
type Scheduler struct {
	policy sla.Policy
	levels []Level
}

// NewScheduler creates a scheduler over policy.
func NewScheduler(policy sla.Policy, opts ...Option) *Scheduler {
	s := &Scheduler{policy: policy, levels: DefaultLevels()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Levels returns a copy of the level table.
func (s *Scheduler) Levels() []Level {
	return append([]Level(nil), s.levels...)
}

// Due returns the levels that should fire for job at now, lowest first.
// Levels already recorded on the job are never returned again.
func (s *Scheduler) Due(job *model.Job, now time.Time) []Level {
	if job.State.IsTerminal() || job.State.IsOutOfBand() {
		return nil
	}
	threshold, ok := s.policy.Threshold(job.State, job.Priority, job.CustomerTier)
	if !ok {
		return nil
	}
	elapsed := job.TimeInState(now)
	var due []Level
	for _, l := range s.levels {
		if job.HasFiredLevel(l.Level) {
			continue
		}
		if elapsed >= time.Duration(float64(threshold)*l.Multiplier) {
			due = append(due, l)
		}
	}
	return due
}

// Record appends fired entries for levels to job and returns them.
func (s *Scheduler) Record(job *model.Job, levels []Level, now time.Time) []model.EscalationRecord {
	out := make([]model.EscalationRecord, 0, len(levels))
	for _, l := range levels {
		if job.HasFiredLevel(l.Level) {
			continue
		}
		rec := model.EscalationRecord{Level: l.Level, Action: l.Action, State: job.State, FiredAt: now}
		job.EscalationsFired = append(job.EscalationsFired, rec)
		out = append(out, rec)
	}
	return out
}

// Top returns the highest level, used when a job leaves the lifecycle for a human.
func (s *Scheduler) Top() Level {
	return s.levels[len(s.levels)-1]
}

// Status summarizes the escalation bookkeeping of a job.
type Status struct {
	JobID   string                   `json:"job_id"`
	State   model.State              `json:"state"`
	Level   int                      `json:"level"`
	FiredAt []time.Time              `json:"fired_at"`
	Records []model.EscalationRecord `json:"records"`
	// NextLevel is the next level that could fire and NextDueAt when, zero if none.
	NextLevel int       `json:"next_level,omitempty"`
	NextDueAt time.Time `json:"next_due_at,omitempty"`
}

// StatusOf builds the escalation status of job.
func (s *Scheduler) StatusOf(job *model.Job) Status {
	st := Status{
		JobID:   job.ID,
		State:   job.State,
		Level:   job.EscalationLevel(),
		FiredAt: make([]time.Time, 0, len(job.EscalationsFired)),
		Records: append([]model.EscalationRecord(nil), job.EscalationsFired...),
	}
	for _, r := range job.EscalationsFired {
		st.FiredAt = append(st.FiredAt, r.FiredAt)
	}
	if job.State.IsTerminal() || job.State.IsOutOfBand() {
		return st
	}
	threshold, ok := s.policy.Threshold(job.State, job.Priority, job.CustomerTier)
	if !ok {
		return st
	}
	for _, l := range s.levels {
		if !job.HasFiredLevel(l.Level) {
			st.NextLevel = l.Level
			st.NextDueAt = job.StateEnteredAt.Add(time.Duration(float64(threshold) * l.Multiplier))
			break
		}
	}
	return st
}
