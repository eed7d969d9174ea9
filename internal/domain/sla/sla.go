// Package sla derives deadlines and per-state dwell thresholds from a job's
// priority and customer tier.
package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
)

// ErrInvalidPolicy is returned by Validate.
var ErrInvalidPolicy = errors.New("invalid sla policy")

// Policy holds the SLA tables. The zero value is not usable; start from
// DefaultPolicy and override.
type Policy struct {
	// Response is the time allowed from creation until work must be able to start.
	Response map[model.Priority]time.Duration
	// Completion is the time allowed from creation until delivery.
	Completion map[model.Priority]time.Duration
	// StateThreshold is the base dwell time for each lifecycle state.
	StateThreshold map[model.State]time.Duration
	// PriorityFactor scales StateThreshold.
	PriorityFactor map[model.Priority]float64
	// TierFactor scales every duration; faster service for better tiers.
	TierFactor map[model.CustomerTier]float64
}

// DefaultPolicy returns the built-in SLA tables.
func DefaultPolicy() Policy {
	return Policy{
		Response: map[model.Priority]time.Duration{
			model.PriorityUrgent: time.Hour,
			model.PriorityHigh:   4 * time.Hour,
			model.PriorityMedium: 24 * time.Hour,
			model.PriorityLow:    72 * time.Hour,
		},
		Completion: map[model.Priority]time.Duration{
			model.PriorityUrgent: 24 * time.Hour,
			model.PriorityHigh:   72 * time.Hour,
			model.PriorityMedium: 120 * time.Hour,
			model.PriorityLow:    240 * time.Hour,
		},
		StateThreshold: map[model.State]time.Duration{
			model.StateCreated:          2 * time.Hour,
			model.StateInDiagnosis:      4 * time.Hour,
			model.StateAwaitingApproval: 48 * time.Hour,
			model.StateApproved:         4 * time.Hour,
			model.StateInProgress:       24 * time.Hour,
			model.StatePartsOrdered:     72 * time.Hour,
			model.StateTesting:          8 * time.Hour,
			model.StateQualityCheck:     4 * time.Hour,
			model.StateCompleted:        24 * time.Hour,
			model.StateCustomerApproved: 48 * time.Hour,
		},
		PriorityFactor: map[model.Priority]float64{
			model.PriorityUrgent: 0.25,
			model.PriorityHigh:   0.5,
			model.PriorityMedium: 1,
			model.PriorityLow:    2,
		},
		TierFactor: map[model.CustomerTier]float64{
			model.TierStandard:   1,
			model.TierPremium:    0.75,
			model.TierEnterprise: 0.5,
		},
	}
}

// Validate checks that every priority and tier has positive entries.
func (p Policy) Validate() error {
	priorities := []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityUrgent}
	for _, pr := range priorities {
		if p.Response[pr] <= 0 {
			return fmt.Errorf("%w: response window for %s must be positive", ErrInvalidPolicy, pr)
		}
		if p.Completion[pr] < p.Response[pr] {
			return fmt.Errorf("%w: completion window for %s shorter than response window", ErrInvalidPolicy, pr)
		}
		if p.PriorityFactor[pr] <= 0 {
			return fmt.Errorf("%w: priority factor for %s must be positive", ErrInvalidPolicy, pr)
		}
	}
	for _, t := range []model.CustomerTier{model.TierStandard, model.TierPremium, model.TierEnterprise} {
		if p.TierFactor[t] <= 0 {
			return fmt.Errorf("%w: tier factor for %s must be positive", ErrInvalidPolicy, t)
		}
	}
	for s, d := range p.StateThreshold {
		if !s.Valid() || s.IsTerminal() || s.IsOutOfBand() {
			return fmt.Errorf("%w: threshold set for non-escalating state %q", ErrInvalidPolicy, s)
		}
		if d <= 0 {
			return fmt.Errorf("%w: threshold for %s must be positive", ErrInvalidPolicy, s)
		}
	}
	return nil
}

// Deadlines returns the response and completion deadlines of a job created at created.
func (p Policy) Deadlines(created time.Time, priority model.Priority, tier model.CustomerTier) (response, completion time.Time) {
	f := p.tierFactor(tier)
	return created.Add(scale(p.Response[priority], f)), created.Add(scale(p.Completion[priority], f))
}

// Threshold returns how long a job may stay in state before the first
// escalation level is due. ok is false for states that never escalate.
func (p Policy) Threshold(state model.State, priority model.Priority, tier model.CustomerTier) (time.Duration, bool) {
	base, ok := p.StateThreshold[state]
	if !ok || base <= 0 {
		return 0, false
	}
	pf := p.PriorityFactor[priority]
	if pf <= 0 {
		pf = 1
	}
	d := scale(base, pf*p.tierFactor(tier))
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func (p Policy) tierFactor(t model.CustomerTier) float64 {
	if f := p.TierFactor[t]; f > 0 {
		return f
	}
	return 1
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}
