// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// State is a repair job lifecycle state.
type State string

// Lifecycle states in their required order, plus the out-of-band
// ESCALATED pseudo-state that only a human can resolve.
const (
	StateCreated          State = "CREATED"
	StateInDiagnosis      State = "IN_DIAGNOSIS"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateApproved         State = "APPROVED"
	StateInProgress       State = "IN_PROGRESS"
	StatePartsOrdered     State = "PARTS_ORDERED"
	StateTesting          State = "TESTING"
	StateQualityCheck     State = "QUALITY_CHECK"
	StateCompleted        State = "COMPLETED"
	StateCustomerApproved State = "CUSTOMER_APPROVED"
	StateDelivered        State = "DELIVERED"

	StateEscalated State = "ESCALATED"
)

var lifecycleOrder = [...]State{
	StateCreated,
	StateInDiagnosis,
	StateAwaitingApproval,
	StateApproved,
	StateInProgress,
	StatePartsOrdered,
	StateTesting,
	StateQualityCheck,
	StateCompleted,
	StateCustomerApproved,
	StateDelivered,
}

// LifecycleStates returns the 11 lifecycle states in order.
func LifecycleStates() []State {
	out := make([]State, len(lifecycleOrder))
	copy(out, lifecycleOrder[:])
	return out
}

// Ordinal returns the position of s in the lifecycle, or -1 for
// ESCALATED and unknown values.
func (s State) Ordinal() int {
	for i, st := range lifecycleOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a lifecycle state or ESCALATED.
func (s State) Valid() bool {
	return s == StateEscalated || s.Ordinal() >= 0
}

// Next returns the successor on the forward path.
func (s State) Next() (State, bool) {
	i := s.Ordinal()
	if i < 0 || i == len(lifecycleOrder)-1 {
		return "", false
	}
	return lifecycleOrder[i+1], true
}

// IsTerminal reports whether no further transitions are accepted.
func (s State) IsTerminal() bool { return s == StateDelivered }

// IsOutOfBand reports whether the job has left the automated lifecycle.
func (s State) IsOutOfBand() bool { return s == StateEscalated }

// RequiresTechnician reports whether a job in s must carry an assignee.
func (s State) RequiresTechnician() bool {
	return s.Ordinal() >= StateInProgress.Ordinal()
}

func (s State) String() string { return string(s) }

// ParseState parses a state name (case-insensitive, '-' or ' ' accepted for '_').
func ParseState(v string) (State, error) {
	norm := strings.ToUpper(strings.TrimSpace(v))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	s := State(norm)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, v)
	}
	return s, nil
}

// Priority is the urgency of a job.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority parses a priority name (case-insensitive).
func ParsePriority(v string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(v)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPriority, v)
}

// CustomerTier affects SLA targets.
type CustomerTier string

// Customer tiers.
const (
	TierStandard   CustomerTier = "STANDARD"
	TierPremium    CustomerTier = "PREMIUM"
	TierEnterprise CustomerTier = "ENTERPRISE"
)

// ParseCustomerTier parses a tier name (case-insensitive).
func ParseCustomerTier(v string) (CustomerTier, error) {
	t := CustomerTier(strings.ToUpper(strings.TrimSpace(v)))
	switch t {
	case TierStandard, TierPremium, TierEnterprise:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, v)
}

// PartAvailability is the stock status of a bill-of-materials line.
type PartAvailability string

// Part availabilities.
const (
	PartInStock       PartAvailability = "IN_STOCK"
	PartOrderRequired PartAvailability = "ORDER_REQUIRED"
	PartBackordered   PartAvailability = "BACKORDERED"
)

// ParsePartAvailability parses an availability name (case-insensitive).
func ParsePartAvailability(v string) (PartAvailability, error) {
	a := PartAvailability(strings.ToUpper(strings.TrimSpace(v)))
	switch a {
	case PartInStock, PartOrderRequired, PartBackordered:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAvailability, v)
}

// EscalationAction names how an escalation level is announced.
type EscalationAction string

// Escalation actions, one per level.
const (
	ActionEmailReminder       EscalationAction = "EMAIL_REMINDER"
	ActionSMSAndEmail         EscalationAction = "SMS_AND_EMAIL"
	ActionManagerNotification EscalationAction = "MANAGER_NOTIFICATION"
)

// Recommendation buckets an overall assignment score.
type Recommendation string

// Recommendation tiers.
const (
	RecommendationExcellent Recommendation = "EXCELLENT"
	RecommendationGood      Recommendation = "GOOD"
	RecommendationFair      Recommendation = "FAIR"
	RecommendationPoor      Recommendation = "POOR"
)
