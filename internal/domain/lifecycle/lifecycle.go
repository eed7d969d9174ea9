// Package lifecycle validates and applies job state transitions.
//
// Legal moves are encoded in an adjacency table: every state may advance to
// its successor, and two exception edges exist. A customer declining the
// quote sends AWAITING_APPROVAL back to CREATED, and a failed quality check
// sends QUALITY_CHECK back to IN_PROGRESS. Once the rework cap is reached a
// failed quality check moves the job to ESCALATED instead, where it waits
// for a human.
package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/repairflow/internal/domain/model"
)

// DefaultMaxRework is the number of quality-check reworks allowed before a
// failure escalates.
const DefaultMaxRework = 3

// EdgeKind classifies an adjacency table entry.
type EdgeKind int

// Edge kinds.
const (
	EdgeForward EdgeKind = iota
	EdgeDecline
	EdgeRework
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeDecline:
		return "decline"
	case EdgeRework:
		return "rework"
	default:
		return "forward"
	}
}

type edge struct {
	to   model.State
	kind EdgeKind
}

var adjacency = buildAdjacency()

func buildAdjacency() map[model.State][]edge {
	m := make(map[model.State][]edge)
	for _, s := range model.LifecycleStates() {
		if next, ok := s.Next(); ok {
			m[s] = append(m[s], edge{to: next, kind: EdgeForward})
		}
	}
	m[model.StateAwaitingApproval] = append(m[model.StateAwaitingApproval], edge{to: model.StateCreated, kind: EdgeDecline})
	m[model.StateQualityCheck] = append(m[model.StateQualityCheck], edge{to: model.StateInProgress, kind: EdgeRework})
	return m
}

// Decision is the outcome of a successful validation.
type Decision struct {
	From      model.State
	Requested model.State
	// To is where the job ends up. It differs from Requested only when a
	// rework request is converted into an escalation.
	To        model.State
	Kind      EdgeKind
	Escalated bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxRework sets the rework cap. Values below 1 keep the default.
func WithMaxRework(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxRework = n
		}
	}
}

// Validator checks requested transitions against the adjacency table and guards.
type Validator struct {
	maxRework int
	now       func() time.Time
}

// NewValidator creates a validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{maxRework: DefaultMaxRework, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MaxRework returns the configured rework cap.
func (v *Validator) MaxRework() int { return v.maxRework }

// Validate decides whether job may move to target. It never mutates job.
func (v *Validator) Validate(job *model.Job, target model.State, reason string) (Decision, error) {
	from := job.State
	if from.IsTerminal() {
		return Decision{}, &TerminalStateError{JobID: job.ID, State: from}
	}
	if from.IsOutOfBand() {
		return Decision{}, &TransitionError{JobID: job.ID, From: from, To: target, Detail: "escalated jobs are resolved outside the lifecycle"}
	}
	if !target.Valid() {
		return Decision{}, &TransitionError{JobID: job.ID, From: from, To: target, Detail: "unknown target state"}
	}
	if target == from {
		return Decision{}, &TransitionError{JobID: job.ID, From: from, To: target, Detail: "job is already in this state"}
	}

	e, ok := lookup(from, target)
	if !ok {
		return Decision{}, &TransitionError{JobID: job.ID, From: from, To: target, Detail: "not an adjacent state"}
	}

	d := Decision{From: from, Requested: target, To: target, Kind: e.kind}
	switch e.kind {
	case EdgeDecline, EdgeRework:
		if strings.TrimSpace(reason) == "" {
			return Decision{}, &TransitionError{JobID: job.ID, From: from, To: target, Detail: "a reason is required for " + e.kind.String()}
		}
	}
	if e.kind == EdgeRework && job.ReworkCount >= v.maxRework {
		d.To = model.StateEscalated
		d.Escalated = true
		return d, nil
	}

	if d.To == model.StateInProgress && job.AssignedTechnicianID == "" {
		return Decision{}, &TransitionError{JobID: job.ID, From: from, To: target, Detail: "no technician assigned"}
	}
	if from == model.StatePartsOrdered && d.To == model.StateTesting {
		if skus := job.PartsNotInStock(); len(skus) > 0 {
			return Decision{}, &PartsNotReadyError{JobID: job.ID, SKUs: skus}
		}
	}
	return d, nil
}

// Apply writes a validated decision onto job. Callers pass a clone and
// persist it; the stored record is untouched until the save succeeds.
func (v *Validator) Apply(job *model.Job, d Decision, actor, reason string, now time.Time) {
	if now.IsZero() {
		now = v.now()
	}
	job.History = append(job.History, model.HistoryEntry{
		ID:     uuid.NewString(),
		From:   d.From,
		To:     d.To,
		At:     now,
		Actor:  actor,
		Reason: reason,
	})
	if d.Kind == EdgeRework && !d.Escalated {
		job.ReworkCount++
	}
	job.State = d.To
	job.StateEnteredAt = now
	job.UpdatedAt = now
	if d.To.IsTerminal() {
		job.Archived = true
	}
}

// Allowed returns the states reachable from s in one step.
func Allowed(s model.State) []model.State {
	edges := adjacency[s]
	out := make([]model.State, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.to)
	}
	return out
}

// IsExceptionEdge reports whether from -> to is one of the backward edges.
func IsExceptionEdge(from, to model.State) bool {
	e, ok := lookup(from, to)
	return ok && e.kind != EdgeForward
}

// VerifyHistory checks that consecutive history entries chain and that every
// move is either forward by one, an exception edge, or the escalation exit
// from QUALITY_CHECK.
func VerifyHistory(h []model.HistoryEntry) error {
	for i := 1; i < len(h); i++ {
		prev, cur := h[i-1], h[i]
		if cur.From != prev.To {
			return &TransitionError{From: cur.From, To: cur.To, Detail: "history does not chain"}
		}
		if cur.At.Before(prev.At) {
			return &TransitionError{From: cur.From, To: cur.To, Detail: "history goes back in time"}
		}
		if cur.From == model.StateQualityCheck && cur.To == model.StateEscalated {
			continue
		}
		if _, ok := lookup(cur.From, cur.To); !ok {
			return &TransitionError{From: cur.From, To: cur.To, Detail: "history contains an illegal move"}
		}
	}
	return nil
}

func lookup(from, to model.State) (edge, bool) {
	for _, e := range adjacency[from] {
		if e.to == to {
			return e, true
		}
	}
	return edge{}, false
}
