package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/repairflow/internal/adapters/notify"
	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/escalation"
	"github.com/okian/repairflow/internal/domain/lifecycle"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/types"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/okian/repairflow/pkg/metrics"
)

// handle runs on the shard that owns cmd's job. Nothing else writes job records.
func (s *Service) handle(ctx context.Context, cmd model.Command) (any, error) {
	switch c := cmd.(type) {
	case model.CreateJobCommand:
		return nil, s.store.CreateJob(ctx, c.Job)
	case model.AdvanceJobCommand:
		return s.handleAdvance(ctx, c)
	case model.CommitAssignmentCommand:
		return s.handleCommit(ctx, c, false)
	case model.ReassignCommand:
		return s.handleCommit(ctx, c.CommitAssignmentCommand, true)
	case model.CheckEscalationCommand:
		return s.handleCheckEscalation(ctx, c)
	case model.UpdatePartCommand:
		return s.handleUpdatePart(ctx, c)
	case model.RecordOutcomeCommand:
		return s.handleRecordOutcome(ctx, c)
	default:
		return nil, fmt.Errorf("%w: unknown command %T", ErrInvalidInput, cmd)
	}
}

func (s *Service) handleAdvance(ctx context.Context, c model.AdvanceJobCommand) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, err
	}
	d, err := s.validator.Validate(job, c.Target, c.Reason)
	if err != nil {
		metrics.RecordTransitionRejected(rejectionKind(err))
		s.logger.Debug(ctx, "transition rejected",
			logger.String("jobID", job.ID),
			logger.String("from", string(job.State)),
			logger.String("to", string(c.Target)),
			logger.Error(err),
		)
		return nil, err
	}

	now := s.now()
	next := job.Clone()
	s.validator.Apply(next, d, actorOr(c.Actor), c.Reason, now)
	var fired []model.EscalationRecord
	if d.Escalated {
		fired = s.scheduler.Record(next, []escalation.Level{s.scheduler.Top()}, now)
	}
	if err := s.store.SaveJob(ctx, next); err != nil {
		return nil, err
	}

	metrics.RecordTransition(string(d.From), string(d.To))
	if d.Kind == lifecycle.EdgeRework && !d.Escalated {
		metrics.RecordRework()
	}
	s.logger.Info(ctx, "job advanced",
		logger.String("jobID", next.ID),
		logger.String("from", string(d.From)),
		logger.String("to", string(d.To)),
		logger.String("kind", d.Kind.String()),
		logger.Int("reworkCount", next.ReworkCount),
	)
	if d.Escalated {
		metrics.RecordJobEscalatedToHuman()
		s.logger.Warn(ctx, "rework cap reached, job escalated",
			logger.String("jobID", next.ID),
			logger.Int("maxRework", s.validator.MaxRework()),
		)
		if len(fired) == 0 {
			// The top level already fired; a manager still has to hear about the cap.
			top := s.scheduler.Top().Level
			for _, r := range next.EscalationsFired {
				if r.Level == top {
					fired = append(fired, r)
				}
			}
		}
		for i := range fired {
			fired[i].Action = model.ActionManagerNotification
		}
		s.announceAll(ctx, next, fired, "rework cap reached")
	}
	return next, nil
}

func (s *Service) handleCommit(ctx context.Context, c model.CommitAssignmentCommand, reassign bool) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, err
	}
	if err := assignment.CheckFresh(job, c.ExpectedState, c.ExpectedAssignee); err != nil {
		metrics.RecordAssignmentFailure("stale")
		s.logger.Warn(ctx, "assignment went stale", logger.String("jobID", job.ID), logger.Error(err))
		return nil, err
	}

	now := s.now()
	hours := c.EstimatedHours
	if hours <= 0 {
		hours = s.defaultEstimatedHours
	}
	adjustments := []repository.Adjustment{{
		TechnicianID: c.TechnicianID,
		Delta:        1,
		Commit: &model.Commitment{
			JobID:  job.ID,
			Window: model.TimeWindow{Start: now, End: now.Add(time.Duration(hours * float64(time.Hour)))},
		},
	}}
	undo := []repository.Adjustment{{TechnicianID: c.TechnicianID, Delta: -1, ReleaseJobID: job.ID}}
	previous := job.AssignedTechnicianID
	releasedPrevious := false
	if reassign && previous != "" && !s.ledger.Settle(ctx, job.ID, previous) {
		releasedPrevious = true
		adjustments = append(adjustments, repository.Adjustment{TechnicianID: previous, Delta: -1, ReleaseJobID: job.ID})
		undo = append(undo, repository.Adjustment{TechnicianID: previous, Delta: 1, Commit: s.heldCommitment(ctx, previous, job.ID)})
	}
	if err := s.store.AdjustActiveJobs(ctx, adjustments...); err != nil {
		if releasedPrevious {
			s.ledger.Unsettle(ctx, job.ID, previous)
		}
		return nil, err
	}

	next := job.Clone()
	next.AssignedTechnicianID = c.TechnicianID
	next.UpdatedAt = now
	if reassign {
		next.Reassignments = append(next.Reassignments, model.ReassignmentEntry{
			From:   previous,
			To:     c.TechnicianID,
			Reason: c.Reason,
			Actor:  actorOr(c.Actor),
			At:     now,
		})
	}
	if err := s.store.SaveJob(ctx, next); err != nil {
		s.compensate(ctx, job.ID, undo)
		if releasedPrevious {
			s.ledger.Unsettle(ctx, job.ID, previous)
		}
		return nil, err
	}
	// The new holder may have held this job before; their next outcome is fresh.
	s.ledger.Unsettle(ctx, job.ID, c.TechnicianID)
	return next, nil
}

// compensate applies undo after a failed job save.
func (s *Service) compensate(ctx context.Context, jobID string, undo []repository.Adjustment) {
	if err := s.store.AdjustActiveJobs(context.WithoutCancel(ctx), undo...); err != nil {
		metrics.RecordErrorByComponent("service", "compensation_failed")
		s.logger.Error(ctx, "failed to reverse workload adjustment", logger.String("jobID", jobID), logger.Error(err))
	}
}

// heldCommitment returns techID's commitment to jobID, or nil if it has none.
func (s *Service) heldCommitment(ctx context.Context, techID, jobID string) *model.Commitment {
	t, err := s.store.GetTechnician(ctx, techID)
	if err != nil {
		return nil
	}
	for _, c := range t.Commitments {
		if c.JobID == jobID {
			return &c
		}
	}
	return nil
}

func (s *Service) handleCheckEscalation(ctx context.Context, c model.CheckEscalationCommand) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, err
	}
	now := c.Now
	if now.IsZero() {
		now = s.now()
	}
	due := s.scheduler.Due(job, now)
	if len(due) == 0 {
		return job, nil
	}

	next := job.Clone()
	fired := s.scheduler.Record(next, due, now)
	if err := s.store.SaveJob(ctx, next); err != nil {
		return nil, err
	}

	s.announceAll(ctx, next, fired, "time in state exceeded threshold")

	if next.AssignedTechnicianID == "" && s.assignOnEscalation {
		s.assignLater(next.ID)
	}
	return next, nil
}

// announceAll dispatches fired records of a saved job and persists any
// dispatch errors on the matching records.
func (s *Service) announceAll(ctx context.Context, job *model.Job, fired []model.EscalationRecord, reason string) {
	failed := false
	for _, rec := range fired {
		err := s.announce(ctx, job, rec, reason)
		if err == nil {
			continue
		}
		for i := range job.EscalationsFired {
			r := &job.EscalationsFired[i]
			if r.Level == rec.Level && r.FiredAt.Equal(rec.FiredAt) {
				r.DispatchError = err.Error()
				failed = true
			}
		}
	}
	if !failed {
		return
	}
	if err := s.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Warn(ctx, "failed to record dispatch errors", logger.String("jobID", job.ID), logger.Error(err))
	}
}

// announce dispatches one escalation record. Failures are logged and counted,
// never returned as the operation's error.
func (s *Service) announce(ctx context.Context, job *model.Job, rec model.EscalationRecord, reason string) error {
	metrics.RecordEscalation(strconv.Itoa(rec.Level), string(rec.Action))
	msg := notify.Message{
		JobID:        job.ID,
		Level:        rec.Level,
		Action:       rec.Action,
		State:        job.State,
		Priority:     job.Priority,
		CustomerTier: job.CustomerTier,
		TechnicianID: job.AssignedTechnicianID,
		Reason:       reason,
		At:           rec.FiredAt,
	}
	err := notify.Dispatch(context.WithoutCancel(ctx), s.notifier, s.notifyTimeout, msg)
	if err != nil {
		metrics.RecordNotificationFailure()
		s.logger.Error(ctx, "escalation dispatch failed",
			logger.String("jobID", job.ID),
			logger.Int("level", rec.Level),
			logger.Error(err),
		)
	}
	return err
}

// assignLater requests an assignment outside the current shard.
func (s *Service) assignLater(jobID string) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closing {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.runCtx, autoAssignTimeout)
		defer cancel()
		if _, err := s.RequestAssignment(ctx, jobID, PoolFilter{}, "escalation"); err != nil {
			s.logger.Warn(ctx, "assignment on escalation failed", logger.String("jobID", jobID), logger.Error(err))
		}
	}()
}

func (s *Service) handleUpdatePart(ctx context.Context, c model.UpdatePartCommand) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return nil, &lifecycle.TerminalStateError{JobID: job.ID, State: job.State}
	}
	next := job.Clone()
	found := false
	for i := range next.Parts {
		if next.Parts[i].SKU == c.SKU {
			next.Parts[i].Availability = c.Availability
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: part %s on job %s", repository.ErrNotFound, c.SKU, job.ID)
	}
	next.UpdatedAt = s.now()
	if err := s.store.SaveJob(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "part availability updated",
		logger.String("jobID", next.ID),
		logger.String("sku", c.SKU),
		logger.String("availability", string(c.Availability)),
	)
	return next, nil
}

func (s *Service) handleRecordOutcome(ctx context.Context, c model.RecordOutcomeCommand) (types.Outcome, error) {
	job, err := s.store.GetJob(ctx, c.JobID)
	if err != nil {
		return types.Outcome{}, err
	}
	if !heldBy(job, c.TechnicianID) {
		return types.Outcome{}, fmt.Errorf("%w: technician %s never held job %s", ErrInvalidInput, c.TechnicianID, job.ID)
	}
	if s.ledger.Settle(ctx, job.ID, c.TechnicianID) {
		metrics.RecordOutcomeDuplicate()
		tech, err := s.store.GetTechnician(ctx, c.TechnicianID)
		if err != nil {
			return types.Outcome{}, err
		}
		return types.Outcome{Technician: tech, Duplicate: true}, nil
	}
	tech, err := s.store.RecordOutcome(ctx, c.TechnicianID, job.ID, c.Score)
	if err != nil {
		s.ledger.Unsettle(ctx, job.ID, c.TechnicianID)
		return types.Outcome{}, err
	}
	metrics.RecordOutcomeApplied()
	s.logger.Info(ctx, "outcome recorded",
		logger.String("jobID", job.ID),
		logger.String("technicianID", tech.ID),
		logger.Float64("score", c.Score),
		logger.Float64("performance", tech.PerformanceScore),
	)
	return types.Outcome{Technician: tech}, nil
}

func heldBy(job *model.Job, technicianID string) bool {
	if job.AssignedTechnicianID == technicianID {
		return true
	}
	for _, r := range job.Reassignments {
		if r.From == technicianID {
			return true
		}
	}
	return false
}

func rejectionKind(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrTerminalState):
		return "terminal"
	case errors.Is(err, lifecycle.ErrPartsNotReady):
		return "parts_not_ready"
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return "illegal"
	default:
		return "other"
	}
}
